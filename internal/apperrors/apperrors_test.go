package apperrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCode_Unwraps(t *testing.T) {
	err := errors.Wrap(ErrRouteNotFound.WithDetail("fdx said no"), "pull from source")
	require.Equal(t, CodeNotFound, Code(err))
	require.True(t, IsNotFound(err))
	require.True(t, IsClientError(err))
}

func TestCode_Plain(t *testing.T) {
	require.Equal(t, CodeInternal, Code(errors.New("boom")))
	require.False(t, IsClientError(errors.New("boom")))
	require.Equal(t, 0, Code(nil))
}

func TestWithDetail_DoesNotMutateRegistry(t *testing.T) {
	d := ErrUnknownOperator.WithDetail("operator %q", "xyz")
	require.Contains(t, d.Error(), `operator "xyz"`)
	require.Empty(t, ErrUnknownOperator.Detail)
	require.Equal(t, ErrUnknownOperator.Code, d.Code)
}
