package models

import (
	"testing"
	"time"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/stretchr/testify/require"
)

func sfValidator(num string) error {
	if len(num) != 15 || num[:2] != "SF" {
		return apperrors.ErrBadTrackingNum.WithDetail("sfex wants SF + 13 digits")
	}
	return nil
}

func testValidators() map[string]NumValidator {
	return map[string]NumValidator{
		"sfex": sfValidator,
		"fdx":  nil,
	}
}

func TestParseTrackingID_OK(t *testing.T) {
	id, err := ParseTrackingID("sfex-SF3122082959115", testValidators())
	require.NoError(t, err)
	require.Equal(t, "sfex", id.Operator)
	require.Equal(t, "SF3122082959115", id.TrackingNum)
	require.Equal(t, "sfex-SF3122082959115", id.String())
}

func TestParseTrackingID_Errors(t *testing.T) {
	v := testValidators()

	_, err := ParseTrackingID("", v)
	require.ErrorIs(t, err, apperrors.ErrMissingTrackingID)

	_, err = ParseTrackingID("sfex-SF123", v)
	require.Error(t, err)
	require.Equal(t, apperrors.CodeBadRequest, apperrors.Code(err))

	_, err = ParseTrackingID("bogus-123", v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown operator")

	_, err = ParseTrackingID("noseparator", v)
	require.Error(t, err)
}

func TestNewEventID_Deterministic(t *testing.T) {
	id, err := ParseTrackingID("fdx-123456789012", testValidators())
	require.NoError(t, err)

	when := time.Date(2024, 4, 1, 10, 30, 0, 0, time.UTC)
	a := NewEventID(id, when, StatusInTransit)
	b := NewEventID(id, when, StatusInTransit)
	require.Equal(t, a, b)

	// Миллисекунды не должны менять идентичность.
	c := NewEventID(id, when.Add(500*time.Millisecond), StatusInTransit)
	require.Equal(t, a, c)

	require.NotEqual(t, a, NewEventID(id, when, StatusDelivered))
	require.NotEqual(t, a, NewEventID(id, when.Add(time.Second), StatusInTransit))
}

func TestStatusClasses(t *testing.T) {
	require.True(t, IsMajorStatus(StatusDelivered))
	require.True(t, IsMajorStatus(StatusArrivedDestination))
	require.False(t, IsMajorStatus(StatusInTransit))

	require.True(t, IsMinorStatus(StatusInTransit))
	require.True(t, IsMinorStatus(StatusOutForDelivery))
	require.False(t, IsMinorStatus(StatusDelivered))
	require.False(t, IsMinorStatus(StatusLogisticsInProgress))

	require.True(t, IsTerminalStatus(StatusDelivered))
	require.True(t, IsTerminalStatus(StatusProcessStopped))
	require.False(t, IsTerminalStatus(StatusArrivedDestination))
}

func TestEntity_SortAndDedup(t *testing.T) {
	id, _ := ParseTrackingID("fdx-123456789012", testValidators())
	e := NewEntity(id, IngestionPull)
	require.NotEmpty(t, e.UUID)

	t1 := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)
	ev2 := &Event{EventID: NewEventID(id, t2, StatusInTransit), Status: StatusInTransit, When: t2}
	ev1 := &Event{EventID: NewEventID(id, t1, StatusReceivedByCarrier), Status: StatusReceivedByCarrier, When: t1}

	require.True(t, e.AddEvent(ev2))
	require.True(t, e.AddEvent(ev1))
	// Дубликат по EventID отбрасывается молча.
	require.False(t, e.AddEvent(&Event{EventID: ev1.EventID, Status: ev1.Status, When: t1}))
	require.Len(t, e.Events, 2)

	require.Equal(t, ev1.EventID, e.FirstEvent().EventID)
	require.Equal(t, ev2.EventID, e.LastEvent().EventID)
	require.True(t, e.Events[0].When.Before(e.Events[1].When))
}

func TestEntity_Completion(t *testing.T) {
	id, _ := ParseTrackingID("fdx-123456789012", testValidators())
	e := NewEntity(id, IngestionPull)
	now := time.Now().UTC()

	e.AddEvent(&Event{EventID: "a", Status: StatusInTransit, When: now})
	e.RefreshCompleted()
	require.False(t, e.Completed)

	e.AddEvent(&Event{EventID: "b", Status: StatusDelivered, When: now.Add(time.Hour)})
	e.RefreshCompleted()
	require.True(t, e.Completed)

	// Нетерминальное событие после доставки не снимает завершённость.
	e.AddEvent(&Event{EventID: "c", Status: StatusInTransit, When: now.Add(2 * time.Hour)})
	e.RefreshCompleted()
	require.True(t, e.Completed)
}

func TestStatusDescriptions(t *testing.T) {
	d := NewStatusDescriptions()
	require.Equal(t, "Delivered", d.Describe(StatusDelivered))
	require.Equal(t, "Unknown status", d.Describe(1234))
}
