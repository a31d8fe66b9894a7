package models

import (
	"strings"

	"github.com/BearBump/TrackHub/internal/apperrors"
)

// TrackingID — неизменяемый идентификатор трека: оператор + номер.
// Собирается только через ParseTrackingID, чтобы невалидное значение
// не могло появиться в системе.
type TrackingID struct {
	Operator    string
	TrackingNum string
}

// NumValidator проверяет формат номера у конкретного оператора.
type NumValidator func(num string) error

// ParseTrackingID разбирает строку вида "<operator>-<trackingNum>".
// validators — реестр операторов: ключ присутствует => оператор известен.
func ParseTrackingID(raw string, validators map[string]NumValidator) (TrackingID, error) {
	if raw == "" {
		return TrackingID{}, apperrors.ErrMissingTrackingID
	}
	op, num, ok := strings.Cut(raw, "-")
	if !ok || op == "" || num == "" {
		return TrackingID{}, apperrors.ErrMalformedID.WithDetail("got %q", raw)
	}
	validate, ok := validators[op]
	if !ok {
		return TrackingID{}, apperrors.ErrUnknownOperator.WithDetail("operator %q", op)
	}
	if validate != nil {
		if err := validate(num); err != nil {
			return TrackingID{}, err
		}
	}
	return TrackingID{Operator: op, TrackingNum: num}, nil
}

func (t TrackingID) String() string {
	return t.Operator + "-" + t.TrackingNum
}

func (t TrackingID) IsZero() bool {
	return t.Operator == "" && t.TrackingNum == ""
}
