// Package eg1 — push-коннектор: перевозчик сам присылает пачки событий,
// pull у него не поддерживается.
package eg1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
)

const operatorCode = "eg1"

// UPU S10: две буквы, девять цифр, две буквы страны.
var trackingNumRe = regexp.MustCompile(`^[A-Z]{2}\d{9}[A-Z]{2}$`)

type Operator struct {
	table        operator.StatusTable
	descriptions models.StatusDescriptions
	now          func() time.Time
}

func New(descriptions models.StatusDescriptions) *Operator {
	return &Operator{
		table:        statusTable(),
		descriptions: descriptions,
		now:          time.Now,
	}
}

func (o *Operator) Code() string               { return operatorCode }
func (o *Operator) Mode() models.IngestionMode { return models.IngestionPush }
func (o *Operator) BatchSize() int             { return 1 }

func (o *Operator) ValidateTrackingNum(num string) error {
	if !trackingNumRe.MatchString(num) {
		return apperrors.ErrBadTrackingNum.WithDetail("eg1 wants an S10 number, got %q", num)
	}
	return nil
}

func (o *Operator) ExtraParams(url.Values) (map[string]string, error) {
	return map[string]string{}, nil
}

func (o *Operator) ValidateParams(models.TrackingID, map[string]string) error { return nil }

func (o *Operator) ValidateStoredEntity(*models.Entity, map[string]string) error { return nil }

func (o *Operator) PullFromSource(context.Context, []models.TrackingID, map[string]string, string) ([]*models.Entity, error) {
	return nil, apperrors.ErrPullNotSupported.WithDetail("eg1 is push-only")
}

// Формат push-пейлоада eg1.
type pushPayload struct {
	Shipments []pushShipment `json:"shipments"`
}

type pushShipment struct {
	TrackingNo string      `json:"trackingNo"`
	Events     []pushEvent `json:"events"`
}

type pushEvent struct {
	Phase     string `json:"phase"`
	Code      string `json:"code"`
	Desc      string `json:"desc"`
	Location  string `json:"location"`
	Time      string `json:"time"`
	Exception string `json:"exception"`
}

func (o *Operator) ProcessPushData(_ context.Context, payload []byte) ([]*models.Entity, int, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, 0, apperrors.New(apperrors.CodeBadRequest, "eg1 push payload is not valid JSON").WithDetail("%v", err)
	}
	if len(p.Shipments) == 0 {
		return nil, 0, apperrors.New(apperrors.CodeBadRequest, "eg1 push payload has no shipments")
	}

	now := o.now().UTC()
	var out []*models.Entity
	rejected := 0
	for _, sh := range p.Shipments {
		// Битое отправление не должно терять остальные: пропускаем и считаем.
		if err := o.ValidateTrackingNum(sh.TrackingNo); err != nil {
			slog.Warn("skip pushed shipment",
				"operator", operatorCode, "tracking_num", sh.TrackingNo, "error", err.Error())
			rejected++
			continue
		}
		id := models.TrackingID{Operator: operatorCode, TrackingNum: sh.TrackingNo}
		entity := o.convert(id, sh, now)
		if entity == nil {
			slog.Warn("skip pushed shipment without events",
				"operator", operatorCode, "tracking_num", sh.TrackingNo)
			rejected++
			continue
		}
		out = append(out, entity)
	}
	return out, rejected, nil
}

func (o *Operator) convert(id models.TrackingID, sh pushShipment, now time.Time) *models.Entity {
	entity := models.NewEntity(id, models.IngestionPush)

	for _, pe := range sh.Events {
		when := parseEventTime(pe.Time, now)
		raw := operator.RawEvent{
			PhaseCode:     pe.Phase,
			EventCode:     pe.Code,
			Description:   pe.Desc,
			Location:      pe.Location,
			ExceptionCode: pe.Exception,
			When:          when,
		}
		status, overridden := o.table.Resolve(entity, raw, now)
		if overridden {
			slog.Warn("future-dated scan forced to information received",
				"operator", operatorCode, "tracking_id", id.String(), "event_time", pe.Time)
		}

		what := pe.Desc
		if what == "" {
			what = o.descriptions.Describe(status)
		}
		src, _ := json.Marshal(pe)
		ev := &models.Event{
			EventID:      models.NewEventID(id, when, status),
			Status:       status,
			What:         what,
			Where:        pe.Location,
			When:         when,
			DataProvider: operatorCode,
			Additional:   models.Provenance(models.UpdateMethodPush, now),
			SourceData:   src,
		}
		if pe.Exception != "" {
			if info, ok := exceptionTable().Lookup(pe.Exception); ok {
				ev.ExceptionCode = info.Code
				ev.ExceptionDesc = info.Desc
			}
		}
		entity.AddEvent(ev)
	}

	if len(entity.Events) == 0 {
		return nil
	}
	entity.SortEvents()
	operator.Supplement(entity, id, supplementRules(), o.descriptions, operatorCode)
	entity.RefreshCompleted()
	return entity
}

func parseEventTime(raw string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return fallback
}
