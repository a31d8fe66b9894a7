// Package fdx — pull-коннектор перевозчика fdx (OAuth + батчевый JSON API).
package fdx

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

const (
	operatorCode = "fdx"
	maxBatchSize = 30
)

// 12 или 15 цифр.
var trackingNumRe = regexp.MustCompile(`^(\d{12}|\d{15})$`)

type Operator struct {
	client       *Client
	table        operator.StatusTable
	exceptions   operator.ExceptionTable
	descriptions models.StatusDescriptions
	now          func() time.Time
}

func New(client *Client, descriptions models.StatusDescriptions) *Operator {
	return &Operator{
		client:       client,
		table:        statusTable(),
		exceptions:   exceptionTable(),
		descriptions: descriptions,
		now:          time.Now,
	}
}

func (o *Operator) Code() string               { return operatorCode }
func (o *Operator) Mode() models.IngestionMode { return models.IngestionPull }
func (o *Operator) BatchSize() int             { return maxBatchSize }

func (o *Operator) ValidateTrackingNum(num string) error {
	if !trackingNumRe.MatchString(num) {
		return apperrors.ErrBadTrackingNum.WithDetail("fdx wants 12 or 15 digits, got %q", num)
	}
	return nil
}

// fdx не требует дизамбигуаторов.
func (o *Operator) ExtraParams(url.Values) (map[string]string, error) {
	return map[string]string{}, nil
}

func (o *Operator) ValidateParams(models.TrackingID, map[string]string) error { return nil }

func (o *Operator) ValidateStoredEntity(*models.Entity, map[string]string) error { return nil }

func (o *Operator) ProcessPushData(context.Context, []byte) ([]*models.Entity, int, error) {
	return nil, 0, apperrors.ErrPushNotSupported.WithDetail("fdx is pull-only")
}

func (o *Operator) PullFromSource(ctx context.Context, ids []models.TrackingID, _ map[string]string, updateMethod string) ([]*models.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	// Резать молча нельзя: хвост батча просто никогда не опросился бы.
	if len(ids) > maxBatchSize {
		return nil, apperrors.ErrBatchTooLarge.WithDetail("fdx accepts at most %d, got %d", maxBatchSize, len(ids))
	}

	byNum := make(map[string]models.TrackingID, len(ids))
	nums := make([]string, 0, len(ids))
	for _, id := range ids {
		byNum[id.TrackingNum] = id
		nums = append(nums, id.TrackingNum)
	}

	reply, err := o.client.Track(ctx, nums)
	if err != nil {
		return nil, err
	}

	var out []*models.Entity
	for _, res := range reply.Output.CompleteTrackResults {
		id, ok := byNum[res.TrackingNumber]
		if !ok {
			continue
		}
		entity := o.convert(id, res, updateMethod)
		if entity != nil {
			out = append(out, entity)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.ErrRouteNotFound.WithDetail("fdx returned no track results")
	}
	return out, nil
}

func (o *Operator) convert(id models.TrackingID, res completeTrackResult, updateMethod string) *models.Entity {
	entity := models.NewEntity(id, models.IngestionPull)
	now := o.now().UTC()

	for _, tr := range res.TrackResults {
		for _, scan := range tr.ScanEvents {
			when := parseScanDate(scan.Date, now)
			raw := operator.RawEvent{
				PhaseCode:     scan.DerivedStatusCode,
				EventCode:     scan.EventType,
				Description:   scan.EventDescription,
				Location:      scan.ScanLocation.String(),
				LocationType:  scan.LocationType,
				ExceptionCode: scan.ExceptionCode,
				When:          when,
			}
			status, overridden := o.table.Resolve(entity, raw, now)
			if overridden {
				slog.Warn("future-dated scan forced to information received",
					"operator", operatorCode, "tracking_id", id.String(), "scan_date", scan.Date)
			}

			what := scan.EventDescription
			if what == "" {
				what = o.descriptions.Describe(status)
			}
			src, _ := json.Marshal(scan)
			ev := &models.Event{
				EventID:      models.NewEventID(id, when, status),
				Status:       status,
				What:         what,
				Where:        raw.Location,
				When:         when,
				DataProvider: operatorCode,
				Additional:   models.Provenance(updateMethod, now),
				SourceData:   src,
			}
			if info, ok := o.exceptions.Lookup(scan.ExceptionCode); ok {
				ev.ExceptionCode = info.Code
				ev.ExceptionDesc = info.Desc
			}
			if customsEventTypes[scan.EventType] {
				entity.SetAdditional("crossBorder", "true")
			}
			entity.AddEvent(ev)
		}
	}

	if len(entity.Events) == 0 {
		return nil
	}
	entity.SortEvents()
	operator.Supplement(entity, id, supplementRules(), o.descriptions, operatorCode)
	entity.RefreshCompleted()
	return entity
}

func parseScanDate(raw string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
