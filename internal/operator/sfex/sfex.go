// Package sfex — pull-коннектор перевозчика sfex (подписанный form API,
// обязательный телефон-дизамбигуатор, по одному треку за запрос).
package sfex

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

const operatorCode = "sfex"

// "SF" + ровно 13 цифр.
var trackingNumRe = regexp.MustCompile(`^SF\d{13}$`)

var digitsRe = regexp.MustCompile(`\d`)

// acceptTime приходит в китайском локальном времени.
var cst = time.FixedZone("CST", 8*60*60)

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

// sfex отдаёт маршруты по одному треку за вызов.
func (o *Operator) BatchSize() int { return 1 }

func (o *Operator) ValidateTrackingNum(num string) error {
	if !trackingNumRe.MatchString(num) {
		return apperrors.ErrBadTrackingNum.WithDetail("sfex wants SF followed by 13 digits, got %q", num)
	}
	return nil
}

func (o *Operator) ExtraParams(query url.Values) (map[string]string, error) {
	out := map[string]string{}
	if phone := query.Get("phone"); phone != "" {
		out["phone"] = phone
	}
	return out, nil
}

func (o *Operator) ValidateParams(id models.TrackingID, params map[string]string) error {
	if params["phone"] == "" {
		return apperrors.ErrParamRequired.WithDetail("sfex requires the recipient phone for %s", id.String())
	}
	return nil
}

// ValidateStoredEntity не даёт выдать сущность, сохранённую под другим
// телефоном: запрос с чужим номером — ошибка вызывающей стороны.
func (o *Operator) ValidateStoredEntity(e *models.Entity, params map[string]string) error {
	if e == nil {
		return nil
	}
	stored := e.Params["phone"]
	if stored != "" && stored != params["phone"] {
		return apperrors.ErrParamMismatch.WithDetail("phone does not match the one stored for %s", e.ID)
	}
	return nil
}

func (o *Operator) ProcessPushData(context.Context, []byte) ([]*models.Entity, int, error) {
	return nil, 0, apperrors.ErrPushNotSupported.WithDetail("sfex is pull-only")
}

func (o *Operator) PullFromSource(ctx context.Context, ids []models.TrackingID, params map[string]string, updateMethod string) ([]*models.Entity, error) {
	var out []*models.Entity
	for _, id := range ids {
		if err := o.ValidateParams(id, params); err != nil {
			return nil, err
		}
		routes, err := o.client.SearchRoutes(ctx, id.TrackingNum, lastFourDigits(params["phone"]))
		if err != nil {
			return nil, err
		}
		entity := o.convert(id, routes, params, updateMethod)
		if entity != nil {
			out = append(out, entity)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.ErrRouteNotFound.WithDetail("sfex returned no routes")
	}
	return out, nil
}

func (o *Operator) convert(id models.TrackingID, routes []route, params map[string]string, updateMethod string) *models.Entity {
	entity := models.NewEntity(id, models.IngestionPull)
	entity.Params = map[string]string{"phone": params["phone"]}
	now := o.now().UTC()

	for _, r := range routes {
		when := parseAcceptTime(r.AcceptTime, now)
		raw := operator.RawEvent{
			PhaseCode:   r.OpCode,
			EventCode:   r.SecondaryStatusCode,
			Description: r.Remark,
			Location:    r.AcceptAddress,
			When:        when,
		}
		status, overridden := o.table.Resolve(entity, raw, now)
		if overridden {
			slog.Warn("future-dated scan forced to information received",
				"operator", operatorCode, "tracking_id", id.String(), "accept_time", r.AcceptTime)
		}

		what := r.Remark
		if what == "" {
			what = r.SecondaryStatusName
		}
		if what == "" {
			what = o.descriptions.Describe(status)
		}
		src, _ := json.Marshal(r)
		ev := &models.Event{
			EventID:      models.NewEventID(id, when, status),
			Status:       status,
			What:         what,
			Where:        r.AcceptAddress,
			When:         when,
			DataProvider: operatorCode,
			Additional:   models.Provenance(updateMethod, now),
			SourceData:   src,
		}
		if r.OpCode == "70" {
			if info, ok := o.exceptions.Lookup(r.SecondaryStatusCode); ok {
				ev.ExceptionCode = info.Code
				ev.ExceptionDesc = info.Desc
			}
		}
		if customsOpCodes[r.OpCode] {
			entity.SetAdditional("crossBorder", "true")
		}
		entity.AddEvent(ev)
	}

	if len(entity.Events) == 0 {
		return nil
	}
	entity.SortEvents()
	operator.Supplement(entity, id, supplementRules(entity.IsCrossBorder()), o.descriptions, operatorCode)
	entity.RefreshCompleted()
	return entity
}

func parseAcceptTime(raw string, fallback time.Time) time.Time {
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, cst); err == nil {
		return t.UTC()
	}
	return fallback
}

func lastFourDigits(phone string) string {
	digits := digitsRe.FindAllString(phone, -1)
	if len(digits) < 4 {
		return phone
	}
	out := ""
	for _, d := range digits[len(digits)-4:] {
		out += d
	}
	return out
}
