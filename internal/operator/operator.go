// Package operator defines the per-carrier connector contract and the
// registry of active operators built once at startup.
package operator

import (
	"context"
	"net/url"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/models"
)

// Operator — коннектор одного перевозчика. Переводит сырые данные перевозчика
// в канонические Entity/Event.
type Operator interface {
	Code() string
	Mode() models.IngestionMode

	// BatchSize — максимум треков в одном pull-запросе к перевозчику.
	BatchSize() int

	ValidateTrackingNum(num string) error

	// ExtraParams выбирает из query-параметров подмножество, нужное этому
	// перевозчику (например, телефон получателя).
	ExtraParams(query url.Values) (map[string]string, error)

	// ValidateParams проверяет, что обязательные дизамбигуаторы переданы.
	ValidateParams(id models.TrackingID, params map[string]string) error

	// ValidateStoredEntity не даёт отдать сущность, сохранённую под другими
	// параметрами (чужой телефон и т.п.).
	ValidateStoredEntity(e *models.Entity, params map[string]string) error

	PullFromSource(ctx context.Context, ids []models.TrackingID, params map[string]string, updateMethod string) ([]*models.Entity, error)

	// ProcessPushData — только для push-операторов; pull-only возвращают
	// apperrors.ErrPushNotSupported. rejected — число отброшенных битых
	// отправлений: одно из них не валит остальной батч.
	ProcessPushData(ctx context.Context, payload []byte) (entities []*models.Entity, rejected int, err error)
}

// Registry — неизменяемая карта активных операторов. Оператор без валидных
// креденшелов в конфиге сюда просто не попадает.
type Registry struct {
	ops   map[string]Operator
	order []string
}

func NewRegistry(ops ...Operator) *Registry {
	r := &Registry{ops: make(map[string]Operator, len(ops))}
	for _, op := range ops {
		if op == nil {
			continue
		}
		if _, dup := r.ops[op.Code()]; dup {
			continue
		}
		r.ops[op.Code()] = op
		r.order = append(r.order, op.Code())
	}
	return r
}

func (r *Registry) Get(code string) (Operator, error) {
	op, ok := r.ops[code]
	if !ok {
		return nil, apperrors.ErrUnknownOperator.WithDetail("operator %q", code)
	}
	return op, nil
}

func (r *Registry) Has(code string) bool {
	_, ok := r.ops[code]
	return ok
}

// Validators — реестр для models.ParseTrackingID.
func (r *Registry) Validators() map[string]models.NumValidator {
	out := make(map[string]models.NumValidator, len(r.ops))
	for code, op := range r.ops {
		out[code] = op.ValidateTrackingNum
	}
	return out
}

// PullOperators — операторы, которых опрашивает планировщик, в порядке регистрации.
func (r *Registry) PullOperators() []Operator {
	var out []Operator
	for _, code := range r.order {
		if op := r.ops[code]; op.Mode() == models.IngestionPull {
			out = append(out, op)
		}
	}
	return out
}
