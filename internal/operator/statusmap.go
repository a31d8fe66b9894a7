package operator

import (
	"time"

	"github.com/BearBump/TrackHub/internal/models"
)

// RawEvent — независимое от перевозчика представление одного сырого скана,
// достаточное для правил маппинга.
type RawEvent struct {
	PhaseCode     string // "major phase" код перевозчика (первый уровень таблицы)
	EventCode     string // event-type код (второй уровень)
	Description   string
	Location      string
	LocationType  string
	ExceptionCode string
	When          time.Time
}

// StatusMapping — значение таблицы: либо фиксированный канонический статус,
// либо правило, смотрящее в сырой скан.
type StatusMapping interface {
	Resolve(e *models.Entity, raw RawEvent) int
}

// Fixed — фиксированный статус.
type Fixed int

func (f Fixed) Resolve(*models.Entity, RawEvent) int { return int(f) }

// Rule — правило по содержимому скана (подстроки описания, локация, исключения).
type Rule func(e *models.Entity, raw RawEvent) int

func (r Rule) Resolve(e *models.Entity, raw RawEvent) int { return r(e, raw) }

// StatusTable — двухуровневая таблица: phase-код -> event-код -> маппинг.
type StatusTable map[string]map[string]StatusMapping

// Resolve выполняет поиск по таблице. Ненайденные комбинации деградируют в
// generic "logistics in progress": перевозчики добавляют новые коды, падать
// на них нельзя. Скан с временем в будущем принудительно становится
// "information received" независимо от кода; второй результат сообщает об
// этом, чтобы вызывающая сторона залогировала подмену.
func (t StatusTable) Resolve(e *models.Entity, raw RawEvent, now time.Time) (status int, futureOverride bool) {
	if raw.When.After(now) {
		return models.StatusInfoReceived, true
	}
	byEvent, ok := t[raw.PhaseCode]
	if !ok {
		return models.StatusLogisticsInProgress, false
	}
	m, ok := byEvent[raw.EventCode]
	if !ok {
		// Вторая попытка: wildcard внутри фазы.
		if m, ok = byEvent["*"]; !ok {
			return models.StatusLogisticsInProgress, false
		}
	}
	return m.Resolve(e, raw), false
}

// ExceptionTable — словарь исключений перевозчика -> канонические (code, desc).
type ExceptionTable map[string]ExceptionInfo

type ExceptionInfo struct {
	Code string
	Desc string
}

// Lookup: неизвестные коды всё равно всплывают как generic exception,
// а не теряются.
func (t ExceptionTable) Lookup(carrierCode string) (ExceptionInfo, bool) {
	if carrierCode == "" {
		return ExceptionInfo{}, false
	}
	if info, ok := t[carrierCode]; ok {
		return info, true
	}
	return ExceptionInfo{Code: "E-GEN", Desc: "Exception occurred"}, true
}
