package operator

import (
	"log/slog"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
)

// SupplementRule: если присутствует событие с любым из ImpliedBy-статусов,
// веха Missing обязана существовать — иначе её синтезируем.
type SupplementRule struct {
	Missing   int
	ImpliedBy []int
}

// Supplement добирает пропущенные вехи до неподвижной точки. Запускается
// после полной конвертации сырых событий, не вперемешку с ней — иначе
// порядок вставки влияет на результат. Возвращает число добавленных событий.
func Supplement(e *models.Entity, id models.TrackingID, rules []SupplementRule, descriptions models.StatusDescriptions, provider string) int {
	added := 0
	for {
		addedThisPass := false
		e.SortEvents()
		for _, rule := range rules {
			if e.HasStatus(rule.Missing) {
				continue
			}
			anchor := firstImplying(e, rule.ImpliedBy)
			if anchor == nil {
				continue
			}
			when := anchor.When.Add(-time.Second)
			ev := &models.Event{
				EventID:      models.NewEventID(id, when, rule.Missing),
				Status:       rule.Missing,
				What:         descriptions.Describe(rule.Missing),
				Where:        anchor.Where,
				When:         when,
				DataProvider: provider,
				Additional:   models.Provenance(models.UpdateMethodSystem, time.Now().UTC()),
			}
			if e.AddEvent(ev) {
				slog.Info("supplement event synthesized",
					"tracking_id", id.String(), "status", rule.Missing, "anchor_status", anchor.Status)
				added++
				addedThisPass = true
				e.SortEvents()
			}
		}
		if !addedThisPass {
			return added
		}
	}
}

// firstImplying — самое раннее событие, подразумевающее пропущенную веху.
func firstImplying(e *models.Entity, statuses []int) *models.Event {
	for _, ev := range e.Events { // уже отсортированы по When
		for _, s := range statuses {
			if ev.Status == s {
				return ev
			}
		}
	}
	return nil
}
