package models

import (
	"sort"

	"github.com/google/uuid"
)

type IngestionMode string

const (
	IngestionPull IngestionMode = "pull"
	IngestionPush IngestionMode = "push"
)

// Entity — одно отправление со всей историей событий.
type Entity struct {
	UUID string `json:"uuid"` // назначается при создании, далее неизменен
	ID   string `json:"id"`   // TrackingID.String()
	Type string `json:"type"`

	IngestionMode IngestionMode `json:"ingestionMode"`
	Completed     bool          `json:"completed"`

	// Params — дизамбигуаторы, заданные вызывающей стороной (телефон и т.п.).
	Params map[string]string `json:"params,omitempty"`

	// Additional — производные аннотации (crossBorder и т.п.).
	Additional map[string]string `json:"additional,omitempty"`

	Events []*Event `json:"events"`
}

func NewEntity(id TrackingID, mode IngestionMode) *Entity {
	return &Entity{
		UUID:          uuid.NewString(),
		ID:            id.String(),
		Type:          "tracking",
		IngestionMode: mode,
	}
}

// SortEvents держит инвариант: события всегда по возрастанию When.
func (e *Entity) SortEvents() {
	sort.SliceStable(e.Events, func(i, j int) bool {
		return e.Events[i].When.Before(e.Events[j].When)
	})
}

// AddEvent вставляет событие, молча отбрасывая дубликаты по EventID:
// перевозчики регулярно присылают один и тот же скан повторно.
func (e *Entity) AddEvent(ev *Event) bool {
	if ev == nil {
		return false
	}
	for _, have := range e.Events {
		if have.EventID == ev.EventID {
			return false
		}
	}
	e.Events = append(e.Events, ev)
	return true
}

func (e *Entity) FirstEvent() *Event {
	if len(e.Events) == 0 {
		return nil
	}
	e.SortEvents()
	return e.Events[0]
}

func (e *Entity) LastEvent() *Event {
	if len(e.Events) == 0 {
		return nil
	}
	e.SortEvents()
	return e.Events[len(e.Events)-1]
}

// IsCompleted: есть хотя бы одно терминальное событие.
func (e *Entity) IsCompleted() bool {
	for _, ev := range e.Events {
		if IsTerminalStatus(ev.Status) {
			return true
		}
	}
	return false
}

// RefreshCompleted пересчитывает производный флаг после любых мутаций.
func (e *Entity) RefreshCompleted() {
	e.Completed = e.IsCompleted()
}

func (e *Entity) HasStatus(status int) bool {
	for _, ev := range e.Events {
		if ev.Status == status {
			return true
		}
	}
	return false
}

func (e *Entity) EventIDs() []string {
	out := make([]string, 0, len(e.Events))
	for _, ev := range e.Events {
		out = append(out, ev.EventID)
	}
	return out
}

func (e *Entity) SetAdditional(key, value string) {
	if e.Additional == nil {
		e.Additional = map[string]string{}
	}
	e.Additional[key] = value
}

func (e *Entity) IsCrossBorder() bool {
	return e.Additional["crossBorder"] == "true"
}
