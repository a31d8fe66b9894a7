package models

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event — одна нормализованная веха трека.
type Event struct {
	EventID string `json:"eventId"`
	Status  int    `json:"status"`

	What  string    `json:"what"`
	Where string    `json:"where"`
	When  time.Time `json:"when"`
	Whom  string    `json:"whom,omitempty"`
	Notes string    `json:"notes,omitempty"`

	ExceptionCode string `json:"exceptionCode,omitempty"`
	ExceptionDesc string `json:"exceptionDesc,omitempty"`

	NotificationCode string `json:"notificationCode,omitempty"`
	NotificationDesc string `json:"notificationDesc,omitempty"`

	DataProvider string `json:"dataProvider"`

	// Additional — провенанс (updateMethod, updateTime и т.п.).
	Additional map[string]string `json:"additional,omitempty"`

	// SourceData — сырой payload перевозчика, хранится для аудита.
	// Отдаётся клиенту только при fulldata-запросе.
	SourceData json.RawMessage `json:"sourceData,omitempty"`
}

// NewEventID — детерминированный идентификатор события: один и тот же сырой
// скан всегда даёт один и тот же id, что делает повторную загрузку идемпотентной.
// Время обрезается до секунд: миллисекунды у перевозчиков плавают между ответами.
func NewEventID(id TrackingID, when time.Time, status int) string {
	seed := fmt.Sprintf("%s|%d|%d", id.String(), when.Unix(), status)
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])
}

const (
	UpdateMethodScheduledPull = "scheduled-pull"
	UpdateMethodManualPull    = "manual-pull"
	UpdateMethodPush          = "push"
	UpdateMethodSystem        = "system-generated"
)

// Provenance собирает стандартный блок Additional для события.
func Provenance(updateMethod string, at time.Time) map[string]string {
	return map[string]string{
		"updateMethod": updateMethod,
		"updateTime":   at.UTC().Format(time.RFC3339),
	}
}
