// Package messages — контракты kafka-сообщений между планировщиком и API.
package messages

import "time"

// EntityUpdated публикуется после каждой реконсиляции, изменившей сущность.
// API-инстансы по нему инвалидируют свой кэш.
type EntityUpdated struct {
	TrackingID string `json:"trackingId"`
	UUID       string `json:"uuid"`
	Operator   string `json:"operator"`

	Completed  bool `json:"completed"`
	LastStatus int  `json:"lastStatus,omitempty"`

	AddedEventIDs   []string `json:"addedEventIds,omitempty"`
	RemovedEventIDs []string `json:"removedEventIds,omitempty"`

	CheckedAt time.Time `json:"checkedAt"`
}
