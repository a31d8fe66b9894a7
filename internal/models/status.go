package models

// Канонические статусы трекинга. Вся нормализация перевозчиков сводится к ним.
// Кратные 100 — "major" вехи, кратные 50 (но не 100) — "minor", остальное — детализация.
const (
	StatusInfoReceived        = 3000 // carrier got the data, parcel not yet in the network
	StatusLogisticsInProgress = 3002 // generic fallback for unmapped carrier codes
	StatusReceivedByCarrier   = 3100
	StatusDepartedOrigin      = 3150
	StatusLeftOriginCountry   = 3200
	StatusInTransit           = 3250
	StatusArrivedDestination  = 3300
	StatusCustomsInspection   = 3350
	StatusCustomsReleased     = 3400
	StatusOutForDelivery      = 3450
	StatusDelivered           = 3500
	StatusDeliveryFailed      = 3550
	StatusProcessStopped      = 3600
)

// StatusDescriptions — неизменяемый реестр описаний. Строится один раз,
// передаётся по ссылке (не глобальный мутабельный синглтон).
type StatusDescriptions map[int]string

func NewStatusDescriptions() StatusDescriptions {
	return StatusDescriptions{
		StatusInfoReceived:        "Information received",
		StatusLogisticsInProgress: "Logistics in progress",
		StatusReceivedByCarrier:   "Received by carrier",
		StatusDepartedOrigin:      "Departed origin facility",
		StatusLeftOriginCountry:   "Left country of origin",
		StatusInTransit:           "In transit",
		StatusArrivedDestination:  "Arrived at destination",
		StatusCustomsInspection:   "Customs inspection",
		StatusCustomsReleased:     "Released by customs",
		StatusOutForDelivery:      "Out for delivery",
		StatusDelivered:           "Delivered",
		StatusDeliveryFailed:      "Delivery attempt failed",
		StatusProcessStopped:      "Logistics process stopped",
	}
}

func (d StatusDescriptions) Describe(status int) string {
	if s, ok := d[status]; ok {
		return s
	}
	return "Unknown status"
}

// IsMajorStatus: кратные 100 — ключевые вехи маршрута.
func IsMajorStatus(status int) bool {
	return status%100 == 0
}

// IsMinorStatus: кратные 50, но не 100.
func IsMinorStatus(status int) bool {
	return status%50 == 0 && status%100 != 0
}

// IsTerminalStatus — статусы, после которых трек считается завершённым.
func IsTerminalStatus(status int) bool {
	return status == StatusDelivered || status == StatusProcessStopped
}
