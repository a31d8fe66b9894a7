package eg1

import (
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
)

// Таблица маппинга eg1: phase -> code -> канонический статус.
func statusTable() operator.StatusTable {
	return operator.StatusTable{
		"ACCEPTANCE": {
			"INFO_RECEIVED": operator.Fixed(models.StatusInfoReceived),
			"POSTED":        operator.Fixed(models.StatusReceivedByCarrier),
			"*":             operator.Fixed(models.StatusReceivedByCarrier),
		},
		"TRANSIT": {
			"DEP_ORIGIN":   operator.Fixed(models.StatusDepartedOrigin),
			"EXPORT":       operator.Fixed(models.StatusLeftOriginCountry),
			"LINEHAUL":     operator.Fixed(models.StatusInTransit),
			"ARR_DEST":     operator.Fixed(models.StatusArrivedDestination),
			"CUSTOMS_HOLD": operator.Fixed(models.StatusCustomsInspection),
			"CUSTOMS_OK":   operator.Fixed(models.StatusCustomsReleased),
			"*":            operator.Fixed(models.StatusInTransit),
		},
		"DELIVERY": {
			"OUT_FOR_DELIVERY": operator.Fixed(models.StatusOutForDelivery),
			"DELIVERED":        operator.Fixed(models.StatusDelivered),
			"ATTEMPT_FAIL":     operator.Fixed(models.StatusDeliveryFailed),
			"*":                operator.Fixed(models.StatusOutForDelivery),
		},
		"FINAL": {
			"RETURNED": operator.Fixed(models.StatusProcessStopped),
			"*":        operator.Fixed(models.StatusProcessStopped),
		},
	}
}

func exceptionTable() operator.ExceptionTable {
	return operator.ExceptionTable{
		"ADDR":    {Code: "E-ADDRESS", Desc: "Address correction required"},
		"REFUSED": {Code: "E-REFUSED", Desc: "Recipient refused delivery"},
		"CUSTOMS": {Code: "E-CUSTOMS", Desc: "Held by customs"},
	}
}

func supplementRules() []operator.SupplementRule {
	return []operator.SupplementRule{
		{
			Missing:   models.StatusArrivedDestination,
			ImpliedBy: []int{models.StatusOutForDelivery, models.StatusDelivered},
		},
	}
}
