package fdx

import (
	"strings"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
)

// Таблица маппинга fdx: derivedStatusCode -> eventType -> канонический статус.
// Ключи совпадают со значениями wire-контракта байт-в-байт.
func statusTable() operator.StatusTable {
	return operator.StatusTable{
		// Label created, parcel not yet in the network.
		"IN": {
			"OC": operator.Fixed(models.StatusInfoReceived),
			"*":  operator.Fixed(models.StatusInfoReceived),
		},
		"PU": {
			"PU": operator.Fixed(models.StatusReceivedByCarrier),
			"DR": operator.Fixed(models.StatusReceivedByCarrier),
			"*":  operator.Fixed(models.StatusReceivedByCarrier),
		},
		"IT": {
			"DP": operator.Fixed(models.StatusDepartedOrigin),
			"IX": operator.Fixed(models.StatusLeftOriginCountry),
			"AR": operator.Rule(arrivalStatus),
			"AF": operator.Fixed(models.StatusInTransit),
			"IT": operator.Fixed(models.StatusInTransit),
			"CC": operator.Fixed(models.StatusCustomsReleased),
			"CD": operator.Fixed(models.StatusCustomsInspection),
			"OD": operator.Fixed(models.StatusOutForDelivery),
			"*":  operator.Fixed(models.StatusInTransit),
		},
		"DL": {
			"DL": operator.Fixed(models.StatusDelivered),
			"*":  operator.Fixed(models.StatusDelivered),
		},
		"DE": {
			"DE": operator.Fixed(models.StatusDeliveryFailed),
			"*":  operator.Fixed(models.StatusDeliveryFailed),
		},
		"CA": {
			"*": operator.Fixed(models.StatusProcessStopped),
		},
		"RS": {
			"*": operator.Fixed(models.StatusProcessStopped),
		},
		"HL": {
			"*": operator.Fixed(models.StatusInTransit),
		},
	}
}

// arrivalStatus: AR-скан значит "прибыло на конечную станцию" только если это
// станция назначения; промежуточные хабы остаются in transit.
func arrivalStatus(_ *models.Entity, raw operator.RawEvent) int {
	if raw.LocationType == "DESTINATION_FEDEX_FACILITY" {
		return models.StatusArrivedDestination
	}
	if strings.Contains(strings.ToLower(raw.Description), "destination") {
		return models.StatusArrivedDestination
	}
	return models.StatusInTransit
}

// Коды eventType, означающие таможенную фазу: метим сущность как cross-border.
var customsEventTypes = map[string]bool{
	"IX": true,
	"CC": true,
	"CD": true,
}

func exceptionTable() operator.ExceptionTable {
	return operator.ExceptionTable{
		"07": {Code: "E-REFUSED", Desc: "Recipient refused delivery"},
		"08": {Code: "E-NOT-HOME", Desc: "Recipient not available"},
		"17": {Code: "E-ADDRESS", Desc: "Address correction required"},
		"67": {Code: "E-WEATHER", Desc: "Delay due to weather"},
		"A3": {Code: "E-CUSTOMS", Desc: "Held by customs"},
	}
}

func supplementRules() []operator.SupplementRule {
	return []operator.SupplementRule{
		{
			Missing:   models.StatusArrivedDestination,
			ImpliedBy: []int{models.StatusOutForDelivery, models.StatusDelivered},
		},
		// Любая веха после приёма означает, что приём был.
		{
			Missing: models.StatusReceivedByCarrier,
			ImpliedBy: []int{
				models.StatusDepartedOrigin, models.StatusLeftOriginCountry,
				models.StatusInTransit, models.StatusArrivedDestination,
				models.StatusCustomsInspection, models.StatusCustomsReleased,
				models.StatusOutForDelivery, models.StatusDelivered,
				models.StatusDeliveryFailed,
			},
		},
	}
}
