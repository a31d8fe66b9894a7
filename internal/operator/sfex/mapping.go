package sfex

import (
	"strings"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
)

// Таблица маппинга sfex: opCode -> secondaryStatusCode -> канонический статус.
func statusTable() operator.StatusTable {
	return operator.StatusTable{
		// Приём отправления.
		"50": {
			"101": operator.Fixed(models.StatusReceivedByCarrier),
			"*":   operator.Fixed(models.StatusReceivedByCarrier),
		},
		// Убытие с узла.
		"30": {
			"*": operator.Fixed(models.StatusDepartedOrigin),
		},
		// Прибытие на узел: конечный город против транзитного хаба.
		"31": {
			"310": operator.Fixed(models.StatusInTransit),
			"311": operator.Fixed(models.StatusArrivedDestination),
			"*":   operator.Rule(arrivalStatus),
		},
		// Экспортный этап.
		"105": {
			"*": operator.Fixed(models.StatusLeftOriginCountry),
		},
		// Таможня.
		"204": {
			"*": operator.Rule(customsStatus),
		},
		// Прибыло в город назначения.
		"605": {
			"*": operator.Fixed(models.StatusArrivedDestination),
		},
		// Передано курьеру.
		"44": {
			"*": operator.Fixed(models.StatusOutForDelivery),
		},
		// Вручение.
		"80": {
			"8000": operator.Fixed(models.StatusDelivered),
			"*":    operator.Fixed(models.StatusDelivered),
		},
		// Неудачная попытка вручения.
		"70": {
			"*": operator.Fixed(models.StatusDeliveryFailed),
		},
		// Возврат/прекращение обработки.
		"99": {
			"*": operator.Fixed(models.StatusProcessStopped),
		},
	}
}

func arrivalStatus(_ *models.Entity, raw operator.RawEvent) int {
	name := strings.ToLower(raw.Description)
	if strings.Contains(name, "destination") || strings.Contains(name, "目的") {
		return models.StatusArrivedDestination
	}
	return models.StatusInTransit
}

func customsStatus(_ *models.Entity, raw operator.RawEvent) int {
	remark := strings.ToLower(raw.Description)
	if strings.Contains(remark, "released") || strings.Contains(remark, "放行") {
		return models.StatusCustomsReleased
	}
	return models.StatusCustomsInspection
}

// Таможенные opCode: сущность помечается как cross-border.
var customsOpCodes = map[string]bool{
	"105": true,
	"204": true,
}

// Исключения sfex ходят в secondaryStatusCode при opCode=70.
func exceptionTable() operator.ExceptionTable {
	return operator.ExceptionTable{
		"711": {Code: "E-REFUSED", Desc: "Recipient refused delivery"},
		"712": {Code: "E-NOT-HOME", Desc: "Recipient not available"},
		"713": {Code: "E-ADDRESS", Desc: "Address correction required"},
	}
}

func supplementRules(crossBorder bool) []operator.SupplementRule {
	rules := []operator.SupplementRule{
		{
			Missing:   models.StatusArrivedDestination,
			ImpliedBy: []int{models.StatusOutForDelivery, models.StatusDelivered},
		},
	}
	if crossBorder {
		rules = append(rules, operator.SupplementRule{
			Missing:   models.StatusCustomsReleased,
			ImpliedBy: []int{models.StatusOutForDelivery, models.StatusDelivered},
		})
	}
	return rules
}
