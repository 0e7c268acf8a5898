package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ScheduleCost is the flat price of one generated schedule.
var ScheduleCost = decimal.NewFromInt(1)

// PriceTable holds per-call credit costs keyed by provider then model.
// Missing entries are free.
type PriceTable map[string]map[string]decimal.Decimal

func DefaultPriceTable() PriceTable {
	return PriceTable{
		"nano_api": {
			"gemini-2.5-flash-image":     decimal.RequireFromString("0.08"),
			"gemini-3-pro-image-preview": decimal.RequireFromString("0.35"),
		},
	}
}

// ParsePriceTable converts string amounts, as read from a config file.
func ParsePriceTable(raw map[string]map[string]string) (PriceTable, error) {
	out := make(PriceTable, len(raw))
	for providerID, models := range raw {
		out[providerID] = make(map[string]decimal.Decimal, len(models))
		for model, amount := range models {
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, fmt.Errorf("invalid credit cost for %s/%s: %w", providerID, model, err)
			}
			if d.IsNegative() {
				return nil, fmt.Errorf("negative credit cost for %s/%s", providerID, model)
			}
			out[providerID][model] = d
		}
	}
	return out, nil
}

func (t PriceTable) CostFor(providerID, modelID string) decimal.Decimal {
	models, ok := t[providerID]
	if !ok {
		return decimal.Zero
	}
	cost, ok := models[modelID]
	if !ok {
		return decimal.Zero
	}
	return cost
}

func (t PriceTable) HasEnoughCredits(balance decimal.Decimal, providerID, modelID string) bool {
	return balance.GreaterThanOrEqual(t.CostFor(providerID, modelID))
}
