package billing

import (
	"github.com/shopspring/decimal"

	"amberbalance/pkg/models"
)

// ComputeTotals aggregates the ordered daily sequence into cycle totals and
// statistics. It always recomputes from scratch: incremental maintenance
// would drift whenever the cache resets mid-cycle.
func ComputeTotals(daily []models.DailySummary, cycleLength int) models.CycleTotals {
	if cycleLength < 1 {
		cycleLength = 1
	}

	totals := models.CycleTotals{
		ImportValue:         decimal.Zero,
		ExportValue:         decimal.Zero,
		EnergyTotal:         decimal.Zero,
		Surcharge:           decimal.Zero,
		Subscription:        decimal.Zero,
		Fees:                decimal.Zero,
		Position:            decimal.Zero,
		AverageDailyCost:    decimal.Zero,
		ProjectedMonthTotal: decimal.Zero,
		BestDay:             decimal.Zero,
		WorstDay:            decimal.Zero,
		MostAverageDay:      decimal.Zero,
		DaysRemaining:       cycleLength,
	}

	for _, d := range daily {
		totals.ImportKWh += d.ImportKWh
		totals.ExportKWh += d.ExportKWh
		totals.ImportValue = totals.ImportValue.Add(d.ImportValue)
		totals.ExportValue = totals.ExportValue.Add(d.ExportValue)
		totals.EnergyTotal = totals.EnergyTotal.Add(d.EnergyTotal)
		totals.Surcharge = totals.Surcharge.Add(d.Surcharge)
		totals.Subscription = totals.Subscription.Add(d.Subscription)
		totals.Fees = totals.Fees.Add(d.Surcharge).Add(d.Subscription)
		totals.Position = totals.Position.Add(d.Position)
	}

	// Net = export - import; positive means a net exporter.
	totals.NetKWh = totals.ExportKWh - totals.ImportKWh

	totals.DaysElapsed = len(daily)
	if totals.DaysElapsed > 0 {
		days := decimal.NewFromInt(int64(totals.DaysElapsed))
		length := decimal.NewFromInt(int64(cycleLength))
		totals.AverageDailyCost = totals.Position.Div(days)
		totals.ProjectedMonthTotal = totals.AverageDailyCost.Mul(length)
		totals.DaysRemaining = cycleLength - totals.DaysElapsed
		if totals.DaysRemaining < 0 {
			totals.DaysRemaining = 0
		}
	}

	if len(daily) > 0 {
		// Ties resolve to the earliest date: the sequence is ordered and only
		// a strict improvement replaces the current pick.
		best, worst, mostAvg := daily[0], daily[0], daily[0]
		for _, d := range daily[1:] {
			if d.Position.LessThan(best.Position) {
				best = d
			}
			if d.Position.GreaterThan(worst.Position) {
				worst = d
			}
			if d.Position.Abs().LessThan(mostAvg.Position.Abs()) {
				mostAvg = d
			}
		}
		totals.BestDay = best.Position
		totals.BestDayDate = datePtr(best.Date)
		totals.WorstDay = worst.Position
		totals.WorstDayDate = datePtr(worst.Date)
		totals.MostAverageDay = mostAvg.Position
		totals.MostAverageDayDate = datePtr(mostAvg.Date)

		for _, d := range daily {
			switch d.Position.Sign() {
			case -1:
				totals.DaysInCredit++
			case 1:
				totals.DaysOwing++
			}
			// exact-zero days count toward neither bucket
		}
	}

	return totals
}

func datePtr(d models.Date) *models.Date {
	return &d
}
