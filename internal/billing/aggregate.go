package billing

import (
	"math"

	"github.com/shopspring/decimal"

	"amberbalance/pkg/models"
)

var oneHundred = decimal.NewFromInt(100)

// Aggregator turns raw interval records into daily summaries. All money
// arithmetic stays in decimals; conversion to floats happens only when a
// payload is marshalled.
type Aggregator struct {
	surcharge    decimal.Decimal // flat daily surcharge in dollars
	subscription decimal.Decimal // monthly subscription in dollars
}

// NewAggregator builds an aggregator from the configured fees: a daily
// surcharge in cents and a monthly subscription in dollars.
func NewAggregator(surchargeCents, subscription float64) *Aggregator {
	return &Aggregator{
		surcharge:    decimal.NewFromFloat(surchargeCents).Div(oneHundred),
		subscription: decimal.NewFromFloat(subscription),
	}
}

// SummarizeDay aggregates the records for a single calendar day. Records
// without a cost are skipped; the retailer has not priced them yet.
// cycleDays is the length of the current billing cycle, used to amortize the
// monthly subscription evenly across the cycle's actual day count.
func (a *Aggregator) SummarizeDay(date models.Date, records []models.UsageRecord, cycleDays int) models.DailySummary {
	if len(records) == 0 {
		return a.Placeholder(date, cycleDays)
	}

	byChannel := make(map[string]decimal.Decimal)
	var importKWh, exportKWh float64

	for _, rec := range records {
		if rec.Cost == nil {
			continue
		}
		cost := decimal.NewFromFloat(*rec.Cost).Div(oneHundred)
		byChannel[rec.ChannelType] = byChannel[rec.ChannelType].Add(cost)
		if rec.IsExport() {
			exportKWh += math.Abs(rec.KWh)
		} else {
			importKWh += rec.KWh
		}
	}

	// Each channel subtotal is rounded to whole cents before classification;
	// the rounded subtotals are what the bill is built from.
	importValue := decimal.Zero
	exportValue := decimal.Zero
	for channelType, total := range byChannel {
		rounded := total.Round(2)
		if channelType == models.ChannelFeedIn {
			exportValue = exportValue.Add(rounded)
		} else {
			importValue = importValue.Add(rounded)
		}
	}

	energyTotal := importValue.Add(exportValue)
	surcharge := a.surcharge
	subscription := a.dailySubscription(cycleDays)
	position := energyTotal.Add(surcharge).Add(subscription)

	return models.DailySummary{
		Date:         date,
		ImportKWh:    importKWh,
		ExportKWh:    exportKWh,
		ImportValue:  importValue,
		ExportValue:  exportValue,
		EnergyTotal:  energyTotal,
		Surcharge:    surcharge,
		Subscription: subscription,
		Position:     position,
	}
}

// Placeholder synthesizes a zero-usage summary for a day with no records. A
// day with no usage still accrues the fixed fees.
func (a *Aggregator) Placeholder(date models.Date, cycleDays int) models.DailySummary {
	surcharge := a.surcharge
	subscription := a.dailySubscription(cycleDays)
	return models.DailySummary{
		Date:         date,
		ImportValue:  decimal.Zero,
		ExportValue:  decimal.Zero,
		EnergyTotal:  decimal.Zero,
		Surcharge:    surcharge,
		Subscription: subscription,
		Position:     surcharge.Add(subscription),
	}
}

// SummarizeAll groups records by date and summarizes each day that has at
// least one record.
func (a *Aggregator) SummarizeAll(records []models.UsageRecord, cycleDays int) map[models.Date]models.DailySummary {
	byDate := make(map[models.Date][]models.UsageRecord)
	for _, rec := range records {
		if rec.Date.IsZero() {
			continue
		}
		byDate[rec.Date] = append(byDate[rec.Date], rec)
	}

	summaries := make(map[models.Date]models.DailySummary, len(byDate))
	for date, dayRecords := range byDate {
		summaries[date] = a.SummarizeDay(date, dayRecords, cycleDays)
	}
	return summaries
}

func (a *Aggregator) dailySubscription(cycleDays int) decimal.Decimal {
	if cycleDays < 1 {
		cycleDays = 1
	}
	return a.subscription.Div(decimal.NewFromInt(int64(cycleDays)))
}
