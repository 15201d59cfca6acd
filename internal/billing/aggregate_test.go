package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amberbalance/pkg/models"
)

func costPtr(cents float64) *float64 {
	return &cents
}

func TestSummarizeDayImportAndExport(t *testing.T) {
	// 100c daily surcharge, $30/month subscription, 31-day January cycle
	agg := NewAggregator(100, 30.00)
	date := models.NewDate(2024, time.January, 5)

	records := []models.UsageRecord{
		{Date: date, ChannelType: models.ChannelGeneral, KWh: 10.5, Cost: costPtr(250)},
		{Date: date, ChannelType: models.ChannelFeedIn, KWh: -3.2, Cost: costPtr(-20)},
	}

	s := agg.SummarizeDay(date, records, 31)

	assert.Equal(t, "2.50", s.ImportValue.StringFixed(2))
	assert.Equal(t, "-0.20", s.ExportValue.StringFixed(2))
	assert.Equal(t, "2.30", s.EnergyTotal.StringFixed(2))
	assert.Equal(t, "1.00", s.Surcharge.StringFixed(2))
	assert.Equal(t, "0.97", s.Subscription.StringFixed(2)) // 30/31
	assert.Equal(t, "4.27", s.Position.StringFixed(2))

	assert.InDelta(t, 10.5, s.ImportKWh, 1e-9)
	assert.InDelta(t, 3.2, s.ExportKWh, 1e-9, "export kWh reported as magnitude")
}

func TestSummarizeDayInvariants(t *testing.T) {
	agg := NewAggregator(42, 12.34)
	date := models.NewDate(2024, time.March, 3)

	records := []models.UsageRecord{
		{Date: date, ChannelType: models.ChannelGeneral, KWh: 7.1, Cost: costPtr(133.7)},
		{Date: date, ChannelType: models.ChannelControlledLoad, KWh: 2.0, Cost: costPtr(41.2)},
		{Date: date, ChannelType: models.ChannelFeedIn, KWh: -1.5, Cost: costPtr(-11.9)},
	}

	s := agg.SummarizeDay(date, records, 31)

	assert.True(t, s.EnergyTotal.Equal(s.ImportValue.Add(s.ExportValue)),
		"energy total = import + export")
	assert.True(t, s.Position.Equal(s.EnergyTotal.Add(s.Surcharge).Add(s.Subscription)),
		"position = energy + surcharge + subscription")
}

func TestSummarizeDayControlledLoadIsImport(t *testing.T) {
	agg := NewAggregator(0, 0)
	date := models.NewDate(2024, time.May, 1)

	records := []models.UsageRecord{
		{Date: date, ChannelType: models.ChannelControlledLoad, KWh: 4.0, Cost: costPtr(80)},
	}

	s := agg.SummarizeDay(date, records, 31)

	assert.Equal(t, "0.80", s.ImportValue.StringFixed(2))
	assert.True(t, s.ExportValue.IsZero())
	assert.InDelta(t, 4.0, s.ImportKWh, 1e-9)
}

func TestSummarizeDaySkipsUnpricedRecords(t *testing.T) {
	agg := NewAggregator(0, 0)
	date := models.NewDate(2024, time.May, 2)

	records := []models.UsageRecord{
		{Date: date, ChannelType: models.ChannelGeneral, KWh: 5.0, Cost: costPtr(100)},
		{Date: date, ChannelType: models.ChannelGeneral, KWh: 99.0, Cost: nil},
	}

	s := agg.SummarizeDay(date, records, 31)

	assert.Equal(t, "1.00", s.ImportValue.StringFixed(2))
	assert.InDelta(t, 5.0, s.ImportKWh, 1e-9, "unpriced record excluded entirely")
}

func TestSummarizeDayRoundsPerChannel(t *testing.T) {
	agg := NewAggregator(0, 0)
	date := models.NewDate(2024, time.May, 3)

	// Each channel sums to x.xx5 dollars; rounding happens per channel,
	// after summation, not per record.
	records := []models.UsageRecord{
		{Date: date, ChannelType: models.ChannelGeneral, KWh: 1, Cost: costPtr(100.25)},
		{Date: date, ChannelType: models.ChannelGeneral, KWh: 1, Cost: costPtr(0.25)},
		{Date: date, ChannelType: models.ChannelControlledLoad, KWh: 1, Cost: costPtr(50.25)},
	}

	s := agg.SummarizeDay(date, records, 31)

	// general: 1.005 -> 1.01 (wrong if rounded per record: 1.00+0.00+...)
	// controlledLoad: 0.5025 -> 0.50
	assert.Equal(t, "1.51", s.ImportValue.StringFixed(2))
}

func TestPlaceholderCarriesFeesOnly(t *testing.T) {
	agg := NewAggregator(100, 31.00)
	date := models.NewDate(2024, time.January, 7)

	s := agg.Placeholder(date, 31)

	assert.True(t, s.ImportValue.IsZero())
	assert.True(t, s.ExportValue.IsZero())
	assert.True(t, s.EnergyTotal.IsZero())
	assert.Equal(t, "1.00", s.Surcharge.StringFixed(2))
	assert.Equal(t, "1.00", s.Subscription.StringFixed(2))
	assert.Equal(t, "2.00", s.Position.StringFixed(2))
	assert.Zero(t, s.ImportKWh)
	assert.Zero(t, s.ExportKWh)
}

func TestSummarizeAllGroupsByDate(t *testing.T) {
	agg := NewAggregator(0, 0)
	d1 := models.NewDate(2024, time.January, 1)
	d2 := models.NewDate(2024, time.January, 2)

	records := []models.UsageRecord{
		{Date: d1, ChannelType: models.ChannelGeneral, KWh: 1, Cost: costPtr(10)},
		{Date: d2, ChannelType: models.ChannelGeneral, KWh: 2, Cost: costPtr(20)},
		{Date: d1, ChannelType: models.ChannelGeneral, KWh: 3, Cost: costPtr(30)},
	}

	summaries := agg.SummarizeAll(records, 31)
	require.Len(t, summaries, 2)

	assert.Equal(t, "0.40", summaries[d1].ImportValue.StringFixed(2))
	assert.Equal(t, "0.20", summaries[d2].ImportValue.StringFixed(2))
}

func TestSubscriptionAmortizedOverCycleLength(t *testing.T) {
	agg := NewAggregator(0, 30.00)

	short := agg.Placeholder(models.NewDate(2024, time.February, 1), 29)
	long := agg.Placeholder(models.NewDate(2024, time.January, 1), 31)

	assert.True(t, short.Subscription.GreaterThan(long.Subscription),
		"shorter cycle spreads the same subscription over fewer days")

	// Sum over the cycle recovers the full subscription to the cent
	total := long.Subscription.Mul(decimal.NewFromInt(31))
	assert.Equal(t, "30.00", total.StringFixed(2))
}
