package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amberbalance/pkg/models"
)

type fetchCall struct {
	start, end models.Date
}

// fakeSource serves canned records keyed by date and remembers every fetch
// range it was asked for.
type fakeSource struct {
	mu      sync.Mutex
	records map[models.Date][]models.UsageRecord
	calls   []fetchCall
	err     error

	// blockCh, when set, is closed-waited-on inside FetchUsage so a test can
	// hold a refresh in flight.
	blockCh chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{records: make(map[models.Date][]models.UsageRecord)}
}

func (f *fakeSource) addDay(date models.Date, costCents float64) {
	f.records[date] = append(f.records[date], models.UsageRecord{
		Date:        date,
		ChannelType: models.ChannelGeneral,
		KWh:         1,
		Cost:        &costCents,
	})
}

func (f *fakeSource) FetchUsage(ctx context.Context, siteID string, start, end models.Date) ([]models.UsageRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{start: start, end: end})
	blockCh := f.blockCh
	err := f.err
	f.mu.Unlock()

	if blockCh != nil {
		<-blockCh
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UsageRecord
	for date := start; !date.After(end); date = date.AddDays(1) {
		out = append(out, f.records[date]...)
	}
	return out, nil
}

func (f *fakeSource) FetchSiteInfo(ctx context.Context, siteID string) (*models.SiteInfo, error) {
	return &models.SiteInfo{ID: siteID}, nil
}

func (f *fakeSource) fetchCalls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func newTestEngine(source UsageSource, today models.Date) *Engine {
	return NewEngine(source, EngineOptions{
		SiteID:          "site-1",
		BillingStartDay: 1,
		SurchargeCents:  0,
		Subscription:    0,
		Location:        time.UTC,
		Now: func() time.Time {
			return time.Date(today.Year, today.Month, today.Day, 12, 0, 0, 0, time.UTC)
		},
	})
}

func TestRefreshColdCacheFetchesWholeCycle(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 12; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}

	engine := newTestEngine(source, models.NewDate(2024, time.January, 13))
	payload, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	calls := source.fetchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.NewDate(2024, time.January, 1), calls[0].start)
	assert.Equal(t, models.NewDate(2024, time.January, 12), calls[0].end, "today is excluded")

	assert.Equal(t, models.NewDate(2024, time.January, 1), payload.RangeStart)
	assert.Equal(t, models.NewDate(2024, time.January, 12), payload.RangeEnd)
	require.Len(t, payload.Daily, 12)
	assert.Equal(t, "12.00", payload.Totals.Position.StringFixed(2))
	assert.Equal(t, StateReady, engine.State())
}

func TestRefreshWarmCacheFetchesOnlyMissingDays(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 10; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}

	engine := newTestEngine(source, models.NewDate(2024, time.January, 11))
	_, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	// Two days pass, two more days of usage appear upstream
	source.addDay(models.NewDate(2024, time.January, 11), 100)
	source.addDay(models.NewDate(2024, time.January, 12), 100)
	engine.now = func() time.Time {
		return time.Date(2024, time.January, 13, 12, 0, 0, 0, time.UTC)
	}

	payload, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	calls := source.fetchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, models.NewDate(2024, time.January, 11), calls[1].start, "only days after the cached latest")
	assert.Equal(t, models.NewDate(2024, time.January, 12), calls[1].end)
	assert.Equal(t, "12.00", payload.Totals.Position.StringFixed(2))
}

func TestRefreshFullyCachedSkipsFetch(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 10; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}

	engine := newTestEngine(source, models.NewDate(2024, time.January, 11))
	_, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	payload, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, source.fetchCalls(), 1, "second refresh served entirely from cache")
	assert.Equal(t, "10.00", payload.Totals.Position.StringFixed(2))
}

func TestRefreshIdempotent(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 5; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 250)
	}

	engine := newTestEngine(source, models.NewDate(2024, time.January, 6))
	first, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	second, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Totals.Position.StringFixed(2), second.Totals.Position.StringFixed(2))
	assert.Equal(t, len(first.Daily), len(second.Daily))
}

func TestRefreshFillsGapsWithPlaceholders(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 7; i++ {
		if i == 5 {
			continue // meter gap
		}
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}

	engine := NewEngine(source, EngineOptions{
		SiteID:          "site-1",
		BillingStartDay: 1,
		SurchargeCents:  50,
		Subscription:    0,
		Location:        time.UTC,
		Now: func() time.Time {
			return time.Date(2024, time.January, 8, 12, 0, 0, 0, time.UTC)
		},
	})

	payload, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, payload.Daily, 7, "missing day still appears in the sequence")
	gap := payload.Daily[4]
	assert.Equal(t, models.NewDate(2024, time.January, 5), gap.Date)
	assert.True(t, gap.EnergyTotal.IsZero())
	assert.Equal(t, "0.50", gap.Position.StringFixed(2), "placeholder still accrues fees")
}

func TestRefreshCycleRolloverResetsCache(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 30; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}
	source.addDay(models.NewDate(2024, time.February, 1), 100)

	engine := newTestEngine(source, models.NewDate(2024, time.January, 31))
	jan, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NewDate(2024, time.January, 1), jan.RangeStart)

	// Cross into February's cycle
	engine.now = func() time.Time {
		return time.Date(2024, time.February, 2, 12, 0, 0, 0, time.UTC)
	}

	feb, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.NewDate(2024, time.February, 1), feb.RangeStart)
	assert.Equal(t, models.NewDate(2024, time.February, 1), feb.RangeEnd)
	require.Len(t, feb.Daily, 1)
	assert.Equal(t, "1.00", feb.Totals.Position.StringFixed(2), "January totals discarded")

	calls := source.fetchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, models.NewDate(2024, time.February, 1), calls[1].start, "fetch restarts at the new cycle start")
}

func TestRefreshMidMonthCycleRollover(t *testing.T) {
	source := newFakeSource()
	for i := 15; i <= 31; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}
	for i := 1; i <= 16; i++ {
		source.addDay(models.NewDate(2024, time.February, i), 100)
	}

	engine := NewEngine(source, EngineOptions{
		SiteID:          "site-1",
		BillingStartDay: 15,
		Location:        time.UTC,
		Now: func() time.Time {
			return time.Date(2024, time.February, 14, 12, 0, 0, 0, time.UTC)
		},
	})

	jan, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NewDate(2024, time.January, 15), jan.RangeStart)
	assert.Equal(t, models.NewDate(2024, time.February, 13), jan.RangeEnd)
	require.Equal(t, 30, engine.cache.Len())

	// Today crosses into the cycle starting 2024-02-15
	engine.now = func() time.Time {
		return time.Date(2024, time.February, 17, 12, 0, 0, 0, time.UTC)
	}

	feb, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NewDate(2024, time.February, 15), feb.RangeStart)
	assert.Equal(t, models.NewDate(2024, time.February, 16), feb.RangeEnd)
	assert.Equal(t, 2, engine.cache.Len(), "January-cycle entries fully cleared")
	assert.Equal(t, "2.00", feb.Totals.Position.StringFixed(2))
}

func TestRefreshFailureKeepsPreviousPayload(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 5; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}

	engine := newTestEngine(source, models.NewDate(2024, time.January, 6))
	good, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	goodUpdate := engine.LastUpdate()

	source.mu.Lock()
	source.err = errors.New("upstream down")
	source.mu.Unlock()
	engine.now = func() time.Time {
		return time.Date(2024, time.January, 8, 12, 0, 0, 0, time.UTC)
	}

	_, err = engine.Refresh(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateFailed, engine.State())
	assert.EqualError(t, engine.LastError(), "upstream down")
	assert.Same(t, good, engine.LastPayload(), "previous payload survives the failure")
	assert.Equal(t, goodUpdate, engine.LastUpdate(), "staleness timestamp not advanced")

	// Recovery: upstream comes back with the missing days
	source.mu.Lock()
	source.err = nil
	source.addDay(models.NewDate(2024, time.January, 6), 100)
	source.addDay(models.NewDate(2024, time.January, 7), 100)
	source.mu.Unlock()

	recovered, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7.00", recovered.Totals.Position.StringFixed(2))
	assert.Equal(t, StateReady, engine.State())
	assert.NoError(t, engine.LastError())
}

func TestRefreshFirstDayOfCycleServesEmptyPayload(t *testing.T) {
	source := newFakeSource()

	engine := newTestEngine(source, models.NewDate(2024, time.January, 1))
	payload, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	assert.Empty(t, source.fetchCalls(), "nothing to fetch on day one")
	assert.Empty(t, payload.Daily)
	assert.True(t, payload.Totals.Position.IsZero())
	assert.Equal(t, 0, payload.Totals.DaysElapsed)
	assert.Equal(t, 31, payload.Totals.DaysRemaining)
}

func TestRefreshFirstDayOfCycleKeepsPreviousPayload(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 30; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}

	engine := newTestEngine(source, models.NewDate(2024, time.January, 31))
	jan, err := engine.Refresh(context.Background())
	require.NoError(t, err)

	// February 1st: the new cycle has no elapsed days yet
	engine.now = func() time.Time {
		return time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC)
	}

	payload, err := engine.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, jan, payload, "previous cycle's payload served until data exists")
}

func TestConcurrentRefreshesCollapse(t *testing.T) {
	source := newFakeSource()
	for i := 1; i <= 5; i++ {
		source.addDay(models.NewDate(2024, time.January, i), 100)
	}
	source.blockCh = make(chan struct{})

	engine := newTestEngine(source, models.NewDate(2024, time.January, 6))

	const n = 4
	var wg sync.WaitGroup
	results := make([]*models.Payload, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := engine.Refresh(context.Background())
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	// Give the goroutines time to pile up behind the in-flight fetch, then
	// release it.
	time.Sleep(50 * time.Millisecond)
	close(source.blockCh)
	wg.Wait()

	assert.Len(t, source.fetchCalls(), 1, "concurrent triggers share one fetch")
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}
