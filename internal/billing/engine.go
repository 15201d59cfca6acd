package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"amberbalance/pkg/models"
)

// UsageSource supplies interval usage records and site metadata. The Amber
// client implements it; tests substitute fakes.
type UsageSource interface {
	FetchUsage(ctx context.Context, siteID string, start, end models.Date) ([]models.UsageRecord, error)
	FetchSiteInfo(ctx context.Context, siteID string) (*models.SiteInfo, error)
}

// State describes where a refresh currently is. Informational only; the
// engine's behavior is driven by its lock, not the state value.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateMerging  State = "merging"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// ErrCycleInconsistent reports an internal invariant violation (for example a
// non-positive cycle length). The refresh attempt is abandoned and previous
// state retained, same recovery path as a fetch failure.
var ErrCycleInconsistent = errors.New("billing cycle inconsistent")

// EngineOptions configures a per-site engine.
type EngineOptions struct {
	SiteID          string
	BillingStartDay int
	SurchargeCents  float64
	Subscription    float64
	Location        *time.Location
	Logger          *slog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Engine owns the billing-cycle state for exactly one site: its day cache,
// last successful payload and refresh lock. A process monitoring several
// sites holds one engine per site; there is no shared state between them.
type Engine struct {
	siteID     string
	startDay   int
	source     UsageSource
	aggregator *Aggregator
	loc        *time.Location
	logger     *slog.Logger
	now        func() time.Time

	mu              sync.Mutex
	group           singleflight.Group
	cache           *DayCache
	cycleStart      models.Date
	haveCycleStart  bool
	prevPayload     *models.Payload
	lastUpdate      time.Time
	state           State
	lastRefreshFail error
}

// NewEngine creates an engine for one site.
func NewEngine(source UsageSource, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		siteID:     opts.SiteID,
		startDay:   opts.BillingStartDay,
		source:     source,
		aggregator: NewAggregator(opts.SurchargeCents, opts.Subscription),
		loc:        loc,
		logger:     logger.With("component", "balance_engine", "site_id", opts.SiteID),
		now:        now,
		cache:      NewDayCache(),
		state:      StateIdle,
	}
}

// SiteID returns the site this engine tracks.
func (e *Engine) SiteID() string {
	return e.siteID
}

// LastPayload returns the most recent successful payload, if any. It stays
// valid across failed refreshes.
func (e *Engine) LastPayload() *models.Payload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prevPayload
}

// LastUpdate returns when the last successful refresh completed.
func (e *Engine) LastUpdate() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUpdate
}

// State returns the engine's current refresh state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the error from the most recent refresh attempt, or nil
// after a successful one.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRefreshFail
}

// Refresh recomputes the billing-cycle payload. Concurrent callers (a
// periodic tick racing a manual trigger) collapse into the single in-flight
// refresh and share its result. On failure the previous payload and the
// cache are left untouched.
func (e *Engine) Refresh(ctx context.Context) (*models.Payload, error) {
	v, err, _ := e.group.Do("refresh", func() (interface{}, error) {
		return e.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Payload), nil
}

func (e *Engine) refresh(ctx context.Context) (*models.Payload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	today := models.DateOf(e.now().In(e.loc))
	start, next := CycleBounds(today, e.startDay)
	cycleLength := start.DaysUntil(next)
	if cycleLength <= 0 {
		e.state = StateFailed
		e.lastRefreshFail = ErrCycleInconsistent
		return nil, fmt.Errorf("%w: start %s, next %s", ErrCycleInconsistent, start, next)
	}

	// Usage exists only for fully elapsed days, never the in-progress one.
	end := models.MinDate(today.AddDays(-1), next.AddDays(-1))

	if end.Before(start) {
		// First day of a new cycle: nothing to fetch yet. Serve the previous
		// payload, or an empty one if this is the first ever refresh.
		e.logger.Debug("no elapsed days in cycle yet", "cycle_start", start.String())
		if e.prevPayload != nil {
			e.lastUpdate = e.now()
			e.state = StateReady
			return e.prevPayload, nil
		}
		payload := &models.Payload{
			SiteID:     e.siteID,
			RangeStart: start,
			RangeEnd:   start,
			Daily:      []models.DailySummary{},
			Totals:     ComputeTotals(nil, cycleLength),
		}
		e.prevPayload = payload
		e.lastUpdate = e.now()
		e.state = StateReady
		return payload, nil
	}

	if !e.haveCycleStart || e.cycleStart != start {
		e.cache.Reset()
		e.cycleStart = start
		e.haveCycleStart = true
	}

	fetchStart, needFetch := e.fetchRange(start, end)
	var records []models.UsageRecord
	if needFetch {
		e.state = StateFetching
		var err error
		records, err = e.source.FetchUsage(ctx, e.siteID, fetchStart, end)
		if err != nil {
			e.state = StateFailed
			e.lastRefreshFail = err
			e.logger.Warn("usage fetch failed, keeping previous payload",
				"fetch_start", fetchStart.String(),
				"fetch_end", end.String(),
				"error", err,
			)
			return nil, fmt.Errorf("fetching usage for %s: %w", e.siteID, err)
		}
	}

	e.state = StateMerging

	// Summaries are built for the whole batch before the cache sees any of
	// them, so a merge is all-or-nothing.
	if len(records) > 0 {
		e.cache.PutMany(e.aggregator.SummarizeAll(records, cycleLength))
	}

	daily := make([]models.DailySummary, 0, start.DaysUntil(end)+1)
	for date := start; !date.After(end); date = date.AddDays(1) {
		if cached, ok := e.cache.Get(date); ok {
			daily = append(daily, cached)
		} else {
			daily = append(daily, e.aggregator.Placeholder(date, cycleLength))
		}
	}

	e.cache.RetainRange(start, end)

	payload := &models.Payload{
		SiteID:     e.siteID,
		RangeStart: start,
		RangeEnd:   end,
		Daily:      daily,
		Totals:     ComputeTotals(daily, cycleLength),
	}
	e.prevPayload = payload
	e.lastUpdate = e.now()
	e.state = StateReady
	e.lastRefreshFail = nil

	e.logger.Debug("refresh complete",
		"range_start", start.String(),
		"range_end", end.String(),
		"days", len(daily),
		"new_records", len(records),
	)

	return payload, nil
}

// fetchRange applies the incremental-fetch policy: with a warm cache only
// the days after the latest cached one are requested, and nothing at all
// when the cache already covers through end.
func (e *Engine) fetchRange(start, end models.Date) (models.Date, bool) {
	latest, ok := e.cache.Latest()
	if !ok {
		return start, true
	}
	if !end.After(latest) {
		return models.Date{}, false
	}
	return models.MaxDate(start, latest.AddDays(1)), true
}
