package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Channel types reported by the Amber usage API. Anything other than feedIn
// (general, controlledLoad, unknown) is billed as import.
const (
	ChannelGeneral        = "general"
	ChannelControlledLoad = "controlledLoad"
	ChannelFeedIn         = "feedIn"
)

// UsageRecord is one metered interval for one channel as returned by the
// usage API. Cost is in minor currency units (cents) and may be absent for
// intervals the retailer has not yet priced.
type UsageRecord struct {
	Date        Date     `json:"date"`
	ChannelType string   `json:"channelType"`
	KWh         float64  `json:"kwh"`
	Cost        *float64 `json:"cost,omitempty"`
}

// IsExport reports whether the record belongs to a feed-in channel.
func (r UsageRecord) IsExport() bool {
	return r.ChannelType == ChannelFeedIn
}

// DailySummary is one calendar day's aggregated position. Money fields are
// exact decimals; they are rounded to two places only when marshalled.
//
// Invariants: Position = EnergyTotal + Surcharge + Subscription and
// EnergyTotal = ImportValue + ExportValue.
type DailySummary struct {
	Date         Date
	ImportKWh    float64
	ExportKWh    float64
	ImportValue  decimal.Decimal
	ExportValue  decimal.Decimal
	EnergyTotal  decimal.Decimal
	Surcharge    decimal.Decimal
	Subscription decimal.Decimal
	Position     decimal.Decimal
}

type dailySummaryJSON struct {
	Date         Date    `json:"date"`
	ImportKWh    float64 `json:"import_kwh"`
	ExportKWh    float64 `json:"export_kwh"`
	ImportValue  float64 `json:"import_value"`
	ExportValue  float64 `json:"export_value"`
	EnergyTotal  float64 `json:"energy_total"`
	Surcharge    float64 `json:"surcharge"`
	Subscription float64 `json:"subscription"`
	Position     float64 `json:"position"`
}

// MarshalJSON renders money rounded to 2 decimal places. This is the
// presentation boundary; accumulation always happens on the exact decimals.
func (s DailySummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(dailySummaryJSON{
		Date:         s.Date,
		ImportKWh:    s.ImportKWh,
		ExportKWh:    s.ExportKWh,
		ImportValue:  round2(s.ImportValue),
		ExportValue:  round2(s.ExportValue),
		EnergyTotal:  round2(s.EnergyTotal),
		Surcharge:    round2(s.Surcharge),
		Subscription: round2(s.Subscription),
		Position:     round2(s.Position),
	})
}

// CycleTotals aggregates the daily sequence for the current billing cycle.
// Recomputed from scratch on every refresh.
type CycleTotals struct {
	ImportKWh           float64
	ExportKWh           float64
	NetKWh              float64
	ImportValue         decimal.Decimal
	ExportValue         decimal.Decimal
	EnergyTotal         decimal.Decimal
	Surcharge           decimal.Decimal
	Subscription        decimal.Decimal
	Fees                decimal.Decimal
	Position            decimal.Decimal
	AverageDailyCost    decimal.Decimal
	ProjectedMonthTotal decimal.Decimal
	DaysElapsed         int
	DaysRemaining       int
	BestDay             decimal.Decimal
	BestDayDate         *Date
	WorstDay            decimal.Decimal
	WorstDayDate        *Date
	MostAverageDay      decimal.Decimal
	MostAverageDayDate  *Date
	DaysInCredit        int
	DaysOwing           int
}

type cycleTotalsJSON struct {
	ImportKWh           float64 `json:"import_kwh"`
	ExportKWh           float64 `json:"export_kwh"`
	NetKWh              float64 `json:"net_kwh"`
	ImportValue         float64 `json:"import_value"`
	ExportValue         float64 `json:"export_value"`
	EnergyTotal         float64 `json:"energy_total"`
	Surcharge           float64 `json:"surcharge"`
	Subscription        float64 `json:"subscription"`
	Fees                float64 `json:"fees"`
	Position            float64 `json:"position"`
	AverageDailyCost    float64 `json:"average_daily_cost"`
	ProjectedMonthTotal float64 `json:"projected_month_total"`
	DaysElapsed         int     `json:"days_elapsed"`
	DaysRemaining       int     `json:"days_remaining"`
	BestDay             float64 `json:"best_day"`
	BestDayDate         *Date   `json:"best_day_date"`
	WorstDay            float64 `json:"worst_day"`
	WorstDayDate        *Date   `json:"worst_day_date"`
	MostAverageDay      float64 `json:"most_average_day"`
	MostAverageDayDate  *Date   `json:"most_average_day_date"`
	DaysInCredit        int     `json:"days_in_credit"`
	DaysOwing           int     `json:"days_owing"`
}

// MarshalJSON renders money rounded to 2 decimal places.
func (t CycleTotals) MarshalJSON() ([]byte, error) {
	return json.Marshal(cycleTotalsJSON{
		ImportKWh:           t.ImportKWh,
		ExportKWh:           t.ExportKWh,
		NetKWh:              t.NetKWh,
		ImportValue:         round2(t.ImportValue),
		ExportValue:         round2(t.ExportValue),
		EnergyTotal:         round2(t.EnergyTotal),
		Surcharge:           round2(t.Surcharge),
		Subscription:        round2(t.Subscription),
		Fees:                round2(t.Fees),
		Position:            round2(t.Position),
		AverageDailyCost:    round2(t.AverageDailyCost),
		ProjectedMonthTotal: round2(t.ProjectedMonthTotal),
		DaysElapsed:         t.DaysElapsed,
		DaysRemaining:       t.DaysRemaining,
		BestDay:             round2(t.BestDay),
		BestDayDate:         t.BestDayDate,
		WorstDay:            round2(t.WorstDay),
		WorstDayDate:        t.WorstDayDate,
		MostAverageDay:      round2(t.MostAverageDay),
		MostAverageDayDate:  t.MostAverageDayDate,
		DaysInCredit:        t.DaysInCredit,
		DaysOwing:           t.DaysOwing,
	})
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Payload is the artifact a refresh produces and the only thing consumers
// (CLI report, MQTT, Home Assistant) depend on.
type Payload struct {
	SiteID     string         `json:"site_id"`
	RangeStart Date           `json:"range_start"`
	RangeEnd   Date           `json:"range_end"`
	Daily      []DailySummary `json:"daily"`
	Totals     CycleTotals    `json:"totals"`
}

// SiteChannel describes one metering channel attached to a site.
type SiteChannel struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	Tariff     string `json:"tariff"`
}

// SiteInfo is site metadata used for display labeling only; the aggregation
// math never reads it.
type SiteInfo struct {
	ID         string        `json:"id"`
	NMI        string        `json:"nmi"`
	Network    string        `json:"network"`
	Status     string        `json:"status"`
	ActiveFrom string        `json:"activeFrom"`
	Channels   []SiteChannel `json:"channels"`
}

// Label returns the friendliest available identifier for the site.
func (s SiteInfo) Label() string {
	if s.NMI != "" {
		return s.NMI
	}
	return s.ID
}
