package billing

import (
	"amberbalance/pkg/models"
)

// CycleBounds computes the current billing cycle for today given the
// configured start day-of-month. The returned start is inclusive and next is
// the first day of the following cycle (exclusive upper bound). Cycle length
// is next minus start and varies 28-31 days with the calendar month.
//
// startDay is clamped to [1, 28] so the start exists in every month.
func CycleBounds(today models.Date, startDay int) (start, next models.Date) {
	if startDay < 1 {
		startDay = 1
	}
	if startDay > 28 {
		startDay = 28
	}

	if today.Day >= startDay {
		start = models.NewDate(today.Year, today.Month, startDay)
	} else {
		// Step to the last day of the previous month, then substitute the
		// configured day.
		prevMonthEnd := models.NewDate(today.Year, today.Month, 1).AddDays(-1)
		start = models.NewDate(prevMonthEnd.Year, prevMonthEnd.Month, startDay)
	}
	next = nextCycleStart(start, startDay)
	return start, next
}

func nextCycleStart(start models.Date, startDay int) models.Date {
	month := start.Month + 1
	year := start.Year
	if month == 13 {
		month = 1
		year++
	}
	// startDay capped to 28 so this is always a valid day of month
	return models.NewDate(year, month, startDay)
}
