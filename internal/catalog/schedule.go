package catalog

import "time"

// Schedule arithmetic is pure calendar math in the store's local zone.
// Time of day only matters for the same-day cutoff check; future days are
// always assumed to be before cutoff.

const scheduleSearchDays = 14

// AcceptsOrderOn reports whether the supplier takes an order placed on the
// given calendar date at the given local time of day.
func AcceptsOrderOn(s Supplier, date time.Time, tod TimeOfDay) bool {
	if !scheduleIncludes(s.Schedule, date) {
		return false
	}
	if s.Schedule.HasCutoff && tod >= 0 && tod > s.Schedule.Cutoff {
		return false
	}
	return true
}

// NextOrderDate returns the smallest date >= from on which the supplier
// accepts an order. The same-day cutoff applies only to the first candidate.
// If no schedule day matches within 14 days, from+7 is used as a fallback.
func NextOrderDate(s Supplier, from time.Time, tod TimeOfDay) time.Time {
	day := DateOnly(from)
	for i := 0; i < scheduleSearchDays; i++ {
		candidate := day.AddDate(0, 0, i)
		candidateTod := TimeOfDayUnknown
		if i == 0 {
			candidateTod = tod
		}
		if AcceptsOrderOn(s, candidate, candidateTod) {
			return candidate
		}
	}
	return day.AddDate(0, 0, 7)
}

// DeliveryDate is the order date plus the supplier lead time.
func DeliveryDate(s Supplier, orderDate time.Time) time.Time {
	return DateOnly(orderDate).AddDate(0, 0, s.LeadTimeDays)
}

// DaysUntilDelivery computes how many calendar days until goods ordered at
// the next possible order date would arrive.
func DaysUntilDelivery(s Supplier, now time.Time) int {
	orderDate := NextOrderDate(s, now, TimeOfDayFrom(now))
	delivery := DeliveryDate(s, orderDate)
	return DaysBetween(DateOnly(now), delivery)
}

func scheduleIncludes(sched DeliverySchedule, date time.Time) bool {
	switch sched.Kind {
	case ScheduleDaily:
		return true
	case ScheduleSpecificDays:
		for _, d := range sched.Days {
			if d == date.Weekday() {
				return true
			}
		}
		return false
	case ScheduleWeekly:
		return date.Weekday() == sched.Day
	case ScheduleBiWeekly:
		if date.Weekday() != sched.Day {
			return false
		}
		_, week := date.ISOWeek()
		return week%2 == sched.WeekParity
	default:
		return false
	}
}

// DateOnly truncates a timestamp to local midnight, preserving the location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts whole calendar days from a to b (b >= a gives >= 0).
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// TimeOfDayFrom extracts minutes since local midnight.
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}
