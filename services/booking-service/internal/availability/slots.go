package availability

import (
	"sort"
	"time"
)

// DefaultTimezone is used when a master has no stored timezone or the stored
// name is not a valid IANA zone.
const DefaultTimezone = "Asia/Almaty"

// DefaultSlotMinutes is the granularity forced onto non-premium masters.
const DefaultSlotMinutes = 30

// Rule is one weekly working-hour rule, local to the master's timezone.
// Start and end are minutes from local midnight.
type Rule struct {
	Weekday     int // ISO: Monday=1 .. Sunday=7
	StartMinute int
	EndMinute   int
	SlotMinutes int
}

// Interval is a half-open busy range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Location resolves an IANA timezone name, falling back to DefaultTimezone
// for empty or unrecognized names.
func Location(tz string) *time.Location {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ISOWeekday maps time.Weekday to the ISO convention (Monday=1, Sunday=7).
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// DayBounds returns the UTC bounds [start, end) of the local calendar day
// containing date in loc. Querying appointments with these bounds keeps
// bookings that cross the UTC date line inside the correct local day.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	local := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return local.UTC(), local.AddDate(0, 0, 1).UTC()
}

// Slots produces the free slot start times for one local calendar day.
//
// The grid starts at the rule's work start and steps by the rule's granularity
// while slot+duration still fits before work end. Slots at or before now are
// dropped, so for "today" the sequence begins at the first grid boundary
// strictly after now. Busy intervals are matched with a single forward
// cursor, which requires them sorted ascending by start; Slots sorts
// defensively since the cost is negligible at day scale.
//
// The function is pure: identical inputs yield identical output.
func Slots(date time.Time, loc *time.Location, rule Rule, duration time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || rule.SlotMinutes <= 0 || rule.EndMinute <= rule.StartMinute {
		return nil
	}

	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	workStart := midnight.Add(time.Duration(rule.StartMinute) * time.Minute)
	workEnd := midnight.Add(time.Duration(rule.EndMinute) * time.Minute)
	step := time.Duration(rule.SlotMinutes) * time.Minute

	sorted := make([]Interval, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var slots []time.Time
	i := 0
	for t := workStart; !t.Add(duration).After(workEnd); t = t.Add(step) {
		if !t.After(now) {
			continue
		}
		end := t.Add(duration)

		// Intervals ending at or before t can never overlap this or any later
		// slot, so the cursor only moves forward.
		for i < len(sorted) && !sorted[i].End.After(t) {
			i++
		}
		// Half-open overlap: [t, end) collides with [b.Start, b.End) iff
		// t < b.End && b.Start < end. The cursor guarantees b.End > t here.
		if i < len(sorted) && sorted[i].Start.Before(end) {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}
