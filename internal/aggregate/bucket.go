// Package aggregate turns the deduplicated commit stream into per-person
// daily counts, ledgers, and the team-sorted summary. Day bucketing uses a
// fixed UTC offset so results match the reporting sheet's timezone rather
// than the machine the collector happens to run on.
package aggregate

import "time"

// DayFormat is the bucket key layout for one local calendar day.
const DayFormat = "2006-01-02"

// Day buckets an instant into its local calendar day under the given fixed
// UTC offset, expressed in minutes.
func Day(ts time.Time, offsetMinutes int) string {
	return ts.In(fixedZone(offsetMinutes)).Format(DayFormat)
}

// WindowFor computes the collection window covering the last `days` local
// calendar days including today: local midnight days-1 days ago up to the
// next local midnight, exclusive. Both bounds are returned in UTC.
func WindowFor(now time.Time, days, offsetMinutes int) (time.Time, time.Time) {
	if days < 1 {
		days = 1
	}
	zone := fixedZone(offsetMinutes)
	local := now.In(zone)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)

	since := midnight.AddDate(0, 0, -(days - 1))
	until := midnight.AddDate(0, 0, 1)
	return since.UTC(), until.UTC()
}

// DaysInWindow enumerates the bucket keys of every local day in
// [since, until), oldest first.
func DaysInWindow(since, until time.Time, offsetMinutes int) []string {
	zone := fixedZone(offsetMinutes)
	var days []string
	for cursor := since.In(zone); cursor.Before(until.In(zone)); cursor = cursor.AddDate(0, 0, 1) {
		days = append(days, cursor.Format(DayFormat))
	}
	return days
}

func fixedZone(offsetMinutes int) *time.Location {
	if offsetMinutes == 0 {
		return time.UTC
	}
	return time.FixedZone("", offsetMinutes*60)
}
