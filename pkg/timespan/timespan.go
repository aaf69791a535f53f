// Package timespan turns a pair of timestamps into a "time ago" phrase made
// of message keys, e.g. "30 reporting.dateUtil.seconds reporting.dateUtil.ago".
// Keys are left for a presentation layer to translate; see Localizer.
package timespan

import (
	"strconv"
	"strings"
	"time"
)

// KeyPrefix is prepended to every message key.
const KeyPrefix = "reporting.dateUtil."

// Message keys, without KeyPrefix.
const (
	KeyInTheFuture = "inTheFuture"
	KeyOneSecond   = "oneSecond"
	KeySeconds     = "seconds"
	KeyOneMinute   = "oneMinute"
	KeyMinutes     = "minutes"
	KeyAnHour      = "anHour"
	KeyHours       = "hours"
	KeyYesterday   = "yesterday"
	KeyDays        = "days"
	KeyOneMonth    = "oneMonth"
	KeyMonths      = "months"
	KeyOneYear     = "oneYear"
	KeyYears       = "years"
	KeyAgo         = "ago"
)

// Clock supplies the current time to Since.
type Clock func() time.Time

// Humanize describes how long before reference the instant other lies,
// followed by the "ago" key.
func Humanize(reference, other time.Time) string {
	return Timespan(reference, other, true)
}

// Since describes how long ago t was, relative to clock (time.Now if nil).
func Since(t time.Time, clock Clock) string {
	if clock == nil {
		clock = time.Now
	}
	return Humanize(clock(), t)
}

// Timespan is Humanize with the trailing "ago" key optional. The "in the
// future" and "yesterday" phrases never take it.
//
// Sub-day buckets use elapsed time; days, months and years are counted on
// the calendar in reference's location, so a month back from March 25 is
// February 25 regardless of February's length or a DST change in between.
func Timespan(reference, other time.Time, showAgo bool) string {
	if other.After(reference) {
		return key(KeyInTheFuture)
	}

	other = other.In(reference.Location())
	elapsed := reference.Sub(other)

	var phrase string
	switch seconds := int64(elapsed / time.Second); {
	case seconds < 2:
		phrase = key(KeyOneSecond)
	case seconds < 60:
		phrase = count(seconds, KeySeconds)
	case elapsed < 2*time.Minute:
		phrase = key(KeyOneMinute)
	case elapsed < time.Hour:
		phrase = count(int64(elapsed/time.Minute), KeyMinutes)
	case elapsed < 2*time.Hour:
		phrase = key(KeyAnHour)
	default:
		days := calendarDays(other, reference)
		switch {
		case days == 0:
			phrase = count(int64(elapsed/time.Hour), KeyHours)
		case days == 1:
			return key(KeyYesterday)
		default:
			phrase = coarse(other, reference, days)
		}
	}

	if showAgo {
		return phrase + " " + key(KeyAgo)
	}
	return phrase
}

// coarse handles spans of two or more calendar days.
func coarse(from, to time.Time, days int) string {
	months := calendarMonths(from, to)
	switch {
	case months == 0:
		return count(int64(days), KeyDays)
	case months == 1:
		return key(KeyOneMonth)
	case months < 12:
		return count(int64(months), KeyMonths)
	case months < 24:
		return key(KeyOneYear)
	default:
		return count(int64(months/12), KeyYears)
	}
}

// calendarDays returns the largest n with from.AddDate(0, 0, n) <= to.
func calendarDays(from, to time.Time) int {
	n := int(to.Sub(from).Hours() / 24)
	for n > 0 && from.AddDate(0, 0, n).After(to) {
		n--
	}
	for !from.AddDate(0, 0, n+1).After(to) {
		n++
	}
	return n
}

// calendarMonths returns the largest n with from.AddDate(0, n, 0) <= to.
func calendarMonths(from, to time.Time) int {
	n := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	for n > 0 && from.AddDate(0, n, 0).After(to) {
		n--
	}
	return n
}

func key(k string) string {
	return KeyPrefix + k
}

func count(n int64, k string) string {
	return strconv.FormatInt(n, 10) + " " + key(k)
}

// Keys splits a humanized phrase into its parts, stripping KeyPrefix from
// message keys. Numeric parts are returned unchanged.
func Keys(phrase string) []string {
	parts := strings.Fields(phrase)
	for i, p := range parts {
		parts[i] = strings.TrimPrefix(p, KeyPrefix)
	}
	return parts
}
