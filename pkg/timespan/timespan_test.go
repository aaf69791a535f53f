package timespan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

const ago = " reporting.dateUtil.ago"

func TestHumanizeBuckets(t *testing.T) {
	now := time.Date(2024, time.July, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		other time.Time
		want  string
	}{
		{"in the future", now.Add(time.Second), "reporting.dateUtil.inTheFuture"},
		{"same instant", now, "reporting.dateUtil.oneSecond" + ago},
		{"one second", now.Add(-time.Second), "reporting.dateUtil.oneSecond" + ago},
		{"thirty seconds", now.Add(-30 * time.Second), "30 reporting.dateUtil.seconds" + ago},
		{"fifty nine seconds", now.Add(-59 * time.Second), "59 reporting.dateUtil.seconds" + ago},
		{"one minute", now.Add(-90 * time.Second), "reporting.dateUtil.oneMinute" + ago},
		{"forty minutes", now.Add(-40 * time.Minute), "40 reporting.dateUtil.minutes" + ago},
		{"fifty nine minutes", now.Add(-59 * time.Minute), "59 reporting.dateUtil.minutes" + ago},
		{"sixty minutes", now.Add(-60 * time.Minute), "reporting.dateUtil.anHour" + ago},
		{"sixty five minutes", now.Add(-65 * time.Minute), "reporting.dateUtil.anHour" + ago},
		{"six hours", now.Add(-6 * time.Hour), "6 reporting.dateUtil.hours" + ago},
		{"twenty three hours", now.Add(-23 * time.Hour), "23 reporting.dateUtil.hours" + ago},
		{"yesterday", now.AddDate(0, 0, -1), "reporting.dateUtil.yesterday"},
		{"ten days", now.AddDate(0, 0, -10), "10 reporting.dateUtil.days" + ago},
		{"one month", now.AddDate(0, -1, 0), "reporting.dateUtil.oneMonth" + ago},
		{"five months", now.AddDate(0, -5, 0), "5 reporting.dateUtil.months" + ago},
		{"one year", now.AddDate(-1, 0, 0), "reporting.dateUtil.oneYear" + ago},
		{"ten years", now.AddDate(-10, 0, 0), "10 reporting.dateUtil.years" + ago},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Humanize(now, tt.other))
		})
	}
}

func TestOneMonthDespiteShortFebruary(t *testing.T) {
	mar15 := time.Date(2009, time.March, 15, 0, 0, 0, 0, time.UTC)
	feb15 := time.Date(2009, time.February, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "reporting.dateUtil.oneMonth"+ago, Humanize(mar15, feb15))
}

func TestOneMonthAcrossDaylightSaving(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	// US daylight saving time in 2009 started March 8 and ended November 1.
	at := func(m time.Month) time.Time { return time.Date(2009, m, 25, 10, 0, 0, 0, loc) }

	pairs := [][2]time.Time{
		{at(time.March), at(time.February)},
		{at(time.April), at(time.March)},
		{at(time.November), at(time.October)},
		{at(time.December), at(time.November)},
	}
	for _, p := range pairs {
		assert.Equal(t, "reporting.dateUtil.oneMonth"+ago, Humanize(p[0], p[1]),
			"%s -> %s", p[1].Format("Jan 2"), p[0].Format("Jan 2"))
	}

	// A calendar day back over the spring transition is only 23 hours.
	mar9 := time.Date(2009, time.March, 9, 1, 0, 0, 0, loc)
	assert.Equal(t, "reporting.dateUtil.yesterday", Humanize(mar9, mar9.AddDate(0, 0, -1)))
}

func TestCalendarCountedInReferenceLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	// Feb 25 10:00 EST given in UTC. In UTC a month later is already past
	// the reference, which is Mar 25 10:00 EDT.
	reference := time.Date(2009, time.March, 25, 10, 0, 0, 0, loc)
	other := time.Date(2009, time.February, 25, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "reporting.dateUtil.oneMonth"+ago, Humanize(reference, other))
}

func TestTimespanWithoutAgo(t *testing.T) {
	now := time.Date(2024, time.July, 15, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "30 reporting.dateUtil.seconds", Timespan(now, now.Add(-30*time.Second), false))
	assert.Equal(t, "reporting.dateUtil.yesterday", Timespan(now, now.AddDate(0, 0, -1), false))
	assert.Equal(t, "reporting.dateUtil.inTheFuture", Timespan(now, now.Add(time.Hour), false))
}

func TestSince(t *testing.T) {
	now := time.Date(2024, time.July, 15, 14, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	assert.Equal(t, "6 reporting.dateUtil.hours"+ago, Since(now.Add(-6*time.Hour), clock))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []string{"30", "seconds", "ago"}, Keys("30 reporting.dateUtil.seconds reporting.dateUtil.ago"))
	assert.Empty(t, Keys(""))
}

func TestLocalizerRender(t *testing.T) {
	now := time.Date(2024, time.July, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		locale string
		other  time.Time
		want   string
	}{
		{"en", now.Add(-30 * time.Second), "30 seconds ago"},
		{"en", now.Add(-65 * time.Minute), "an hour ago"},
		{"en", now.AddDate(0, 0, -1), "yesterday"},
		{"en", now.Add(time.Minute), "in the future"},
		{"fr", now.AddDate(0, 0, -10), "il y a 10 jours"},
		{"fr", now.AddDate(0, -1, 0), "il y a un mois"},
		{"es-MX", now.AddDate(-10, 0, 0), "hace 10 años"},
		{"de", now.Add(-6 * time.Hour), "6 hours ago"},
		{"not a locale", now.Add(-6 * time.Hour), "6 hours ago"},
	}

	for _, tt := range tests {
		t.Run(tt.locale+"/"+tt.want, func(t *testing.T) {
			l := ParseLocale(tt.locale)
			assert.Equal(t, tt.want, l.Humanize(now, tt.other))
		})
	}
}

func TestLocalizerLanguage(t *testing.T) {
	require.Equal(t, language.French, NewLocalizer(language.MustParse("fr-CA")).Language())
	require.Equal(t, language.English, NewLocalizer(language.Japanese).Language())
}

func TestLocalizerPassesThroughUnknownPhrases(t *testing.T) {
	l := NewLocalizer(language.English)
	assert.Equal(t, "something else entirely", l.Render("something else entirely"))
	assert.Equal(t, "", l.Render(""))
}
