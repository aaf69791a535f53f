package timespan

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported lists the languages with built-in translations; the first is the fallback.
var Supported = []language.Tag{language.English, language.French, language.Spanish}

var translations = map[language.Tag]map[string]string{
	language.English: {
		KeyInTheFuture:     "in the future",
		KeyOneSecond:       "one second",
		"%d " + KeySeconds: "%d seconds",
		KeyOneMinute:       "a minute",
		"%d " + KeyMinutes: "%d minutes",
		KeyAnHour:          "an hour",
		"%d " + KeyHours:   "%d hours",
		KeyYesterday:       "yesterday",
		"%d " + KeyDays:    "%d days",
		KeyOneMonth:        "one month",
		"%d " + KeyMonths:  "%d months",
		KeyOneYear:         "one year",
		"%d " + KeyYears:   "%d years",
		KeyAgo:             "%s ago",
	},
	language.French: {
		KeyInTheFuture:     "dans le futur",
		KeyOneSecond:       "une seconde",
		"%d " + KeySeconds: "%d secondes",
		KeyOneMinute:       "une minute",
		"%d " + KeyMinutes: "%d minutes",
		KeyAnHour:          "une heure",
		"%d " + KeyHours:   "%d heures",
		KeyYesterday:       "hier",
		"%d " + KeyDays:    "%d jours",
		KeyOneMonth:        "un mois",
		"%d " + KeyMonths:  "%d mois",
		KeyOneYear:         "un an",
		"%d " + KeyYears:   "%d ans",
		KeyAgo:             "il y a %s",
	},
	language.Spanish: {
		KeyInTheFuture:     "en el futuro",
		KeyOneSecond:       "un segundo",
		"%d " + KeySeconds: "%d segundos",
		KeyOneMinute:       "un minuto",
		"%d " + KeyMinutes: "%d minutos",
		KeyAnHour:          "una hora",
		"%d " + KeyHours:   "%d horas",
		KeyYesterday:       "ayer",
		"%d " + KeyDays:    "%d días",
		KeyOneMonth:        "un mes",
		"%d " + KeyMonths:  "%d meses",
		KeyOneYear:         "un año",
		"%d " + KeyYears:   "%d años",
		KeyAgo:             "hace %s",
	},
}

var (
	messages = buildCatalog()
	matcher  = language.NewMatcher(Supported)
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range translations {
		for id, msg := range entries {
			if err := b.SetString(tag, id, msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Localizer renders humanized phrases as text in one language.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// NewLocalizer returns a localizer for the closest supported match to tag.
func NewLocalizer(tag language.Tag) *Localizer {
	_, idx, _ := matcher.Match(tag)
	best := Supported[idx]
	return &Localizer{tag: best, printer: message.NewPrinter(best, message.Catalog(messages))}
}

// ParseLocale parses a BCP 47 tag such as "fr" or "es-MX" and returns its localizer.
// An empty or invalid locale yields the English localizer.
func ParseLocale(locale string) *Localizer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return NewLocalizer(tag)
}

// Language returns the language the localizer renders.
func (l *Localizer) Language() language.Tag {
	return l.tag
}

// Render translates a phrase produced by Timespan. Unrecognised phrases are
// returned unchanged.
func (l *Localizer) Render(phrase string) string {
	parts := Keys(phrase)
	if len(parts) == 0 {
		return phrase
	}

	ago := false
	if parts[len(parts)-1] == KeyAgo {
		ago = true
		parts = parts[:len(parts)-1]
	}

	var args []any
	if len(parts) == 2 {
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			return phrase
		}
		args = append(args, n)
		parts[0] = "%d"
	}
	id := strings.Join(parts, " ")
	if _, known := translations[language.English][id]; !known || len(parts) > 2 {
		return phrase
	}

	text := l.printer.Sprintf(id, args...)
	if ago {
		text = l.printer.Sprintf(KeyAgo, text)
	}
	return text
}

// Humanize is Humanize rendered in the localizer's language.
func (l *Localizer) Humanize(reference, other time.Time) string {
	return l.Render(Humanize(reference, other))
}
