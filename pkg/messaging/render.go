package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
)

const (
	GreetingMorning   = "Good morning"
	GreetingAfternoon = "Good afternoon"
	GreetingEvening   = "Good evening"
	GreetingNight     = "Hello, night owl"
)

// Greeting buckets a local hour: 05-11 morning, 12-16 afternoon,
// 17-20 evening, otherwise night.
func Greeting(hour int) string {
	switch {
	case hour >= 5 && hour <= 11:
		return GreetingMorning
	case hour >= 12 && hour <= 16:
		return GreetingAfternoon
	case hour >= 17 && hour <= 20:
		return GreetingEvening
	default:
		return GreetingNight
	}
}

// Render assembles the message body for vars as seen at the instant at in the
// subscriber's timezone. Unknown or empty timezones fall back to UTC.
func Render(vars db.MessageVariables, at time.Time) string {
	loc := time.UTC
	if vars.Timezone != "" {
		if l, err := time.LoadLocation(vars.Timezone); err == nil {
			loc = l
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s! Your word for today:\n\n", Greeting(at.In(loc).Hour()))
	fmt.Fprintf(&b, "*%s*", vars.Word)
	if vars.Pronunciation != "" {
		fmt.Fprintf(&b, " /%s/", vars.Pronunciation)
	}
	if vars.PartOfSpeech != "" {
		fmt.Fprintf(&b, " (%s)", vars.PartOfSpeech)
	}
	b.WriteString("\n")

	writeLine(&b, "Meaning", vars.Definition)
	writeLine(&b, "Example", vars.Example)
	writeLine(&b, "Memory aid", vars.MemoryAid)

	return strings.TrimRight(b.String(), "\n")
}

func writeLine(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "\n%s: %s", label, value)
}
