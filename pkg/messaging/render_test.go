package messaging

import (
	"strings"
	"testing"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/db"
)

func TestGreetingBuckets(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, GreetingNight},
		{4, GreetingNight},
		{5, GreetingMorning},
		{11, GreetingMorning},
		{12, GreetingAfternoon},
		{16, GreetingAfternoon},
		{17, GreetingEvening},
		{20, GreetingEvening},
		{21, GreetingNight},
		{23, GreetingNight},
	}
	for _, tt := range tests {
		if got := Greeting(tt.hour); got != tt.want {
			t.Fatalf("Greeting(%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestRenderFullMessage(t *testing.T) {
	vars := db.MessageVariables{
		Word:          "serendipity",
		Pronunciation: "ser-uhn-DIP-i-tee",
		PartOfSpeech:  "noun",
		Definition:    "a happy accident",
		Example:       "Meeting her was pure serendipity.",
		MemoryAid:     "seren-DIP into luck",
	}
	got := Render(vars, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))

	want := "Good morning! Your word for today:\n\n" +
		"*serendipity* /ser-uhn-DIP-i-tee/ (noun)\n" +
		"\nMeaning: a happy accident" +
		"\nExample: Meeting her was pure serendipity." +
		"\nMemory aid: seren-DIP into luck"
	if got != want {
		t.Fatalf("unexpected message:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderOmitsEmptyFields(t *testing.T) {
	got := Render(db.MessageVariables{Word: "candor", Definition: "honesty"}, time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC))
	if !strings.HasPrefix(got, GreetingNight) {
		t.Fatalf("expected night greeting, got %q", got)
	}
	for _, label := range []string{"Example:", "Memory aid:", "/", "("} {
		if strings.Contains(got, label) {
			t.Fatalf("expected %q to be omitted, got %q", label, got)
		}
	}
	if !strings.HasSuffix(got, "Meaning: honesty") {
		t.Fatalf("expected definition at the end, got %q", got)
	}
}

func TestRenderUsesSubscriberTimezone(t *testing.T) {
	at := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)
	vars := db.MessageVariables{Word: "dawn", Timezone: "America/New_York"}
	if got := Render(vars, at); !strings.HasPrefix(got, GreetingMorning) {
		t.Fatalf("15:00 UTC is 10:00 in New York, got %q", got)
	}

	vars.Timezone = "Not/AZone"
	if got := Render(vars, at); !strings.HasPrefix(got, GreetingAfternoon) {
		t.Fatalf("unknown timezone should fall back to UTC, got %q", got)
	}
}
