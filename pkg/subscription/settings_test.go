package subscription

import (
	"context"
	"errors"
	"testing"

	"github.com/smith3v/wa-word-reminder/pkg/db"
	"github.com/smith3v/wa-word-reminder/pkg/internal/testutil"
)

func TestLoadOrCreateSettingsDefaults(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	settings, err := store.LoadOrCreateSettings(ctx, "user-1")
	if err != nil {
		t.Fatalf("LoadOrCreateSettings failed: %v", err)
	}
	if settings.WordsPerDay != DefaultWordsPerDay || settings.Mode != db.DeliveryModeAuto || settings.Timezone != DefaultTimezone {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if len(settings.Times()) != 0 {
		t.Fatalf("expected no custom times, got %v", settings.Times())
	}

	again, err := store.LoadOrCreateSettings(ctx, "user-1")
	if err != nil {
		t.Fatalf("second LoadOrCreateSettings failed: %v", err)
	}
	if again.ID != settings.ID {
		t.Fatalf("expected the same settings row, got %d and %d", settings.ID, again.ID)
	}

	var count int64
	if err := gdb.Model(&db.DeliverySettings{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count settings: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 settings row, got %d", count)
	}
}

func TestUpdateSettings(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	updated, err := store.UpdateSettings(ctx, "user-1", SettingsInput{
		WordsPerDay: 2,
		Mode:        "Custom",
		CustomTimes: []string{"07:30", "21:00"},
		Timezone:    "Europe/Berlin",
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if updated.Mode != db.DeliveryModeCustom || updated.WordsPerDay != 2 || updated.Timezone != "Europe/Berlin" {
		t.Fatalf("unexpected settings: %+v", updated)
	}

	reloaded, err := store.LoadOrCreateSettings(ctx, "user-1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	times := reloaded.Times()
	if len(times) != 2 || times[0] != "07:30" || times[1] != "21:00" {
		t.Fatalf("unexpected stored times: %v", times)
	}
}

func TestUpdateSingleFieldKeepsTheRest(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	store := NewStore(gdb, nil)
	ctx := context.Background()

	if _, err := store.UpdateSettings(ctx, "user-1", SettingsInput{
		WordsPerDay: 2,
		Mode:        "custom",
		CustomTimes: []string{"07:30", "21:00"},
		Timezone:    "Asia/Tokyo",
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	current, err := store.LoadOrCreateSettings(ctx, "user-1")
	if err != nil {
		t.Fatalf("LoadOrCreateSettings failed: %v", err)
	}
	in := InputFrom(current)
	in.Timezone = "Europe/Berlin"
	updated, err := store.UpdateSettings(ctx, "user-1", in)
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	times := updated.Times()
	if updated.Timezone != "Europe/Berlin" || updated.Mode != db.DeliveryModeCustom || updated.WordsPerDay != 2 || len(times) != 2 || times[1] != "21:00" {
		t.Fatalf("expected only the timezone to change, got %+v (times %v)", updated, times)
	}

	fresh, err := store.LoadOrCreateSettings(ctx, "user-2")
	if err != nil {
		t.Fatalf("LoadOrCreateSettings failed: %v", err)
	}
	if err := ValidateSettings(InputFrom(fresh)); err != nil {
		t.Fatalf("defaults must round-trip as a valid input: %v", err)
	}
}

func TestValidateSettings(t *testing.T) {
	cases := []struct {
		name  string
		input SettingsInput
		ok    bool
	}{
		{"auto default", SettingsInput{WordsPerDay: 3, Mode: "auto", Timezone: "UTC"}, true},
		{"custom within count", SettingsInput{WordsPerDay: 2, Mode: "custom", CustomTimes: []string{"08:00"}, Timezone: "Asia/Tokyo"}, true},
		{"too many custom times", SettingsInput{WordsPerDay: 1, Mode: "custom", CustomTimes: []string{"08:00", "09:00"}, Timezone: "UTC"}, false},
		{"custom without times", SettingsInput{WordsPerDay: 1, Mode: "custom", Timezone: "UTC"}, false},
		{"zero words", SettingsInput{WordsPerDay: 0, Mode: "auto", Timezone: "UTC"}, false},
		{"six words", SettingsInput{WordsPerDay: 6, Mode: "auto", Timezone: "UTC"}, false},
		{"bad mode", SettingsInput{WordsPerDay: 3, Mode: "random", Timezone: "UTC"}, false},
		{"bad time", SettingsInput{WordsPerDay: 3, Mode: "custom", CustomTimes: []string{"25:00"}, Timezone: "UTC"}, false},
		{"bad timezone", SettingsInput{WordsPerDay: 3, Mode: "auto", Timezone: "Mars/Olympus"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSettings(tc.input)
			if tc.ok && err != nil {
				t.Fatalf("expected valid settings, got %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected validation error")
				}
				if !errors.Is(err, ErrInvalidSettings) {
					t.Fatalf("expected ErrInvalidSettings, got %v", err)
				}
			}
		})
	}
}
