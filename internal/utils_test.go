package internal

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds   int
		noSeconds bool
		want      string
	}{
		{0, false, "0 сек"},
		{45, false, "45 сек"},
		{45, true, "45 сек"},
		{60, false, "1 хв 0 сек"},
		{125, true, "2 хв"},
		{3600, false, "1 год 0 хв 0 сек"},
		{3725, false, "1 год 2 хв 5 сек"},
		{3725, true, "1 год 2 хв"},
		{90061, false, "1 дн 1 год 1 хв 1 сек"},
		{-5, false, "0 сек"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.seconds, tt.noSeconds); got != tt.want {
			t.Errorf("formatDuration(%d, %v) = %q, want %q", tt.seconds, tt.noSeconds, got, tt.want)
		}
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	tests := map[string]string{
		"0038099111222": "+38099111222",
		"+38099111222":  "+38099111222",
		"0991112233":    "0991112233",
		"":              "",
	}
	for in, want := range tests {
		if got := normalizePhoneNumber(in); got != want {
			t.Errorf("normalizePhoneNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRandomPhrase(t *testing.T) {
	phrases := []string{"a", "b", "c"}
	if got := randomPhrase(phrases, func(n int) int { return n - 1 }); got != "c" {
		t.Errorf("Expected the picked phrase, got %q", got)
	}
	if got := randomPhrase(nil, nil); got != "" {
		t.Errorf("Expected empty phrase, got %q", got)
	}
	got := randomPhrase(phrases, nil)
	if got != "a" && got != "b" && got != "c" {
		t.Errorf("Expected one of the phrases, got %q", got)
	}
}

func TestSameDay(t *testing.T) {
	kyiv := time.FixedZone("EET", 2*60*60)
	a := time.Date(2024, 3, 12, 23, 30, 0, 0, kyiv)
	b := time.Date(2024, 3, 12, 0, 5, 0, 0, kyiv)
	if !sameDay(a, b) {
		t.Error("Expected same calendar day")
	}
	if sameDay(a, a.Add(time.Hour)) {
		t.Error("Expected the next day to differ")
	}
	if sameDay(time.Time{}, a) {
		t.Error("Expected the zero time to never match")
	}
}
