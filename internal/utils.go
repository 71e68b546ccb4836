package internal

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

var callNumberPattern = regexp.MustCompile(`(DIALING|CONNECTED|ALERTING):([+0-9]*)`)

// parseCallNumber extracts the callee number from a raw line state such as
// "DIALING:0038099111222". A leading international trunk prefix "00" is
// normalised to "+". ok is false when the string carries no number.
func parseCallNumber(raw string) (number string, ok bool) {
	m := callNumberPattern.FindStringSubmatch(raw)
	if len(m) < 3 || m[2] == "" {
		return "", false
	}
	return normalizePhoneNumber(m[2]), true
}

// normalizePhoneNumber replaces the "00" international prefix with "+"
func normalizePhoneNumber(number string) string {
	if strings.HasPrefix(number, "00") {
		return "+" + number[2:]
	}
	return number
}

// formatDuration renders seconds as "1 дн 2 год 3 хв 4 сек". With
// noSeconds the seconds part is dropped unless the whole value is under a
// minute.
func formatDuration(total int, noSeconds bool) string {
	if total < 0 {
		total = 0
	}
	days := total / 3600 / 24
	hours := total/3600 - days*24
	minutes := total/60 - hours*60 - days*24*60
	seconds := total % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%d дн ", days)
	}
	if hours > 0 || days > 0 {
		fmt.Fprintf(&b, "%d год ", hours)
	}
	if minutes > 0 || hours > 0 || days > 0 {
		fmt.Fprintf(&b, "%d хв ", minutes)
	}
	if !noSeconds || total < 60 {
		fmt.Fprintf(&b, "%d сек", seconds)
	}
	return strings.TrimSpace(b.String())
}

// randomPhrase picks one of phrases; pick(n) must return a value in [0, n)
func randomPhrase(phrases []string, pick func(int) int) string {
	if len(phrases) == 0 {
		return ""
	}
	if pick == nil {
		pick = rand.Intn
	}
	return phrases[pick(len(phrases))]
}
