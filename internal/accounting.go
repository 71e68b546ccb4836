package internal

import (
	"log/slog"
	"strconv"
	"time"
)

// Counter keys
const (
	keyDailyCallsDuration   = "DAILY_CALL_DURATION"
	keyWeeklyCallsDuration  = "WEEKLY_CALLS_DURATION"
	keyOverallCallsDuration = "OVERALL_CALL_DURATION"
	keyDailyRepairs         = "DAILY_FIXED_TIMES"
	keyDailyOKCalls         = "DAILY_CALLS_AMOUNT"
	keyDailyFailedCalls     = "DAILY_FAILED_CALLS_AMOUNT"
	keyLastErrorNotified    = "LAST_TIME_ERROR_NOTIFIED"
	keyOpeningBalance       = "INITIAL_BALANCE"
	keyLastRegStatus        = "LAST_REG_STATUS"
	keyLastCDRRestart       = "LAST_CDR_START"
	keyMonitorHeartbeat     = "MONITOR_SLEPT_AT"
	keyDailySummarySent     = "DAILY_STATUS_SENT"
)

// DefaultRegStatus is returned while no registration fault has been recorded
const DefaultRegStatus = "UNDEFINED"

// Accounting is the typed view over the counter store for the statistics
// the monitor keeps. It is built once at startup and shared by reference.
//
// Reads fall back to the default value and writes are best-effort: store
// failures are logged and never abort a poll cycle.
type Accounting struct {
	store CounterStore
	clock Clock
}

// NewAccounting creates the accounting context over store
func NewAccounting(store CounterStore, clock Clock) *Accounting {
	return &Accounting{store: store, clock: clock}
}

func (a *Accounting) entry(key string) (Entry, bool) {
	e, ok, err := a.store.Get(key)
	if err != nil {
		slog.Error("Failed to read counter", "key", key, "error", err)
		return Entry{}, false
	}
	if !ok || e.Value == "" {
		return e, false
	}
	return e, true
}

func (a *Accounting) set(key, value string) {
	slog.Debug("Set counter", "key", key, "value", value)
	if err := a.store.Set(key, value, a.clock.Now()); err != nil {
		slog.Error("Failed to write counter", "key", key, "error", err)
	}
}

func (a *Accounting) getInt(key string) int {
	e, ok := a.entry(key)
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(e.Value)
	if err != nil {
		// older rows may hold a float rendering
		f, ferr := strconv.ParseFloat(e.Value, 64)
		if ferr != nil {
			slog.Warn("Malformed integer counter", "key", key, "value", e.Value)
			return 0
		}
		v = int(f)
	}
	return v
}

func (a *Accounting) setInt(key string, v int) {
	if v < 0 {
		v = 0
	}
	a.set(key, strconv.Itoa(v))
}

func (a *Accounting) increaseInt(key string, delta int) {
	a.setInt(key, a.getInt(key)+delta)
}

func (a *Accounting) getTime(key string) (time.Time, bool) {
	e, ok := a.entry(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.Value)
	if err != nil {
		slog.Warn("Malformed time counter", "key", key, "value", e.Value)
		return time.Time{}, false
	}
	return t.In(a.clock.Now().Location()), true
}

func (a *Accounting) setTime(key string, t time.Time) {
	if t.IsZero() {
		a.set(key, "")
		return
	}
	a.set(key, t.Format(time.RFC3339))
}

// DailyCallsDuration is today's connected talk time in seconds
func (a *Accounting) DailyCallsDuration() int { return a.getInt(keyDailyCallsDuration) }

// DailyCallsDurationWrittenAt is when the daily duration counter was last written
func (a *Accounting) DailyCallsDurationWrittenAt() (time.Time, bool) {
	e, ok, err := a.store.Get(keyDailyCallsDuration)
	if err != nil || !ok {
		return time.Time{}, false
	}
	return e.UpdatedAt, true
}

func (a *Accounting) SetDailyCallsDuration(v int) { a.setInt(keyDailyCallsDuration, v) }

func (a *Accounting) IncreaseDailyCallsDuration(delta int) {
	a.increaseInt(keyDailyCallsDuration, delta)
}

func (a *Accounting) WeeklyCallsDuration() int { return a.getInt(keyWeeklyCallsDuration) }

func (a *Accounting) SetWeeklyCallsDuration(v int) { a.setInt(keyWeeklyCallsDuration, v) }

func (a *Accounting) IncreaseWeeklyCallsDuration(delta int) {
	a.increaseInt(keyWeeklyCallsDuration, delta)
}

// OverallCallsDuration is the talk time since the device was last rebooted or repaired
func (a *Accounting) OverallCallsDuration() int { return a.getInt(keyOverallCallsDuration) }

func (a *Accounting) SetOverallCallsDuration(v int) { a.setInt(keyOverallCallsDuration, v) }

func (a *Accounting) IncreaseOverallCallsDuration(delta int) {
	a.increaseInt(keyOverallCallsDuration, delta)
}

func (a *Accounting) DailyRepairs() int { return a.getInt(keyDailyRepairs) }

func (a *Accounting) SetDailyRepairs(v int) { a.setInt(keyDailyRepairs, v) }

func (a *Accounting) IncreaseDailyRepairs(delta int) { a.increaseInt(keyDailyRepairs, delta) }

func (a *Accounting) DailyOKCalls() int { return a.getInt(keyDailyOKCalls) }

func (a *Accounting) SetDailyOKCalls(v int) { a.setInt(keyDailyOKCalls, v) }

func (a *Accounting) IncreaseDailyOKCalls(delta int) { a.increaseInt(keyDailyOKCalls, delta) }

func (a *Accounting) DailyFailedCalls() int { return a.getInt(keyDailyFailedCalls) }

func (a *Accounting) SetDailyFailedCalls(v int) { a.setInt(keyDailyFailedCalls, v) }

func (a *Accounting) IncreaseDailyFailedCalls(delta int) {
	a.increaseInt(keyDailyFailedCalls, delta)
}

// LastErrorNotified is when a fixable VoIP credentials fault was last acted upon
func (a *Accounting) LastErrorNotified() (time.Time, bool) {
	return a.getTime(keyLastErrorNotified)
}

// SetLastErrorNotified stores t; the zero time clears the value
func (a *Accounting) SetLastErrorNotified(t time.Time) { a.setTime(keyLastErrorNotified, t) }

func (a *Accounting) LastCDRRestart() (time.Time, bool) { return a.getTime(keyLastCDRRestart) }

func (a *Accounting) SetLastCDRRestart(t time.Time) { a.setTime(keyLastCDRRestart, t) }

// MonitorHeartbeat is the time of the last completed periodic health check
func (a *Accounting) MonitorHeartbeat() (time.Time, bool) {
	return a.getTime(keyMonitorHeartbeat)
}

func (a *Accounting) SetMonitorHeartbeat(t time.Time) { a.setTime(keyMonitorHeartbeat, t) }

func (a *Accounting) DailySummarySent() (time.Time, bool) {
	return a.getTime(keyDailySummarySent)
}

func (a *Accounting) SetDailySummarySent(t time.Time) { a.setTime(keyDailySummarySent, t) }

// OpeningBalance is the account balance recorded at the last daily rollover
func (a *Accounting) OpeningBalance() float64 {
	e, ok := a.entry(keyOpeningBalance)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(e.Value, 64)
	if err != nil {
		slog.Warn("Malformed balance counter", "value", e.Value)
		return 0
	}
	return v
}

func (a *Accounting) SetOpeningBalance(v float64) {
	a.set(keyOpeningBalance, strconv.FormatFloat(v, 'f', -1, 64))
}

// LastRegStatus is the human readable reason of the last registration fault
func (a *Accounting) LastRegStatus() string {
	e, ok := a.entry(keyLastRegStatus)
	if !ok {
		return DefaultRegStatus
	}
	return e.Value
}

// SetLastRegStatus stores the fault reason; an empty string clears it
func (a *Accounting) SetLastRegStatus(v string) { a.set(keyLastRegStatus, v) }

// DailyCountersStale reports whether the daily duration counter was last
// written on an earlier calendar day than today.
func (a *Accounting) DailyCountersStale() bool {
	writtenAt, ok := a.DailyCallsDurationWrittenAt()
	if !ok {
		return true
	}
	return !sameDay(a.clock.Now(), writtenAt)
}

// ResetDaily folds the daily talk time into the lifetime total and zeroes the
// daily counters. The daily value is read once and only that amount is
// folded, so running it twice on the same day never loses or double-counts
// talk time recorded in between.
func (a *Accounting) ResetDaily(balance float64) {
	slog.Info("Setting initial daily values", "balance", balance)
	a.SetOpeningBalance(balance)
	daily := a.DailyCallsDuration()
	a.IncreaseOverallCallsDuration(daily)
	a.increaseInt(keyDailyCallsDuration, -daily)
	a.SetDailyRepairs(0)
	a.SetDailyOKCalls(0)
	a.SetDailyFailedCalls(0)
}
