package internal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

const summaryDateLayout = "02.01.2006"

// USSDCodes are the carrier codes queried for the daily summary
type USSDCodes struct {
	Balance string `yaml:"balance"`
	Monthly string `yaml:"monthly"`
	Yearly  string `yaml:"yearly"`
}

var DefaultUSSDCodes = USSDCodes{
	Balance: "*101#",
	Monthly: "*101*4#",
	Yearly:  "*365*1#",
}

// ReporterConfig tunes the daily summary
type ReporterConfig struct {
	Codes USSDCodes
	// WeekBoundary is the day the weekly total is reported and reset
	WeekBoundary time.Weekday
	// LowBalanceDays triggers the top up warning
	LowBalanceDays int
	Location       *time.Location
}

// Reporter builds the daily summary from the counters and the carrier's
// USSD responses
type Reporter struct {
	cfg        ReporterConfig
	parser     *USSDParser
	accounting *Accounting
	gateway    func() (MessagingGateway, error)
	events     Events
	clock      Clock
}

func NewReporter(cfg ReporterConfig, parser *USSDParser, accounting *Accounting, gateway func() (MessagingGateway, error), events Events, clock Clock) *Reporter {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if events == nil {
		events = NopEvents{}
	}
	return &Reporter{
		cfg:        cfg,
		parser:     parser,
		accounting: accounting,
		gateway:    gateway,
		events:     events,
		clock:      clock,
	}
}

func (r *Reporter) ussd(ctx context.Context, code string) string {
	g, err := r.gateway()
	if err != nil {
		slog.Error("Not able to call USSD as SMS module is down", "code", code)
		return ""
	}
	resp, err := g.SendUSSD(ctx, code)
	if err != nil || resp == "" {
		slog.Error("Nothing returned from USSD command", "code", code, "error", err)
		return ""
	}
	return resp
}

func (r *Reporter) balance(ctx context.Context) BalanceInfo {
	return r.parser.ParseBalance(r.ussd(ctx, r.cfg.Codes.Balance), r.cfg.Location)
}

// ResetDaily queries the balance and starts a new accounting day with it
func (r *Reporter) ResetDaily(ctx context.Context) {
	slog.Info("Setting initial daily values")
	r.accounting.ResetDaily(r.balance(ctx).Money)
}

// DailySummary renders the summary message. A scheduled run also folds the
// day into the weekly total and starts a new accounting day; an on-demand
// run only reads.
func (r *Reporter) DailySummary(ctx context.Context, scheduled bool) string {
	bal := r.balance(ctx)
	monthly := r.parser.ParseMonthly(r.ussd(ctx, r.cfg.Codes.Monthly), r.cfg.Location)
	yearly := r.parser.ParseYearly(r.ussd(ctx, r.cfg.Codes.Yearly), r.cfg.Location)

	now := r.clock.Now().In(r.cfg.Location)
	okCalls := r.accounting.DailyOKCalls()
	failedCalls := r.accounting.DailyFailedCalls()
	allCalls := okCalls + failedCalls
	duration := r.accounting.DailyCallsDuration()
	repairs := r.accounting.DailyRepairs()
	weekBoundary := now.Weekday() == r.cfg.WeekBoundary

	var b strings.Builder

	calls := msgSummaryNoCalls
	if duration != 0 {
		calls = formatDuration(duration, true)
		if allCalls > 0 {
			calls += fmt.Sprintf(" (%d%%)", 100*okCalls/allCalls)
		}
		if scheduled {
			r.accounting.IncreaseWeeklyCallsDuration(duration)
		}
	}
	fmt.Fprintf(&b, msgSummaryCalls, calls)

	weekly := r.accounting.WeeklyCallsDuration()
	if !scheduled {
		weekly += duration
	}
	if weekBoundary || !scheduled {
		fmt.Fprintf(&b, msgSummaryWeek, formatDuration(weekly, true))
	}

	if bal.OK {
		fmt.Fprintf(&b, msgSummaryBalance, formatMoney(bal.Money))
		if diff := roundMoney(bal.Money - r.accounting.OpeningBalance()); diff != 0 {
			sign := ""
			if diff > 0 {
				sign = "+"
			}
			fmt.Fprintf(&b, msgSummaryDiff, sign+formatMoney(diff))
		}
		b.WriteString("\n")
	}
	if monthly.OK {
		days := msgSummaryToday
		if left := daysBetween(now, monthly.ValidTill); left > 0 {
			days = fmt.Sprintf(msgSummaryDaysLeft, left)
		}
		fmt.Fprintf(&b, msgSummaryMinutes, monthly.MinutesLeft, days)
	}
	if repairs != 0 {
		fmt.Fprintf(&b, msgSummaryRepairs, repairs)
	}
	if bal.Tariff != "" {
		fmt.Fprintf(&b, msgSummaryTariff, bal.Tariff)
	}
	if validTill, ok := earliestValidity(bal, yearly); ok {
		if left := daysBetween(now, validTill); left < r.cfg.LowBalanceDays {
			fmt.Fprintf(&b, msgSummaryTopUp, left)
		}
		fmt.Fprintf(&b, msgSummaryValid, validTill.Format(summaryDateLayout))
	}

	if scheduled {
		r.accounting.ResetDaily(bal.Money)
		if weekBoundary {
			r.accounting.SetWeeklyCallsDuration(0)
		}
	}

	text := b.String()
	r.events.Publish(EventSummary, SummaryEvent{Text: text, Scheduled: scheduled, At: now})
	return text
}

func earliestValidity(bal BalanceInfo, yearly YearlyInfo) (time.Time, bool) {
	switch {
	case bal.OK && yearly.OK:
		if yearly.ValidTill.Before(bal.ValidTill) {
			return yearly.ValidTill, true
		}
		return bal.ValidTill, true
	case bal.OK:
		return bal.ValidTill, true
	case yearly.OK:
		return yearly.ValidTill, true
	}
	return time.Time{}, false
}

// daysBetween counts whole days from now until t, rounding down
func daysBetween(now, t time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(roundMoney(v), 'f', -1, 64)
}
