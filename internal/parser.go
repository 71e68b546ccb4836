package internal

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// USSDPatterns holds the carrier specific regular expressions used to read
// USSD responses. Carriers change their wording without notice, so these
// come from configuration.
type USSDPatterns struct {
	// Balance must capture money, tariff name and a dd.mm.yyyy date
	Balance string `yaml:"balance"`
	// Monthly must capture minutes left and a dd.mm.yy date
	Monthly string `yaml:"monthly"`
	// Yearly must capture a dd.mm.yy date
	Yearly string `yaml:"yearly"`
}

// DefaultUSSDPatterns match the responses of the home carrier, e.g.
//
//	Na vashem schete 9.22 grn. Tarif 'Some name'. Nomer deystvitelen do 20.12.2020.
//	Bezlimit ... Zalyshok: 500 MB, 29 hv ta 50 SMS ... Diie do 23.02.20
var DefaultUSSDPatterns = USSDPatterns{
	Balance: `.*? ([0-9.]*) grn. Tar[iy]{1}f '(.*?)'.*? do ([\d]{1,2}.[\d]{1,2}.[\d]{4})`,
	Monthly: `.*? ([\d]*) hv.*?Diie do ([\d]{1,2}.[\d]{1,2}.[\d]{2}).*`,
	Yearly:  `.*?do ([\d]{1,2}.[\d]{1,2}.[\d]{2}).*`,
}

const (
	longDateLayout  = "2.1.2006"
	shortDateLayout = "2.1.06"
)

// USSDParser applies compiled USSDPatterns to response texts
type USSDParser struct {
	balance *regexp.Regexp
	monthly *regexp.Regexp
	yearly  *regexp.Regexp
}

// NewUSSDParser compiles p
func NewUSSDParser(p USSDPatterns) (*USSDParser, error) {
	balance, err := regexp.Compile(p.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance pattern: %w", err)
	}
	monthly, err := regexp.Compile(p.Monthly)
	if err != nil {
		return nil, fmt.Errorf("invalid monthly pattern: %w", err)
	}
	yearly, err := regexp.Compile(p.Yearly)
	if err != nil {
		return nil, fmt.Errorf("invalid yearly pattern: %w", err)
	}
	return &USSDParser{balance: balance, monthly: monthly, yearly: yearly}, nil
}

// BalanceInfo is the result of the general status USSD
type BalanceInfo struct {
	OK        bool
	Money     float64
	Tariff    string
	ValidTill time.Time
}

// MonthlyInfo is the result of the monthly package USSD
type MonthlyInfo struct {
	OK          bool
	MinutesLeft int
	ValidTill   time.Time
}

// YearlyInfo is the result of the yearly package USSD
type YearlyInfo struct {
	OK        bool
	ValidTill time.Time
}

// ParseBalance extracts money, tariff and validity date. A response that
// does not match yields the zero BalanceInfo with OK false.
func (p *USSDParser) ParseBalance(resp string, loc *time.Location) BalanceInfo {
	m := p.balance.FindStringSubmatch(resp)
	if len(m) < 4 {
		slog.Error("Unexpected balance response", "response", resp)
		return BalanceInfo{}
	}
	money, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64)
	if err != nil {
		slog.Error("Failed to parse balance amount", "value", m[1], "error", err)
		return BalanceInfo{}
	}
	validTill, err := parseUSSDDate(m[3], longDateLayout, loc)
	if err != nil {
		slog.Error("Failed to parse balance date", "value", m[3], "error", err)
		return BalanceInfo{}
	}
	slog.Info("Found balance information", "money", money, "tariff", m[2], "valid_till", validTill)
	return BalanceInfo{OK: true, Money: money, Tariff: m[2], ValidTill: validTill}
}

// ParseMonthly extracts the minutes left and the package validity date
func (p *USSDParser) ParseMonthly(resp string, loc *time.Location) MonthlyInfo {
	m := p.monthly.FindStringSubmatch(resp)
	if len(m) < 3 {
		slog.Error("Unexpected monthly status response", "response", resp)
		return MonthlyInfo{}
	}
	minutes, _ := strconv.Atoi(m[1])
	validTill, err := parseUSSDDate(m[2], shortDateLayout, loc)
	if err != nil {
		slog.Error("Failed to parse monthly date", "value", m[2], "error", err)
		return MonthlyInfo{}
	}
	return MonthlyInfo{OK: true, MinutesLeft: minutes, ValidTill: validTill}
}

// ParseYearly extracts the yearly package validity date
func (p *USSDParser) ParseYearly(resp string, loc *time.Location) YearlyInfo {
	m := p.yearly.FindStringSubmatch(resp)
	if len(m) < 2 {
		slog.Error("Unexpected yearly status response", "response", resp)
		return YearlyInfo{}
	}
	validTill, err := parseUSSDDate(m[1], shortDateLayout, loc)
	if err != nil {
		slog.Error("Failed to parse yearly date", "value", m[1], "error", err)
		return YearlyInfo{}
	}
	return YearlyInfo{OK: true, ValidTill: validTill}
}

// parseUSSDDate accepts any single separator character between the parts
func parseUSSDDate(value, layout string, loc *time.Location) (time.Time, error) {
	parts := strings.FieldsFunc(value, func(r rune) bool { return r < '0' || r > '9' })
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("malformed date %q", value)
	}
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(layout, strings.Join(parts, "."), loc)
}

// sendStatus mirrors the GoIP send_status.xml document
type sendStatus struct {
	ID     string `xml:"id1"`
	Status string `xml:"status1"`
	Error  string `xml:"error1"`
}

// USSDStatus is the state of the last USSD request on line 1
type USSDStatus struct {
	Key      string
	Done     bool
	Response string
}

// parseSendStatus decodes a send_status.xml body. The root element name is
// not checked since firmware versions differ.
func parseSendStatus(body []byte) (USSDStatus, error) {
	var doc sendStatus
	decoder := xml.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&doc); err != nil {
		return USSDStatus{}, fmt.Errorf("failed to decode send status: %w", err)
	}
	return USSDStatus{
		Key:      strings.TrimSpace(doc.ID),
		Done:     strings.TrimSpace(doc.Status) == "DONE",
		Response: doc.Error,
	}, nil
}
