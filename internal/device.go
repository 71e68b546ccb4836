package internal

import (
	"context"
	"errors"
)

var (
	// ErrNotLoggedIn is returned when the device rejects the credentials
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrNoDeviceSession is returned when no device session is held
	ErrNoDeviceSession = errors.New("device session is not initialized")
)

// Status page element ids
const (
	fieldSIMStatus  = "l1_gsm_sim"
	fieldGSMStatus  = "l1_gsm_status"
	fieldVoIPStatus = "l1_status_line"
	fieldLineState  = "l1_line_state"
	fieldCDRStarted = "l1_cdrt"

	sectionStatus = "Status"
)

// DeviceCredentials address and authenticate a device session
type DeviceCredentials struct {
	URL      string
	Username string
	Password string
}

// DeviceSession is an authenticated view of the gateway's web interface.
// Section names and field ids are the ones shown by the device UI.
type DeviceSession interface {
	// IsAuthorized reports whether the current page is an authorised one
	IsAuthorized(ctx context.Context) bool
	// Refresh reloads the current page
	Refresh(ctx context.Context) error
	// ReadField returns the trimmed text of the element with the given id
	ReadField(ctx context.Context, id string) (string, error)
	// OpenSection navigates to a named menu section
	OpenSection(ctx context.Context, name string) error
	// SetField fills an input or picks a select option by its text
	SetField(ctx context.Context, id, value string) error
	// ClickAction clicks a radio, checkbox or button
	ClickAction(ctx context.Context, id string) error
	// Save submits the current section
	Save(ctx context.Context) error
	UptimeSeconds(ctx context.Context) (int, error)
	CurrentURL() string
	// GoRelative opens path relative to the current page
	GoRelative(ctx context.Context, path string) error
	Close() error
}

// SessionFactory authenticates against the device and returns a new session.
// It returns an error wrapping ErrNotLoggedIn when the password is rejected.
type SessionFactory func(ctx context.Context, creds DeviceCredentials) (DeviceSession, error)
