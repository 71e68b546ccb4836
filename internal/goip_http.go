package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSections maps menu titles to the GoIP pages behind them
var DefaultSections = map[string]string{
	"Status":          "status.html",
	"Configurations":  "config.html",
	"Network":         "network.html",
	"Basic VoIP":      "sip_config.html",
	"Advance VoIP":    "voip_config.html",
	"Media":           "media.html",
	"Call Out":        "call_out.html",
	"Call Out Auth":   "call_out_auth.html",
	"Call In":         "call_in.html",
	"SIM":             "sim.html",
	"Tools":           "tools.html",
	"User Management": "user_manage.html",
}

var uptimePattern = regexp.MustCompile(`uptime_s\s*=\s*["']?(\d+)`)

// HTTPDeviceSession talks to the GoIP web interface with basic auth and
// reads pages with goquery. Form edits are collected per section and
// posted on Save.
type HTTPDeviceSession struct {
	client   *http.Client
	creds    DeviceCredentials
	sections map[string]string

	currentURL string
	statusCode int
	raw        []byte
	page       *goquery.Document

	form       url.Values
	formAction string
	codecOrder []string
}

// NewHTTPSessionFactory returns a SessionFactory producing HTTPDeviceSessions
func NewHTTPSessionFactory(sections map[string]string, timeout time.Duration) SessionFactory {
	return func(ctx context.Context, creds DeviceCredentials) (DeviceSession, error) {
		return NewHTTPDeviceSession(ctx, creds, sections, timeout)
	}
}

// NewHTTPDeviceSession opens the device start page and checks that the
// credentials were accepted
func NewHTTPDeviceSession(ctx context.Context, creds DeviceCredentials, sections map[string]string, timeout time.Duration) (*HTTPDeviceSession, error) {
	if sections == nil {
		sections = DefaultSections
	}
	s := &HTTPDeviceSession{
		client:   &http.Client{Timeout: timeout},
		creds:    creds,
		sections: sections,
	}
	start := strings.TrimRight(creds.URL, "/") + "/default/en_US/" + sections[sectionStatus]
	if err := s.open(ctx, http.MethodGet, start, nil); err != nil {
		return nil, err
	}
	if !s.IsAuthorized(ctx) {
		return nil, fmt.Errorf("user '%s' is not logged in: %w", creds.Username, ErrNotLoggedIn)
	}
	slog.Info("Device session opened", "url", start)
	return s, nil
}

func (s *HTTPDeviceSession) open(ctx context.Context, method, target string, body url.Values) error {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(body.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.creds.Username, s.creds.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	slog.Debug("Open URL", "method", method, "url", target)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", target, err)
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", target, err)
	}

	s.currentURL = resp.Request.URL.String()
	s.statusCode = resp.StatusCode
	s.raw = raw
	s.page = page
	return nil
}

func (s *HTTPDeviceSession) resolve(ref string) string {
	base, err := url.Parse(s.currentURL)
	if err != nil {
		return ref
	}
	target, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return target.String()
}

func (s *HTTPDeviceSession) IsAuthorized(ctx context.Context) bool {
	if s.page == nil || s.statusCode != http.StatusOK {
		return false
	}
	found := false
	s.page.Find("div.title").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.TrimSpace(sel.Text()) == sectionStatus {
			found = true
			return false
		}
		return true
	})
	return found
}

func (s *HTTPDeviceSession) Refresh(ctx context.Context) error {
	return s.open(ctx, http.MethodGet, s.currentURL, nil)
}

func (s *HTTPDeviceSession) element(id string) (*goquery.Selection, error) {
	if s.page == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	sel := s.page.Find("#" + id).First()
	if sel.Length() == 0 {
		sel = s.page.Find(fmt.Sprintf("[name='%s']", id)).First()
	}
	if sel.Length() == 0 {
		return nil, fmt.Errorf("element %q not found on %s", id, s.currentURL)
	}
	return sel, nil
}

func (s *HTTPDeviceSession) ReadField(ctx context.Context, id string) (string, error) {
	sel, err := s.element(id)
	if err != nil {
		return "", err
	}
	if goquery.NodeName(sel) == "input" {
		v, _ := sel.Attr("value")
		return strings.TrimSpace(v), nil
	}
	return strings.TrimSpace(sel.Text()), nil
}

func (s *HTTPDeviceSession) OpenSection(ctx context.Context, name string) error {
	page, ok := s.sections[name]
	if !ok {
		return fmt.Errorf("unknown section %q", name)
	}
	slog.Info("Open menu", "section", name)
	if err := s.open(ctx, http.MethodGet, s.resolve(page), nil); err != nil {
		return err
	}
	s.loadForm()
	return nil
}

// loadForm collects the current values of the first form on the page
func (s *HTTPDeviceSession) loadForm() {
	s.form = url.Values{}
	s.formAction = s.currentURL
	s.codecOrder = nil

	form := s.page.Find("form").First()
	if form.Length() == 0 {
		return
	}
	if action, ok := form.Attr("action"); ok && action != "" {
		s.formAction = s.resolve(action)
	}
	form.Find("input").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		value, _ := in.Attr("value")
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "radio", "checkbox":
			if _, checked := in.Attr("checked"); checked {
				s.form.Add(name, value)
			}
		case "submit", "button":
		default:
			s.form.Set(name, value)
		}
	})
	form.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("name")
		if !ok {
			return
		}
		opt := sel.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = sel.Find("option").First()
		}
		s.form.Set(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
	})
	s.page.Find("div.audiocodec span.codec_name").Each(func(_ int, span *goquery.Selection) {
		s.codecOrder = append(s.codecOrder, strings.TrimSpace(span.Text()))
	})
}

func (s *HTTPDeviceSession) SetField(ctx context.Context, id, value string) error {
	sel, err := s.element(id)
	if err != nil {
		return err
	}
	name := sel.AttrOr("name", id)
	if goquery.NodeName(sel) == "select" {
		found := false
		sel.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
			if strings.TrimSpace(opt.Text()) == value {
				s.form.Set(name, opt.AttrOr("value", value))
				found = true
				return false
			}
			return true
		})
		if !found {
			return fmt.Errorf("option %q not found in %q", value, id)
		}
		return nil
	}
	s.form.Set(name, value)
	return nil
}

func (s *HTTPDeviceSession) ClickAction(ctx context.Context, id string) error {
	switch {
	case strings.HasPrefix(id, "disable_codec:"):
		return s.disableCodec(strings.TrimPrefix(id, "disable_codec:"))
	case strings.HasPrefix(id, "move_up_codec:"):
		return s.moveUpCodec(strings.TrimPrefix(id, "move_up_codec:"))
	case strings.HasPrefix(id, "submit:"):
		return s.submitButton(ctx, strings.TrimPrefix(id, "submit:"))
	}

	sel, err := s.element(id)
	if err != nil {
		return err
	}
	name, ok := sel.Attr("name")
	if !ok {
		return fmt.Errorf("element %q has no name", id)
	}
	value := sel.AttrOr("value", "on")
	if strings.ToLower(sel.AttrOr("type", "")) == "checkbox" && s.form.Get(name) == value {
		s.form.Del(name)
		return nil
	}
	s.form.Set(name, value)
	return nil
}

func (s *HTTPDeviceSession) codecCheckbox(codec string) (*goquery.Selection, error) {
	var box *goquery.Selection
	s.page.Find("div.audiocodec").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		if strings.TrimSpace(div.Find("span.codec_name").Text()) == codec {
			box = div.Find("input[type='checkbox']").First()
			return false
		}
		return true
	})
	if box == nil || box.Length() == 0 {
		return nil, fmt.Errorf("codec %q not found", codec)
	}
	return box, nil
}

func (s *HTTPDeviceSession) disableCodec(codec string) error {
	box, err := s.codecCheckbox(codec)
	if err != nil {
		return err
	}
	if name, ok := box.Attr("name"); ok {
		s.form.Del(name)
	}
	return nil
}

// moveUpCodec raises the codec one position and rewrites the hidden
// priority inputs in the new order
func (s *HTTPDeviceSession) moveUpCodec(codec string) error {
	idx := -1
	for i, name := range s.codecOrder {
		if name == codec {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("codec %q not found", codec)
	}
	if idx == 0 {
		return nil
	}
	s.codecOrder[idx-1], s.codecOrder[idx] = s.codecOrder[idx], s.codecOrder[idx-1]

	priorities := s.page.Find("div.audiocodec input[type='hidden']")
	if priorities.Length() != len(s.codecOrder) {
		return fmt.Errorf("codec priority inputs not found")
	}
	priorities.Each(func(i int, in *goquery.Selection) {
		if name, ok := in.Attr("name"); ok {
			s.form.Set(name, s.codecOrder[i])
		}
	})
	return nil
}

func (s *HTTPDeviceSession) submitButton(ctx context.Context, label string) error {
	button := s.page.Find(fmt.Sprintf("input[type='submit'][value='%s']", label)).First()
	if button.Length() == 0 {
		return fmt.Errorf("button %q not found", label)
	}
	form := button.Closest("form")
	action := s.formAction
	if a, ok := form.Attr("action"); ok && a != "" {
		action = s.resolve(a)
	}
	values := url.Values{}
	form.Find("input").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok {
			return
		}
		if v := s.form.Get(name); v != "" {
			values.Set(name, v)
		}
	})
	if name, ok := button.Attr("name"); ok {
		values.Set(name, label)
	}
	return s.open(ctx, http.MethodPost, action, values)
}

func (s *HTTPDeviceSession) Save(ctx context.Context) error {
	slog.Info("Click [Save Changes] button", "url", s.formAction)
	if s.form == nil {
		return fmt.Errorf("no section opened")
	}
	if err := s.open(ctx, http.MethodPost, s.formAction, s.form); err != nil {
		return err
	}
	if s.statusCode != http.StatusOK {
		return fmt.Errorf("save failed with status %d", s.statusCode)
	}
	return nil
}

func (s *HTTPDeviceSession) UptimeSeconds(ctx context.Context) (int, error) {
	m := uptimePattern.FindSubmatch(s.raw)
	if m == nil {
		return 0, fmt.Errorf("uptime not found on %s", s.currentURL)
	}
	value, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, err
	}
	slog.Info("Received uptime value", "seconds", value)
	return value, nil
}

func (s *HTTPDeviceSession) CurrentURL() string {
	return s.currentURL
}

func (s *HTTPDeviceSession) GoRelative(ctx context.Context, rel string) error {
	u, err := url.Parse(s.currentURL)
	if err != nil {
		return err
	}
	u.Path = path.Join(path.Dir(u.Path), rel)
	u.RawQuery = ""
	return s.open(ctx, http.MethodGet, u.String(), nil)
}

func (s *HTTPDeviceSession) Close() error {
	slog.Info("Close device session")
	s.client.CloseIdleConnections()
	s.page = nil
	return nil
}
