package internal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// FieldValue is one input or select to fill in a section. Values may
// reference credentials with {sip_login}, {sip_password}, {smpp_user},
// {smpp_secret}, {sender_phone} and {admin_password}.
type FieldValue struct {
	ID    string `yaml:"id"`
	Value string `yaml:"value"`
}

// RestoreStep configures one section of the device UI. Actions run after
// the fields are filled, Save submits the section.
type RestoreStep struct {
	Section string       `yaml:"section"`
	Fields  []FieldValue `yaml:"fields"`
	Actions []string     `yaml:"actions"`
	Save    bool         `yaml:"save"`
}

// RestoreProfile is the target device configuration applied after a reset
type RestoreProfile struct {
	Steps []RestoreStep `yaml:"steps"`
}

// RestoreCredentials fill the placeholders of a RestoreProfile
type RestoreCredentials struct {
	SIPLogin      string
	SIPPassword   string
	SMPPUser      string
	SMPPSecret    string
	SenderPhone   string
	AdminPassword string
}

func (c RestoreCredentials) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{sip_login}", c.SIPLogin,
		"{sip_password}", c.SIPPassword,
		"{smpp_user}", c.SMPPUser,
		"{smpp_secret}", c.SMPPSecret,
		"{sender_phone}", c.SenderPhone,
		"{admin_password}", c.AdminPassword,
	)
}

// DefaultRestoreProfile is the configuration the line has been running with
func DefaultRestoreProfile() RestoreProfile {
	return RestoreProfile{Steps: []RestoreStep{
		{
			Section: "Configurations",
			Fields: []FieldValue{
				{"time_zone", "GMT+2"},
				{"ntp_server", "0.ua.pool.ntp.org"},
				{"smpp_id", "{smpp_user}"},
				{"smpp_key", "{smpp_secret}"},
				{"dtmf_min_gap", "200"},
			},
			Actions: []string{"auto_reboot_disable", "ivr_enable_disable", "smpp_enable_enable"},
			Save:    true,
		},
		{
			Section: "Network",
			Fields:  []FieldValue{{"pc_port_select", "Bridge mode"}},
			Save:    true,
		},
		{
			Section: "Basic VoIP",
			Fields: []FieldValue{
				{"sip_auth_id", "{sip_login}"},
				{"sip_auth_passwd", "{sip_password}"},
				{"sip_registrar", "sip.zadarma.com"},
				{"sip_phone_number", "{sip_login}"},
				{"sip_display_name", "{sip_login}"},
			},
			Save: true,
		},
		{
			Section: "Advance VoIP",
			Fields: []FieldValue{
				{"sip_local_port_mode_select", "Fixed"},
				{"sip_183_select", "SIP 180"},
			},
			Save: true,
		},
		{
			Section: "Media",
			Actions: []string{
				"disable_codec:g729a",
				"disable_codec:g729ab",
				"move_up_codec:g729",
				"move_up_codec:g729",
			},
			Save: true,
		},
		{
			Section: "Call Out",
			Fields:  []FieldValue{{"gsm_outc_noans_t", "60"}},
			Save:    true,
		},
		{
			Section: "Call Out Auth",
			Fields: []FieldValue{
				{"line1_fw2pstn_auth_mode_select", "Whitelist"},
				{"l1_voip_trust_num1", "419522"},
				{"l1_voip_trust_num2", "549950"},
				{"l1_voip_trust_num3", "685171"},
				{"l1_voip_trust_num4", "752227"},
			},
			Save: true,
		},
		{
			Section: "Call In",
			Actions: []string{"line1_fw_to_voip_disable"},
			Save:    true,
		},
		{
			Section: "SIM",
			Fields: []FieldValue{
				{"line1_gsm_num", "{sender_phone}"},
				{"line1_gsm_pin2", "9819"},
			},
			Actions: []string{"gprs_disable", "expiry_m_enable", "line1_exp_drop_disable"},
			Save:    true,
		},
		{
			Section: "User Management",
			Fields: []FieldValue{
				{"passwd", "{admin_password}"},
				{"confirm_passwd", "{admin_password}"},
			},
			Actions: []string{"submit:Change"},
		},
	}}
}

// Apply walks the profile section by section. The first failing step
// aborts the restore.
func (p RestoreProfile) Apply(ctx context.Context, s DeviceSession, creds RestoreCredentials) error {
	slog.Info("Restoring config", "steps", len(p.Steps))
	expand := creds.replacer()
	for _, step := range p.Steps {
		if err := s.OpenSection(ctx, step.Section); err != nil {
			return fmt.Errorf("restore %s: %w", step.Section, err)
		}
		for _, f := range step.Fields {
			if err := s.SetField(ctx, f.ID, expand.Replace(f.Value)); err != nil {
				return fmt.Errorf("restore %s: set %s: %w", step.Section, f.ID, err)
			}
		}
		for _, action := range step.Actions {
			if err := s.ClickAction(ctx, action); err != nil {
				return fmt.Errorf("restore %s: %s: %w", step.Section, action, err)
			}
		}
		if step.Save {
			if err := s.Save(ctx); err != nil {
				return fmt.Errorf("restore %s: save: %w", step.Section, err)
			}
		}
	}
	return nil
}
