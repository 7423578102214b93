package models

// Channel names a notification sink.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSlack     Channel = "slack"
	ChannelPagerDuty Channel = "pagerduty"
)

// ChannelConfig carries the enable and threshold flags for one sink.
// Target is the e-mail address or webhook URL.
type ChannelConfig struct {
	Enabled         bool   `json:"enabled"           yaml:"enabled"`
	AlertOnCritical bool   `json:"alert_on_critical" yaml:"alert_on_critical"`
	AlertOnHigh     bool   `json:"alert_on_high"     yaml:"alert_on_high"`
	Target          string `json:"target"            yaml:"target"`
}

// NotificationConfig is the per-user alerting configuration.
type NotificationConfig struct {
	UserID   string                    `json:"user_id"  yaml:"user_id"`
	Channels map[Channel]ChannelConfig `json:"channels" yaml:"channels"`
}
