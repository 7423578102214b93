// Package alert decides whether a finished audit warrants notifications and
// fans the summary out to the owner's enabled channels.
package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/metrics"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// DefaultSendTimeout bounds a single channel send.
const DefaultSendTimeout = 15 * time.Second

// Summary is the structured payload every sender receives.
type Summary struct {
	AccountName   string          `json:"account_name"`
	AccountID     string          `json:"account_id"`
	Provider      models.Provider `json:"provider"`
	AuditID       string          `json:"audit_id"`
	TotalFindings int             `json:"total_findings"`
	Critical      int             `json:"critical"`
	High          int             `json:"high"`
	Medium        int             `json:"medium"`
	Low           int             `json:"low"`
	RiskScore     float64         `json:"risk_score"`
}

// NewSummary builds the payload for a completed audit.
func NewSummary(acct *models.Account, a *models.Audit) Summary {
	name := acct.Name
	if name == "" {
		name = acct.ID
	}
	s := a.Summary
	return Summary{
		AccountName:   name,
		AccountID:     acct.ID,
		Provider:      acct.Provider,
		AuditID:       a.ID,
		TotalFindings: s.TotalFindings,
		Critical:      s.CriticalFindings,
		High:          s.HighFindings,
		Medium:        s.MediumFindings,
		Low:           s.LowFindings,
		RiskScore:     s.RiskScore,
	}
}

// Subject is the one-line headline used by e-mail and chat senders.
func (s Summary) Subject() string {
	return fmt.Sprintf("[cloudaudit] %s: %d critical, %d high findings (risk score %.1f)",
		s.AccountName, s.Critical, s.High, s.RiskScore)
}

// ShouldAlert is the per-channel firing rule: the channel must be enabled
// and either a critical finding exists with alert_on_critical set, or a high
// finding exists with alert_on_high set.
func ShouldAlert(ch models.ChannelConfig, s models.AuditSummary) bool {
	if !ch.Enabled {
		return false
	}
	return (s.CriticalFindings > 0 && ch.AlertOnCritical) || (s.HighFindings > 0 && ch.AlertOnHigh)
}

// Sender delivers a summary to one channel target.
type Sender interface {
	Send(ctx context.Context, target string, s Summary) error
}

// Delivery reports what happened on one configured channel.
type Delivery struct {
	Channel   models.Channel
	Attempted bool
	Err       error
}

// Dispatcher sends summaries over the registered senders.
type Dispatcher struct {
	senders map[models.Channel]Sender
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewDispatcher returns a dispatcher using senders keyed by channel.
// Channels without a sender are reported as failed deliveries when they
// would otherwise fire.
func NewDispatcher(senders map[models.Channel]Sender, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{senders: senders, timeout: DefaultSendTimeout, metrics: m}
}

// Dispatch evaluates every channel of cfg and sends to those that fire.
// Sends run concurrently and never retry; one channel's failure does not
// affect another. Deliveries are returned in channel-name order.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg models.NotificationConfig, s Summary) []Delivery {
	counts := models.AuditSummary{CriticalFindings: s.Critical, HighFindings: s.High}

	names := make([]models.Channel, 0, len(cfg.Channels))
	for ch := range cfg.Channels {
		names = append(names, ch)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]Delivery, len(names))
	var wg sync.WaitGroup
	for i, ch := range names {
		out[i] = Delivery{Channel: ch}
		cc := cfg.Channels[ch]
		if !ShouldAlert(cc, counts) {
			d.metrics.Alert(string(ch), "skipped")
			continue
		}
		out[i].Attempted = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i].Err = d.send(ctx, ch, cc.Target, s)
		}()
	}
	wg.Wait()

	log := zerolog.Ctx(ctx)
	for _, dl := range out {
		if !dl.Attempted {
			continue
		}
		if dl.Err != nil {
			d.metrics.Alert(string(dl.Channel), "failed")
			log.Warn().Err(dl.Err).Str("channel", string(dl.Channel)).Str("audit_id", s.AuditID).Msg("alert delivery failed")
			continue
		}
		d.metrics.Alert(string(dl.Channel), "sent")
		log.Info().Str("channel", string(dl.Channel)).Str("audit_id", s.AuditID).Msg("alert sent")
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, ch models.Channel, target string, s Summary) error {
	sender, ok := d.senders[ch]
	if !ok {
		return fmt.Errorf("no sender configured for channel %q", ch)
	}
	if target == "" {
		return fmt.Errorf("channel %q has no target", ch)
	}
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return sender.Send(sctx, target, s)
}
