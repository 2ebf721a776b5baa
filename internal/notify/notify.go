package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

// Webhook posts municipality notices and emergency commands to an HTTP endpoint
// for deployments without SNS.
type Webhook struct {
	client *resty.Client
	url    string
	log    zerolog.Logger
}

func NewWebhook(url string, timeout time.Duration, logger zerolog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Webhook{client: client, url: url, log: logger.With().Str("component", "webhook").Logger()}
}

type webhookBody struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

func (w *Webhook) post(ctx context.Context, kind string, payload any) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookBody{Kind: kind, Payload: payload}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", kind, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s: status %d", kind, resp.StatusCode())
	}
	w.log.Debug().Str("kind", kind).Int("status", resp.StatusCode()).Msg("webhook delivered")
	return nil
}

func (w *Webhook) NotifyMunicipality(ctx context.Context, n domain.MunicipalityNotice) error {
	return w.post(ctx, "municipality", n)
}

func (w *Webhook) Execute(ctx context.Context, cmd domain.Command) error {
	return w.post(ctx, "action", cmd)
}

// Log writes notices to the log only. It is the default when no notifier is configured.
type Log struct {
	log zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger.With().Str("component", "notify").Logger()}
}

func (l *Log) NotifyMunicipality(_ context.Context, n domain.MunicipalityNotice) error {
	l.log.Warn().
		Str("tank_id", n.TankID).
		Str("facility_id", n.FacilityID).
		Str("status", string(n.Status)).
		Float64("level_pct", n.LevelPct).
		Str("municipality", n.Municipality.Name).
		Str("phone", n.Municipality.Phone).
		Msg("municipality notified")
	return nil
}

func (l *Log) Execute(_ context.Context, cmd domain.Command) error {
	l.log.Warn().
		Str("action", string(cmd.Action)).
		Str("device_id", cmd.DeviceID).
		Str("facility_id", cmd.FacilityID).
		Str("alert_id", cmd.AlertID).
		Str("severity", cmd.Tier.String()).
		Msg("action executed")
	return nil
}
