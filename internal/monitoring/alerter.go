package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate     AlertType = "failure_rate"
	AlertBreakerOpen     AlertType = "breaker_open"
	AlertLowApprovalRate AlertType = "low_approval_rate"
)

// circuitOpenState is the collector's string form of an open breaker.
const circuitOpenState = "open"

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Item failure rate.
	if snap.RecordsTotal >= 5 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Item failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d total in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RecordsFailed, snap.RecordsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.RecordsFailed,
				"total":     snap.RecordsTotal,
			},
			Timestamp: now,
		})
	}

	// Open circuit breakers.
	for endpoint, h := range snap.Endpoints {
		if h.State != circuitOpenState {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message:  fmt.Sprintf("Circuit breaker open for endpoint %q", endpoint),
			Details: map[string]any{
				"endpoint":      endpoint,
				"failures":      h.Failures,
				"rejections":    h.Rejections,
				"breaker_opens": h.BreakerOpens,
			},
			Timestamp: now,
		})
	}

	// Approval rate collapse suggests model drift or a policy mistake.
	decided := snap.AutoApproved + snap.ReviewQueued
	if a.cfg.MinApprovalRate > 0 && decided >= 10 && snap.ApprovalRate < a.cfg.MinApprovalRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowApprovalRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Auto-approval rate %.1f%% below floor %.1f%% (%d approved / %d decided in last %dh)",
				snap.ApprovalRate*100, a.cfg.MinApprovalRate*100,
				snap.AutoApproved, decided, snap.LookbackHours,
			),
			Details: map[string]any{
				"approval_rate": snap.ApprovalRate,
				"floor":         a.cfg.MinApprovalRate,
				"approved":      snap.AutoApproved,
				"decided":       decided,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
