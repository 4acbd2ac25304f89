// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify routes escalation events to humans. The repair
// orchestrator invokes the Notifier exactly once, on the ESCALATED
// transition; delivery mechanics beyond these two reference
// implementations live outside this system.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Escalation carries everything a human queue needs to pick up a failed
// repair.
type Escalation struct {
	TargetID       string    `json:"target_id"`
	RepairRecordID string    `json:"repair_record_id"`
	Iterations     int       `json:"iterations"`
	FailureReason  string    `json:"failure_reason"`
	EscalatedAt    time.Time `json:"escalated_at"`
}

// Notifier delivers an escalation. Implementations must be safe for
// concurrent use; the orchestrator guarantees at-most-once invocation per
// repair record.
type Notifier interface {
	Notify(ctx context.Context, e Escalation) error
}

// LogNotifier writes escalations to the structured log. The default when
// no webhook is configured: escalations are then picked up by log-based
// alerting.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, e Escalation) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("repair escalated to human queue",
		"target_id", e.TargetID,
		"repair_record_id", e.RepairRecordID,
		"iterations", e.Iterations,
		"failure_reason", e.FailureReason,
	)
	return nil
}

// WebhookNotifier POSTs the escalation as JSON to a configured endpoint.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier creates a notifier with a bounded default timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, e Escalation) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build escalation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver escalation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("escalation webhook returned %s", resp.Status)
	}
	return nil
}
