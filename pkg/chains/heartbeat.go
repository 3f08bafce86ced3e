// Copyright 2025 Certen Protocol
//
// Heartbeat service - periodically submits an operator liveness heartbeat
// through the chain client. Runs as an optional background service; the
// dispatch pipeline does not depend on it.

package chains

import (
	"context"
	"encoding/json"
	"time"

	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/sirupsen/logrus"
)

// DefaultHeartbeatInterval is used when no interval is configured.
const DefaultHeartbeatInterval = 60 * time.Second

// Heartbeat submits periodic liveness reports.
type Heartbeat struct {
	client    Client
	serviceID uint64
	interval  time.Duration
	log       *logrus.Entry
}

// NewHeartbeat creates the heartbeat service.
func NewHeartbeat(client Client, serviceID uint64, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		client:    client,
		serviceID: serviceID,
		interval:  interval,
		log:       logging.Component("heartbeat"),
	}
}

// Name implements runner.BackgroundService.
func (h *Heartbeat) Name() string { return "heartbeat" }

type heartbeatPayload struct {
	ServiceID uint64 `json:"service_id"`
	Timestamp int64  `json:"timestamp"`
}

// Start implements runner.BackgroundService.
func (h *Heartbeat) Start(ctx context.Context) (<-chan error, error) {
	done := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				done <- nil
				return
			case <-ticker.C:
				payload, _ := json.Marshal(heartbeatPayload{
					ServiceID: h.serviceID,
					Timestamp: time.Now().Unix(),
				})
				if err := h.client.SubmitHeartbeat(ctx, h.serviceID, payload); err != nil {
					// Heartbeats are best-effort; the next tick retries.
					h.log.WithError(err).Warn("heartbeat submission failed")
				}
			}
		}
	}()
	return done, nil
}
