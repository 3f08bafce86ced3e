// Copyright 2025 Certen Protocol
//
// Webhook gateway - an HTTP server translating authenticated webhook
// deliveries into job calls. Runs as a background service inside the
// blueprint runner; verified calls flow out through a channel producer.

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/certen/blueprint-runtime/pkg/config"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/certen/blueprint-runtime/pkg/metrics"
	"github.com/certen/blueprint-runtime/pkg/runner"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// SignatureHeader carries the hex HMAC-SHA256 signature for hmac-mode
// endpoints.
const SignatureHeader = "X-Webhook-Signature"

const maxBodyBytes = 10 << 20 // 10 MiB

// Gateway is the webhook HTTP server.
type Gateway struct {
	bind      string
	serviceID uint64
	endpoints []config.Endpoint

	producer *runner.ChannelProducer
	// Monotonic call id shared across all endpoints. First value is 1.
	callID   atomic.Uint64
	draining atomic.Bool

	listener   net.Listener
	collectors *metrics.Collectors
	log        *logrus.Entry
}

// New creates a gateway and its paired producer.
func New(bind string, serviceID uint64, endpoints []config.Endpoint) (*Gateway, *runner.ChannelProducer, error) {
	if len(endpoints) == 0 {
		return nil, nil, errors.New("at least one webhook endpoint must be configured")
	}
	producer := runner.NewChannelProducer("webhook-gateway", 256)
	g := &Gateway{
		bind:      bind,
		serviceID: serviceID,
		endpoints: endpoints,
		producer:  producer,
		log:       logging.Component("webhook-gateway"),
	}
	return g, producer, nil
}

// Metrics attaches prometheus collectors.
func (g *Gateway) Metrics(c *metrics.Collectors) *Gateway {
	g.collectors = c
	return g
}

// Name implements runner.BackgroundService.
func (g *Gateway) Name() string { return "webhook-gateway" }

// Addr returns the bound listen address, once Start has succeeded. Useful
// when binding port 0.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return g.bind
	}
	return g.listener.Addr().String()
}

// Start implements runner.BackgroundService. The returned channel yields
// the server's terminal error.
func (g *Gateway) Start(ctx context.Context) (<-chan error, error) {
	mux := chi.NewRouter()
	mux.Get("/webhooks/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	for _, ep := range g.endpoints {
		mux.Post(ep.Path, g.endpointHandler(ep))
	}

	ln, err := net.Listen("tcp", g.bind)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", g.bind, err)
	}
	g.listener = ln

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		g.draining.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.log.WithError(err).Warn("gateway shutdown incomplete")
		}
		g.producer.Close()
	}()

	g.log.WithField("addr", ln.Addr().String()).Info("webhook gateway listening")
	return done, nil
}

type acceptedResponse struct {
	Status string `json:"status"`
	JobID  uint32 `json:"job_id"`
	CallID uint64 `json:"call_id"`
}

func (g *Gateway) endpointHandler(ep config.Endpoint) http.HandlerFunc {
	elog := g.log.WithField("path", ep.Path)
	return func(w http.ResponseWriter, r *http.Request) {
		if g.draining.Load() {
			g.respondError(w, "webhook", http.StatusServiceUnavailable, "shutting down")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			g.respondError(w, "webhook", http.StatusBadRequest, "unreadable body")
			return
		}

		if !authenticate(ep, r, body) {
			elog.Debug("rejected webhook delivery")
			g.respondError(w, "webhook", http.StatusUnauthorized, "authentication failed")
			return
		}

		callID := g.callID.Add(1)
		call := job.NewCall(job.ID(ep.JobID), body)
		meta := call.Metadata()
		meta.InsertString(job.KeyServiceID, strconv.FormatUint(g.serviceID, 10))
		meta.InsertString(job.KeyCallID, strconv.FormatUint(callID, 10))
		meta.InsertString(job.KeyPath, r.URL.Path)
		if ep.Name != "" {
			meta.InsertString(job.KeyEndpoint, ep.Name)
		}

		if err := g.producer.Send(r.Context(), call); err != nil {
			g.respondError(w, "webhook", http.StatusServiceUnavailable, "pipeline unavailable")
			return
		}

		g.count("webhook", http.StatusAccepted)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(acceptedResponse{
			Status: "accepted",
			JobID:  ep.JobID,
			CallID: callID,
		})
	}
}

func authenticate(ep config.Endpoint, r *http.Request, body []byte) bool {
	switch ep.Auth {
	case config.AuthNone:
		return true
	case config.AuthBearer:
		return subtle.ConstantTimeCompare(
			[]byte(r.Header.Get("Authorization")),
			[]byte("Bearer "+ep.Secret),
		) == 1
	case config.AuthAPIKey:
		return subtle.ConstantTimeCompare(
			[]byte(r.Header.Get(ep.APIKeyHeader)),
			[]byte(ep.Secret),
		) == 1
	case config.AuthHMAC:
		sig, err := hex.DecodeString(r.Header.Get(SignatureHeader))
		if err != nil {
			return false
		}
		mac := hmac.New(sha256.New, []byte(ep.Secret))
		mac.Write(body)
		return hmac.Equal(sig, mac.Sum(nil))
	default:
		return false
	}
}

func (g *Gateway) respondError(w http.ResponseWriter, gateway string, code int, msg string) {
	g.count(gateway, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (g *Gateway) count(gateway string, code int) {
	if g.collectors != nil {
		g.collectors.GatewayRequests.WithLabelValues(gateway, strconv.Itoa(code)).Inc()
	}
}
