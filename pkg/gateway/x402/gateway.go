// Copyright 2025 Certen Protocol
//
// x402 payment gateway - monetizes job dispatch. Price discovery via
// GET /x402/jobs/{service_id}/{job_index}/price, paid submission via
// POST /x402/jobs/{service_id}/{job_index} with an X-Payment assertion
// verified against the facilitator. Verified calls flow into the runner
// through a channel producer.

package x402

import (
	"context"
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
	"github.com/certen/blueprint-runtime/pkg/pricing"
	"github.com/certen/blueprint-runtime/pkg/runner"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// PaymentHeader carries the inbound payment assertion.
const PaymentHeader = "X-Payment"

// Metadata keys stamped onto paid job calls.
const (
	KeyOrigin      = "x402.origin"
	KeyToken       = "x402.token"
	KeyNetwork     = "x402.network"
	KeyQuoteDigest = "x402.quote_digest"
)

const maxBodyBytes = 10 << 20

// Gateway is the x402 HTTP server.
type Gateway struct {
	bind        string
	serviceID   uint64
	tokens      []config.Token
	quoteTTL    time.Duration
	oracle      pricing.Oracle
	facilitator Facilitator

	quotes   *quoteBook
	producer *runner.ChannelProducer
	callID   atomic.Uint64
	draining atomic.Bool

	listener   net.Listener
	collectors *metrics.Collectors
	log        *logrus.Entry
}

// New creates a gateway and its paired producer.
func New(cfg *config.Config, oracle pricing.Oracle, facilitator Facilitator) (*Gateway, *runner.ChannelProducer, error) {
	if len(cfg.AcceptedTokens) == 0 {
		return nil, nil, errors.New("at least one accepted token must be configured")
	}
	if facilitator == nil {
		return nil, nil, errors.New("a payment facilitator is required")
	}
	producer := runner.NewChannelProducer("x402-gateway", 256)
	g := &Gateway{
		bind:        cfg.BindAddress,
		serviceID:   cfg.ServiceID,
		tokens:      cfg.AcceptedTokens,
		quoteTTL:    time.Duration(cfg.QuoteTTLSecs) * time.Second,
		oracle:      oracle,
		facilitator: facilitator,
		quotes:      newQuoteBook(),
		producer:    producer,
		log:         logging.Component("x402-gateway"),
	}
	return g, producer, nil
}

// Metrics attaches prometheus collectors.
func (g *Gateway) Metrics(c *metrics.Collectors) *Gateway {
	g.collectors = c
	return g
}

// Name implements runner.BackgroundService.
func (g *Gateway) Name() string { return "x402-gateway" }

// Addr returns the bound listen address once Start has succeeded.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return g.bind
	}
	return g.listener.Addr().String()
}

// Start implements runner.BackgroundService.
func (g *Gateway) Start(ctx context.Context) (<-chan error, error) {
	mux := chi.NewRouter()
	mux.Get("/x402/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/x402/jobs/{service_id}/{job_index}/price", g.handlePrice)
	mux.Post("/x402/jobs/{service_id}/{job_index}", g.handleSubmit)

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

	g.log.WithField("addr", ln.Addr().String()).Info("x402 gateway listening")
	return done, nil
}

// jobFromRequest parses and checks the path parameters. A zero Quote return
// means the job is unknown and a 404 was written.
func (g *Gateway) jobFromRequest(w http.ResponseWriter, r *http.Request) (uint64, uint32, *Quote, bool) {
	serviceID, err1 := strconv.ParseUint(chi.URLParam(r, "service_id"), 10, 64)
	jobIndex64, err2 := strconv.ParseUint(chi.URLParam(r, "job_index"), 10, 32)
	jobIndex := uint32(jobIndex64)

	if err1 != nil || err2 != nil || serviceID != g.serviceID {
		g.respondError(w, http.StatusNotFound, "unknown job")
		return 0, 0, nil, false
	}
	base, ok := g.oracle.PriceNative(serviceID, jobIndex)
	if !ok {
		g.respondError(w, http.StatusNotFound, "unknown job")
		return 0, 0, nil, false
	}

	quote := g.quotes.current(serviceID, jobIndex, func() *Quote {
		return newQuote(serviceID, jobIndex, base, g.tokens, g.quoteTTL)
	})
	return serviceID, jobIndex, quote, true
}

func (g *Gateway) handlePrice(w http.ResponseWriter, r *http.Request) {
	_, _, quote, ok := g.jobFromRequest(w, r)
	if !ok {
		return
	}
	g.count(http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(quote)
}

type acceptedResponse struct {
	Status string `json:"status"`
	JobID  uint32 `json:"job_id"`
	CallID uint64 `json:"call_id"`
}

type paymentRequiredResponse struct {
	Error   string             `json:"error"`
	Options []SettlementOption `json:"settlement_options"`
	Digest  string             `json:"quote_digest"`
}

func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		g.respondError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	serviceID, jobIndex, quote, ok := g.jobFromRequest(w, r)
	if !ok {
		return
	}

	assertion := r.Header.Get(PaymentHeader)
	if assertion == "" {
		g.respondPaymentRequired(w, quote, "payment required")
		return
	}

	receipt, err := g.facilitator.Verify(r.Context(), assertion, quote.Digest)
	if err != nil {
		g.log.WithError(err).Debug("payment verification failed")
		g.respondPaymentRequired(w, quote, "payment verification failed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		g.respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	callID := g.callID.Add(1)
	call := job.NewCall(job.ID(jobIndex), body)
	meta := call.Metadata()
	meta.InsertString(job.KeyServiceID, strconv.FormatUint(serviceID, 10))
	meta.InsertString(job.KeyCallID, strconv.FormatUint(callID, 10))
	meta.InsertString(KeyOrigin, "x402")
	meta.InsertString(KeyQuoteDigest, quote.Digest)
	if len(quote.Options) > 0 {
		meta.InsertString(KeyToken, quote.Options[0].Asset)
		meta.InsertString(KeyNetwork, quote.Options[0].Network)
	}

	if err := g.producer.Send(r.Context(), call); err != nil {
		g.respondError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}

	g.log.WithFields(logrus.Fields{
		"job_index": jobIndex,
		"call_id":   callID,
		"receipt":   receipt.ID,
	}).Info("accepted paid job call")

	g.count(http.StatusAccepted)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(acceptedResponse{
		Status: "accepted",
		JobID:  jobIndex,
		CallID: callID,
	})
}

func (g *Gateway) respondPaymentRequired(w http.ResponseWriter, quote *Quote, msg string) {
	g.count(http.StatusPaymentRequired)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(paymentRequiredResponse{
		Error:   msg,
		Options: quote.Options,
		Digest:  quote.Digest,
	})
}

func (g *Gateway) respondError(w http.ResponseWriter, code int, msg string) {
	g.count(code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (g *Gateway) count(code int) {
	if g.collectors != nil {
		g.collectors.GatewayRequests.WithLabelValues("x402", strconv.Itoa(code)).Inc()
	}
}
