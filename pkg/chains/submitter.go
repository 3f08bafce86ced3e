// Copyright 2025 Certen Protocol
//
// Result submitter - the chain-side consumer. Results carrying chain
// metadata are submitted as transactions, one FIFO queue per service id to
// avoid nonce conflicts; across service ids submissions run concurrently.
// Transient failures retry with exponential backoff (500 ms base, 30 s cap,
// 10% jitter); five consecutive failures make the error permanent.

package chains

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/certen/blueprint-runtime/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	backoffBase    = 500 * time.Millisecond
	backoffCap     = 30 * time.Second
	backoffJitter  = 0.1
	maxConsecutive = 5

	queueDepth = 128
)

type submission struct {
	serviceID uint64
	callID    uint64
	body      []byte
}

// Submitter consumes job results and submits them to the chain.
type Submitter struct {
	name   string
	client Client

	mu     sync.Mutex
	queues map[uint64]chan submission
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	collectors *metrics.Collectors
	log        *logrus.Entry

	// OnPermanentFailure, when set, observes submissions that exhausted
	// their retries or failed permanently.
	OnPermanentFailure func(serviceID, callID uint64, err error)
}

// NewSubmitter creates a chain result consumer.
func NewSubmitter(name string, client Client) *Submitter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Submitter{
		name:   name,
		client: client,
		queues: make(map[uint64]chan submission),
		ctx:    ctx,
		cancel: cancel,
		log:    logging.Component(name + "-submitter"),
	}
}

// Metrics attaches prometheus collectors.
func (s *Submitter) Metrics(c *metrics.Collectors) *Submitter {
	s.collectors = c
	return s
}

// Name implements runner.Consumer.
func (s *Submitter) Name() string { return s.name + "-submitter" }

// Consume implements runner.Consumer. Results without chain metadata are
// not for this consumer and are skipped; Err results are logged and never
// submitted.
func (s *Submitter) Consume(ctx context.Context, res *job.Result) error {
	if res.IsErr() {
		s.log.WithField("tag", res.ErrTag()).Debug("not submitting error result")
		return nil
	}
	meta := res.Metadata()
	serviceRaw, ok := meta.GetString(job.KeyServiceID)
	if !ok {
		return nil
	}
	callRaw, ok := meta.GetString(job.KeyCallID)
	if !ok {
		return nil
	}
	serviceID, err1 := strconv.ParseUint(serviceRaw, 10, 64)
	callID, err2 := strconv.ParseUint(callRaw, 10, 64)
	if err1 != nil || err2 != nil {
		s.log.Warn("result carries malformed chain metadata, dropping")
		return nil
	}

	sub := submission{serviceID: serviceID, callID: callID, body: res.Body()}
	select {
	case s.queue(serviceID) <- sub:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queue returns the FIFO queue for a service id, starting its worker on
// first use.
func (s *Submitter) queue(serviceID uint64) chan submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[serviceID]
	if !ok {
		q = make(chan submission, queueDepth)
		s.queues[serviceID] = q
		s.wg.Add(1)
		go s.worker(serviceID, q)
	}
	return q
}

func (s *Submitter) worker(serviceID uint64, q chan submission) {
	defer s.wg.Done()
	wlog := s.log.WithField(job.KeyServiceID, serviceID)
	for {
		select {
		case <-s.ctx.Done():
			return
		case sub := <-q:
			s.submitWithRetry(wlog, sub)
		}
	}
}

func newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffBase
	bo.MaxInterval = backoffCap
	bo.RandomizationFactor = backoffJitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (s *Submitter) submitWithRetry(wlog *logrus.Entry, sub submission) {
	bo := newBackoff()
	slog := wlog.WithField(job.KeyCallID, sub.callID)

	var lastErr error
	for attempt := 1; attempt <= maxConsecutive; attempt++ {
		txHash, err := s.client.SubmitResultTx(s.ctx, sub.serviceID, sub.callID, sub.body)
		if err == nil {
			slog.WithField("tx", txHash).Info("submitted job result")
			s.count("ok")
			return
		}
		lastErr = err
		if !IsTransient(err) {
			slog.WithError(err).Error("permanent submission failure")
			s.fail(sub, err)
			return
		}
		slog.WithError(err).WithField("attempt", attempt).Warn("transient submission failure, backing off")

		select {
		case <-time.After(bo.NextBackOff()):
		case <-s.ctx.Done():
			return
		}
	}

	err := fmt.Errorf("submission failed %d consecutive times: %w", maxConsecutive, lastErr)
	slog.WithError(err).Error("giving up on submission")
	s.fail(sub, err)
}

func (s *Submitter) fail(sub submission, err error) {
	s.count("failed")
	if s.OnPermanentFailure != nil {
		s.OnPermanentFailure(sub.serviceID, sub.callID, err)
	}
}

func (s *Submitter) count(outcome string) {
	if s.collectors != nil {
		s.collectors.ChainSubmissions.WithLabelValues(outcome).Inc()
	}
}

// Close stops the workers. Queued submissions are abandoned.
func (s *Submitter) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
