// Copyright 2025 Certen Protocol
//
// Blueprint runner - the producer/consumer event pipeline.
//
// The runner merges job calls from every registered producer, drives them
// through the router, fans resulting job results out to every consumer, and
// supervises background services. Shutdown is rooted in a single signal:
// context cancellation, a required background service failing, or a fatal
// consumer failing.

package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/certen/blueprint-runtime/pkg/metrics"
	"github.com/certen/blueprint-runtime/pkg/router"
	"github.com/sirupsen/logrus"
)

// ErrProducerDone marks the clean end of a finite producer's stream.
var ErrProducerDone = errors.New("producer stream finished")

// Producer is a named lazy stream of job calls. Next blocks until a call is
// available, the context is cancelled, or the stream ends with
// ErrProducerDone.
type Producer interface {
	Name() string
	Next(ctx context.Context) (*job.Call, error)
}

// Consumer is a sink for job results. Every result is delivered to every
// consumer unless the consumer filters internally.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, res *job.Result) error
}

// BackgroundService is a long-lived task run orthogonally to the dispatch
// loop. Start launches the service and returns a completion channel; the
// channel yields the service's terminal error (nil for a clean exit).
type BackgroundService interface {
	Name() string
	Start(ctx context.Context) (<-chan error, error)
}

const (
	defaultHighWater    = 1024
	defaultDrainTimeout = 10 * time.Second
)

type consumerEntry struct {
	c     Consumer
	fatal bool
}

type serviceEntry struct {
	s        BackgroundService
	required bool
}

// Runner drives the pipeline. Configure with the builder methods, then call
// Run once.
type Runner struct {
	svc       *router.Service
	producers []Producer
	consumers []consumerEntry
	services  []serviceEntry

	highWater    int
	drainTimeout time.Duration

	collectors *metrics.Collectors
	log        *logrus.Entry
}

// New creates a runner around a finalized router service.
func New(svc *router.Service) *Runner {
	return &Runner{
		svc:          svc,
		highWater:    defaultHighWater,
		drainTimeout: defaultDrainTimeout,
		log:          logging.Component("runner"),
	}
}

// Producer registers a producer. Registration order is preserved.
func (r *Runner) Producer(p Producer) *Runner {
	r.producers = append(r.producers, p)
	return r
}

// Consumer registers a result consumer whose failures are logged only.
func (r *Runner) Consumer(c Consumer) *Runner {
	r.consumers = append(r.consumers, consumerEntry{c: c})
	return r
}

// FatalConsumer registers a consumer whose failure halts the pipeline.
func (r *Runner) FatalConsumer(c Consumer) *Runner {
	r.consumers = append(r.consumers, consumerEntry{c: c, fatal: true})
	return r
}

// BackgroundService registers a required background service; its failure
// initiates pipeline shutdown.
func (r *Runner) BackgroundService(s BackgroundService) *Runner {
	r.services = append(r.services, serviceEntry{s: s, required: true})
	return r
}

// OptionalBackgroundService registers a service whose failure is logged but
// does not halt the pipeline. Failed services are not restarted.
func (r *Runner) OptionalBackgroundService(s BackgroundService) *Runner {
	r.services = append(r.services, serviceEntry{s: s})
	return r
}

// HighWater sets the dispatch queue bound; when exceeded, producers stop
// being polled rather than calls being dropped.
func (r *Runner) HighWater(n int) *Runner {
	if n > 0 {
		r.highWater = n
	}
	return r
}

// DrainTimeout bounds how long shutdown waits for in-flight dispatches.
func (r *Runner) DrainTimeout(d time.Duration) *Runner {
	r.drainTimeout = d
	return r
}

// Metrics attaches prometheus collectors for dispatch accounting.
func (r *Runner) Metrics(c *metrics.Collectors) *Runner {
	r.collectors = c
	return r
}

type svcTermination struct {
	name     string
	required bool
	err      error
}

// Run starts background services and producers, then executes the main loop
// until ctx is cancelled or a shutdown condition fires. It returns the error
// that initiated shutdown, or nil for a clean stop.
func (r *Runner) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start background services in registration order.
	termCh := make(chan svcTermination, len(r.services))
	for _, entry := range r.services {
		done, err := entry.s.Start(runCtx)
		if err != nil {
			return fmt.Errorf("start background service %s: %w", entry.s.Name(), err)
		}
		r.log.WithField("service", entry.s.Name()).Info("background service started")
		go func(entry serviceEntry, done <-chan error) {
			err := <-done
			termCh <- svcTermination{name: entry.s.Name(), required: entry.required, err: err}
		}(entry, done)
	}

	// Merge producers into a bounded stream. The channel bound is the
	// high-water mark: a full channel blocks the producer pumps, which is
	// the producer-directed backpressure.
	callCh := make(chan *job.Call, r.highWater)
	var pumps sync.WaitGroup
	for _, p := range r.producers {
		pumps.Add(1)
		go r.pump(runCtx, p, callCh, &pumps)
	}
	go func() {
		pumps.Wait()
		close(callCh)
	}()

	var runErr error

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case term := <-termCh:
			if term.err != nil {
				if term.required {
					runErr = fmt.Errorf("background service %s failed: %w", term.name, term.err)
					r.log.WithField("service", term.name).WithError(term.err).Error("required background service failed, shutting down")
					break loop
				}
				r.log.WithField("service", term.name).WithError(term.err).Warn("optional background service failed")
				continue
			}
			r.log.WithField("service", term.name).Info("background service finished")
		case call, ok := <-callCh:
			if !ok {
				// Every producer finished; nothing more will arrive.
				r.log.Info("all producers finished")
				break loop
			}
			if err := r.process(runCtx, call); err != nil {
				runErr = err
				break loop
			}
		}
	}

	cancel()
	r.drain(callCh)
	r.closeConsumers()
	return runErr
}

// process dispatches one call and fans its results out to the consumers.
// There is no global per-call deadline; routes that want one layer it on.
func (r *Runner) process(ctx context.Context, call *job.Call) error {
	if r.collectors != nil {
		r.collectors.JobsDispatched.Inc()
	}

	results, err := r.svc.Dispatch(ctx, call)
	if err != nil {
		// Service-layer failures are recorded but do not halt the pipeline.
		if r.collectors != nil {
			r.collectors.DispatchFailures.Inc()
		}
		r.log.WithField("job_id", call.JobID()).WithError(err).Error("dispatch failed")
		return nil
	}

	for _, res := range results {
		if r.collectors != nil {
			if res.IsOk() {
				r.collectors.ResultsOk.Inc()
			} else {
				r.collectors.ResultsErr.Inc()
			}
		}
		if err := r.deliver(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// deliver forwards one result to every consumer in parallel.
func (r *Runner) deliver(ctx context.Context, res *job.Result) error {
	type delivery struct {
		entry consumerEntry
		err   error
	}
	ch := make(chan delivery, len(r.consumers))
	for _, entry := range r.consumers {
		go func(entry consumerEntry) {
			ch <- delivery{entry: entry, err: entry.c.Consume(ctx, res)}
		}(entry)
	}
	for range r.consumers {
		d := <-ch
		if d.err == nil {
			continue
		}
		if r.collectors != nil {
			r.collectors.ConsumerFailures.Inc()
		}
		if d.entry.fatal {
			r.log.WithField("consumer", d.entry.c.Name()).WithError(d.err).Error("fatal consumer failed, shutting down")
			return fmt.Errorf("fatal consumer %s: %w", d.entry.c.Name(), d.err)
		}
		r.log.WithField("consumer", d.entry.c.Name()).WithError(d.err).Warn("consumer delivery failed")
	}
	return nil
}

// pump polls a single producer into the merged stream.
func (r *Runner) pump(ctx context.Context, p Producer, out chan<- *job.Call, wg *sync.WaitGroup) {
	defer wg.Done()
	plog := r.log.WithField("producer", p.Name())
	for {
		call, err := p.Next(ctx)
		switch {
		case errors.Is(err, ErrProducerDone):
			plog.Info("producer finished")
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case err != nil:
			plog.WithError(err).Error("producer failed")
			return
		}
		select {
		case out <- call:
		case <-ctx.Done():
			return
		}
	}
}

// drain processes calls already queued at shutdown, bounded by the drain
// timeout. Remaining calls are dropped after the deadline.
func (r *Runner) drain(callCh <-chan *job.Call) {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	start := time.Now()
	for {
		if time.Since(start) > r.drainTimeout {
			r.log.Warn("drain timeout elapsed, dropping queued calls")
			return
		}
		select {
		case call, ok := <-callCh:
			if !ok {
				return
			}
			if err := r.process(drainCtx, call); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (r *Runner) closeConsumers() {
	type closer interface{ Close() error }
	for _, entry := range r.consumers {
		if c, ok := entry.c.(closer); ok {
			if err := c.Close(); err != nil {
				r.log.WithField("consumer", entry.c.Name()).WithError(err).Warn("consumer close failed")
			}
		}
	}
}
