// Copyright 2025 Certen Protocol
//
// Block watcher - the chain-side producer. Streams finalized blocks from an
// event source, decodes job calls, and checkpoints the last processed block
// so restarts resume where they left off.

package chains

import (
	"context"
	"fmt"
	"time"

	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/kvdb"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Watcher is a runner.Producer fed by finalized chain blocks.
type Watcher struct {
	src       EventSource
	store     *kvdb.Store
	serviceID uint64

	blocks  <-chan BlockRef
	pending []*job.Call
	log     *logrus.Entry
}

// NewWatcher creates a chain producer. store may be nil to disable
// checkpointing.
func NewWatcher(src EventSource, store *kvdb.Store, serviceID uint64) *Watcher {
	return &Watcher{
		src:       src,
		store:     store,
		serviceID: serviceID,
		log:       logging.Component(src.AdapterName() + "-watcher"),
	}
}

// Name implements runner.Producer.
func (w *Watcher) Name() string { return w.src.AdapterName() + "-watcher" }

// Next implements runner.Producer. Chain subscriptions are infinite; Next
// blocks until the next decoded job call.
func (w *Watcher) Next(ctx context.Context) (*job.Call, error) {
	for {
		if len(w.pending) > 0 {
			call := w.pending[0]
			w.pending = w.pending[1:]
			return call, nil
		}

		if w.blocks == nil {
			blocks, err := w.src.SubscribeFinalizedBlocks(ctx)
			if err != nil {
				return nil, fmt.Errorf("subscribe finalized blocks: %w", err)
			}
			w.blocks = blocks
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case block, ok := <-w.blocks:
			if !ok {
				return nil, fmt.Errorf("finalized block subscription ended")
			}
			if w.skipProcessed(block) {
				continue
			}
			calls, err := w.src.JobCalls(ctx, block)
			bo := newBackoff()
			for attempt := 1; err != nil && IsTransient(err) && attempt < maxConsecutive; attempt++ {
				select {
				case <-time.After(bo.NextBackOff()):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				calls, err = w.src.JobCalls(ctx, block)
			}
			if err != nil {
				// Transient failures are retried with bounded backoff above;
				// a block that still fails, or fails permanently, is logged
				// and skipped rather than stalling the stream.
				w.log.WithField("block", block.Number).WithError(err).Error("failed to decode block events")
				continue
			}
			w.checkpoint(block)
			if len(calls) > 0 {
				w.log.WithFields(logrus.Fields{
					"block": block.Number,
					"calls": len(calls),
				}).Debug("decoded job calls from finalized block")
				w.pending = calls
			}
		}
	}
}

func (w *Watcher) skipProcessed(block BlockRef) bool {
	if w.store == nil {
		return false
	}
	last, ok, err := w.store.LastProcessedBlock(w.src.AdapterName(), w.serviceID)
	if err != nil {
		w.log.WithError(err).Warn("checkpoint read failed")
		return false
	}
	return ok && block.Number <= last
}

func (w *Watcher) checkpoint(block BlockRef) {
	if w.store == nil {
		return
	}
	if err := w.store.SetLastProcessedBlock(w.src.AdapterName(), w.serviceID, block.Number); err != nil {
		w.log.WithError(err).Warn("checkpoint write failed")
	}
}
