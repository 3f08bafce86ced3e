// Copyright 2025 Certen Protocol
//
// Co-signing consumer - runs a signature aggregation session over each Ok
// result before handing it to the downstream consumer (typically a chain
// submitter), so submissions carry a weighted aggregate signature.

package aggregation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/certen/blueprint-runtime/pkg/runner"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Metadata keys stamped onto co-signed results.
const (
	KeySignature    = "agg.signature"
	KeyContributors = "agg.contributors"
	KeyWeight       = "agg.weight"
)

// SessionFactory builds a protocol participant for one signing session.
// The instance id is shared by all parties signing the same result.
type SessionFactory func(ctx context.Context, instance uuid.UUID) (*Protocol, error)

// CoSigningConsumer aggregates signatures over each result digest, then
// forwards the stamped result.
type CoSigningConsumer struct {
	factory SessionFactory
	next    runner.Consumer
	log     *logrus.Entry
}

// NewCoSigningConsumer wraps next with inline co-signing.
func NewCoSigningConsumer(factory SessionFactory, next runner.Consumer) *CoSigningConsumer {
	return &CoSigningConsumer{
		factory: factory,
		next:    next,
		log:     logging.Component("co-signing"),
	}
}

// Name implements runner.Consumer.
func (c *CoSigningConsumer) Name() string { return "co-signing:" + c.next.Name() }

// resultInstance derives the shared session id from the result's chain
// coordinates, so all operators handling the same call agree on it.
func resultInstance(res *job.Result) uuid.UUID {
	service, _ := res.Metadata().GetString(job.KeyServiceID)
	call, _ := res.Metadata().GetString(job.KeyCallID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(service+"/"+call))
}

// Consume implements runner.Consumer. Err results pass through unsigned.
func (c *CoSigningConsumer) Consume(ctx context.Context, res *job.Result) error {
	if res.IsErr() {
		return c.next.Consume(ctx, res)
	}

	proto, err := c.factory(ctx, resultInstance(res))
	if err != nil {
		return fmt.Errorf("build aggregation session: %w", err)
	}

	digest := sha256.Sum256(res.Body())
	agg, err := proto.Run(ctx, digest)
	if err != nil {
		return fmt.Errorf("aggregation session: %w", err)
	}

	contributors := make([]string, len(agg.Contributors))
	for i, p := range agg.Contributors {
		contributors[i] = strconv.FormatUint(uint64(p), 10)
	}
	meta := res.Metadata()
	meta.Insert(KeySignature, []byte(hex.EncodeToString(agg.Signature.Bytes())))
	meta.Insert(KeyContributors, []byte(strings.Join(contributors, ",")))
	meta.Insert(KeyWeight, []byte(strconv.FormatUint(agg.TotalWeight, 10)))

	c.log.WithFields(logrus.Fields{
		"weight":       agg.TotalWeight,
		"contributors": len(agg.Contributors),
	}).Debug("result co-signed")

	return c.next.Consume(ctx, res)
}
