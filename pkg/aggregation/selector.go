// Copyright 2025 Certen Protocol
//
// Deterministic aggregator selection. Every party ranks the candidate set
// by hashing (party index, public key, message hash) and takes the k
// lowest-ranked parties, so all honest parties agree on the aggregators
// without coordination.

package aggregation

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/certen/blueprint-runtime/pkg/crypto/blssig"
	"github.com/certen/blueprint-runtime/pkg/transport"
)

func aggregatorRank(p transport.PartyIndex, pk blssig.PublicKey, msgHash [32]byte) [32]byte {
	h := sha256.New()
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], uint16(p))
	h.Write(idx[:])
	h.Write(pk.Bytes())
	h.Write(msgHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SelectAggregators returns the k lowest-ranked parties for the message.
// k is clamped to [1, len(pubkeys)].
func SelectAggregators(pubkeys map[transport.PartyIndex]blssig.PublicKey, msgHash [32]byte, k int) []transport.PartyIndex {
	if k < 1 {
		k = 1
	}
	if k > len(pubkeys) {
		k = len(pubkeys)
	}

	type ranked struct {
		party transport.PartyIndex
		rank  [32]byte
	}
	candidates := make([]ranked, 0, len(pubkeys))
	for p, pk := range pubkeys {
		candidates = append(candidates, ranked{party: p, rank: aggregatorRank(p, pk, msgHash)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i].rank[:], candidates[j].rank[:]) < 0
	})

	out := make([]transport.PartyIndex, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].party
	}
	return out
}
