// Copyright 2025 Certen Protocol
//
// In-memory network service for tests and single-process multi-party runs.

package transport

import (
	"context"
	"fmt"
	"sync"
)

// Hub wires a set of in-memory peers together.
type Hub struct {
	mu    sync.Mutex
	peers map[string]*MemoryNetwork
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[string]*MemoryNetwork)}
}

// Join registers a named peer and returns its network service.
func (h *Hub) Join(name string) *MemoryNetwork {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := &MemoryNetwork{hub: h, self: name, inbox: make(chan Incoming, 1024)}
	h.peers[name] = n
	return n
}

// MemoryNetwork is a NetworkService delivering messages through the hub.
type MemoryNetwork struct {
	hub   *Hub
	self  string
	inbox chan Incoming
}

// Broadcast implements NetworkService. The topic is ignored: the message goes
// to every other peer on the hub, whatever instance it serves.
func (n *MemoryNetwork) Broadcast(ctx context.Context, _ string, msg []byte) error {
	n.hub.mu.Lock()
	targets := make([]*MemoryNetwork, 0, len(n.hub.peers))
	for name, peer := range n.hub.peers {
		if name != n.self {
			targets = append(targets, peer)
		}
	}
	n.hub.mu.Unlock()

	for _, peer := range targets {
		select {
		case peer.inbox <- Incoming{Peer: n.self, Data: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Send implements NetworkService.
func (n *MemoryNetwork) Send(ctx context.Context, peer string, msg []byte) error {
	n.hub.mu.Lock()
	target, ok := n.hub.peers[peer]
	n.hub.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown peer %q", peer)
	}
	select {
	case target.inbox <- Incoming{Peer: n.self, Data: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe implements NetworkService.
func (n *MemoryNetwork) Subscribe() <-chan Incoming {
	return n.inbox
}
