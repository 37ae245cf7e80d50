package net

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Peer is one websocket connection to the hub.
type Peer struct {
	ID          string    `json:"id"`
	Board       string    `json:"board"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// PeerManager tracks the hub's live connections.
type PeerManager struct {
	log   *slog.Logger
	peers map[string]Peer
	mu    sync.RWMutex
}

// NewPeerManager creates an empty manager.
func NewPeerManager(logger *slog.Logger) *PeerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerManager{
		log:   logger,
		peers: make(map[string]Peer),
	}
}

// Add registers a new connection and returns its id.
func (pm *PeerManager) Add(board, remote string) Peer {
	p := Peer{ID: ulid.Make().String(), Board: board, Remote: remote, ConnectedAt: time.Now()}
	pm.mu.Lock()
	pm.peers[p.ID] = p
	pm.mu.Unlock()
	pm.log.Info("[HUB] peer connected", "peer", p.ID, "board", board, "remote", remote)
	return p
}

// Remove forgets a connection.
func (pm *PeerManager) Remove(id string) {
	pm.mu.Lock()
	p, ok := pm.peers[id]
	delete(pm.peers, id)
	pm.mu.Unlock()
	if ok {
		pm.log.Info("[HUB] peer disconnected", "peer", id, "board", p.Board, "connected_for", time.Since(p.ConnectedAt).Round(time.Millisecond))
	}
}

// Count returns the number of live connections.
func (pm *PeerManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.peers)
}

// Boards returns the number of live connections per board.
func (pm *PeerManager) Boards() map[string]int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make(map[string]int)
	for _, p := range pm.peers {
		out[p.Board]++
	}
	return out
}

// List returns the live connections, oldest first. ULIDs sort by time.
func (pm *PeerManager) List() []Peer {
	pm.mu.RLock()
	out := make([]Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		out = append(out, p)
	}
	pm.mu.RUnlock()
	slices.SortFunc(out, func(a, b Peer) int { return strings.Compare(a.ID, b.ID) })
	return out
}
