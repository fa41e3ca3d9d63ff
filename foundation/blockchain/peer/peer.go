// Package peer maintains the peer related information such as the set
// of known peers and their status.
package peer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ID is the process unique identifier of a node.
type ID uint32

// ParseID converts the textual form of an ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}

	return ID(v), nil
}

// String implements the fmt.Stringer interface.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// =============================================================================

// Peer represents information about a Node in the network. Host is empty
// for a peer that lives in the same process.
type Peer struct {
	ID   ID     `json:"id"`
	Host string `json:"host,omitempty"`
}

// New constructs a new peer value.
func New(id ID, host string) Peer {
	return Peer{
		ID:   id,
		Host: host,
	}
}

// Parse converts a peer written as id@host, the form used in configuration.
func Parse(s string) (Peer, error) {
	idStr, host, found := strings.Cut(s, "@")
	if !found || host == "" {
		return Peer{}, fmt.Errorf("peer %q: expected id@host", s)
	}

	id, err := ParseID(idStr)
	if err != nil {
		return Peer{}, fmt.Errorf("peer %q: %w", s, err)
	}

	return New(id, host), nil
}

// String implements the fmt.Stringer interface.
func (p Peer) String() string {
	if p.Host == "" {
		return p.ID.String()
	}
	return p.ID.String() + "@" + p.Host
}

// Match validates if the specified id matches this peer.
func (p Peer) Match(id ID) bool {
	return p.ID == id
}

// =============================================================================

// Status represents information about the status
// of any given peer.
type Status struct {
	ID                ID     `json:"id"`
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockNumber uint64 `json:"latest_block_number"`
	Length            int    `json:"length"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// Set represents the data representation to maintain a set of known peers.
// A peer is identified by its ID, adding the same ID twice keeps the first.
type Set struct {
	mu  sync.RWMutex
	set map[ID]Peer
}

// NewSet constructs a new set to manage node peer information.
func NewSet() *Set {
	return &Set{
		set: make(map[ID]Peer),
	}
}

// Add adds a new peer to the set. It reports false if the peer
// is already known.
func (s *Set) Add(peer Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.set[peer.ID]; exists {
		return false
	}

	s.set[peer.ID] = peer
	return true
}

// Remove removes a peer from the set. It reports false if the
// peer was not in the set.
func (s *Set) Remove(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.set[id]; !exists {
		return false
	}

	delete(s.set, id)
	return true
}

// Contains reports whether the peer is in the set.
func (s *Set) Contains(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.set[id]
	return exists
}

// Len returns the number of known peers.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.set)
}

// Copy returns the known peers ordered by ID.
func (s *Set) Copy() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]Peer, 0, len(s.set))
	for _, peer := range s.set {
		peers = append(peers, peer)
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID < peers[j].ID
	})

	return peers
}
