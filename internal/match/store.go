package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boardforge/arena-server/internal/engine"
)

// ErrNotFound is returned when a match id has no stored record.
var ErrNotFound = errors.New("match not found")

// PlayerMeta is the per-player slice of match metadata. Credentials is the
// opaque identity proof captured when the player registered; the
// adjudication executor falls back to the connection registry when it is
// empty.
type PlayerMeta struct {
	Name        string `json:"name"`
	IsConnected bool   `json:"isConnected"`
	Credentials string `json:"credentials,omitempty"`
}

// Metadata is the out-of-band match record: who plays, under which game
// module, and their live connection status. It changes independently of the
// game state and is persisted separately.
type Metadata struct {
	GameID    string                `json:"gameId"`
	Players   map[string]PlayerMeta `json:"players"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Record is one persisted match. State is kept in its serialized form; the
// manager owns the live typed state and StateID counts applied commands so
// readers can tell snapshots apart.
type Record struct {
	MatchID  string
	State    json.RawMessage
	StateID  int64
	Metadata Metadata
}

// Store persists match records. Fetch must always return the latest
// persisted snapshot, never a cached one; the adjudication executor depends
// on that to re-check state after a grace period elapses.
type Store interface {
	Create(ctx context.Context, record *Record) error
	Fetch(ctx context.Context, matchID string) (*Record, error)
	SaveState(ctx context.Context, matchID string, state json.RawMessage, stateID int64) error
	SaveMetadata(ctx context.Context, matchID string, meta Metadata) error
	Delete(ctx context.Context, matchID string) error
}

// EncodeState serializes a match state for storage.
func EncodeState(state *engine.MatchState) (json.RawMessage, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode match state: %w", err)
	}
	return raw, nil
}

// DecodeState restores a match state from its stored form. When the domain
// implements engine.CoreDecoder the core comes back typed; otherwise it
// stays a generic JSON value.
func DecodeState(raw json.RawMessage, domain engine.Domain) (*engine.MatchState, error) {
	var envelope struct {
		Sys  engine.SystemState `json:"sys"`
		Core json.RawMessage    `json:"core"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode match state: %w", err)
	}

	state := &engine.MatchState{Sys: envelope.Sys}
	if decoder, ok := domain.(engine.CoreDecoder); ok && domain != nil {
		core, err := decoder.DecodeCore(envelope.Core)
		if err != nil {
			return nil, fmt.Errorf("decode match core: %w", err)
		}
		state.Core = core
		return state, nil
	}

	var core any
	if len(envelope.Core) > 0 {
		if err := json.Unmarshal(envelope.Core, &core); err != nil {
			return nil, fmt.Errorf("decode match core: %w", err)
		}
	}
	state.Core = core
	return state, nil
}

// MemoryStore keeps records in process memory. It copies on the way in and
// out so callers can never observe each other's mutations, matching the
// isolation a database-backed store gives.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.MatchID]; ok {
		return fmt.Errorf("match %s already exists", record.MatchID)
	}
	s.records[record.MatchID] = copyRecord(record)
	return nil
}

func (s *MemoryStore) Fetch(ctx context.Context, matchID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *MemoryStore) SaveState(ctx context.Context, matchID string, state json.RawMessage, stateID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[matchID]
	if !ok {
		return ErrNotFound
	}
	record.State = append(json.RawMessage(nil), state...)
	record.StateID = stateID
	return nil
}

func (s *MemoryStore) SaveMetadata(ctx context.Context, matchID string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[matchID]
	if !ok {
		return ErrNotFound
	}
	record.Metadata = copyMetadata(meta)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[matchID]; !ok {
		return ErrNotFound
	}
	delete(s.records, matchID)
	return nil
}

func copyRecord(record *Record) *Record {
	return &Record{
		MatchID:  record.MatchID,
		State:    append(json.RawMessage(nil), record.State...),
		StateID:  record.StateID,
		Metadata: copyMetadata(record.Metadata),
	}
}

func copyMetadata(meta Metadata) Metadata {
	players := make(map[string]PlayerMeta, len(meta.Players))
	for id, player := range meta.Players {
		players[id] = player
	}
	meta.Players = players
	return meta
}
