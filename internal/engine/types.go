package engine

import (
	"time"
)

// Command is a player intent submitted to the engine.
type Command struct {
	Type      string    `json:"type"`
	PlayerID  string    `json:"playerId"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Event is an authoritative consequence produced by executing a command.
type Event struct {
	Type              string    `json:"type"`
	Payload           any       `json:"payload,omitempty"`
	SourceCommandType string    `json:"sourceCommandType,omitempty"`
	Timestamp         time.Time `json:"timestamp,omitzero"`
}

// Interaction is a single-player micro-decision the match cannot proceed
// past until it is resolved or cancelled.
type Interaction struct {
	ID       string `json:"id"`
	PlayerID string `json:"playerId"`
	Kind     string `json:"kind"`
	Payload  any    `json:"payload,omitempty"`
}

// InteractionState holds the pending-decision queue. Only the head of the
// queue is active at any time.
type InteractionState struct {
	Queue   []Interaction `json:"queue"`
	Current *Interaction  `json:"current,omitempty"`
	// IsBlocked marks the active interaction as blocking: the owner's
	// non-system commands are rejected until the decision is made.
	IsBlocked bool `json:"isBlocked"`
}

// ResponseWindow is the lock token identifying which interaction instance is
// authoritative right now. PendingInteractionID must match the id of
// InteractionState.Current; the pair being in sync is what proves to the
// adjudication path that the interaction it saw when scheduling a grace
// timer has not been superseded since.
type ResponseWindow struct {
	PendingInteractionID string `json:"pendingInteractionId"`
}

// ResponseWindowState wraps the optional active window.
type ResponseWindowState struct {
	Current *ResponseWindow `json:"current,omitempty"`
}

// FlowState tracks phase and turn ownership, independent of interactions.
type FlowState struct {
	Phase          string `json:"phase"`
	TurnNumber     int    `json:"turnNumber"`
	ActivePlayerID string `json:"activePlayerId,omitempty"`
}

// LogEntry is one record of the engine-level audit log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // "command" | "event" | "system"
	Message   string    `json:"message"`
	PlayerID  string    `json:"playerId,omitempty"`
}

// LogState is an append-only, capped history of commands and events.
type LogState struct {
	Entries    []LogEntry `json:"entries"`
	MaxEntries int        `json:"maxEntries"`
}

// EventStreamEntry is one broadcastable event with a monotonic id.
type EventStreamEntry struct {
	ID    int   `json:"id"`
	Event Event `json:"event"`
}

// EventStreamState is the capped stream clients consume for animations and
// incremental updates.
type EventStreamState struct {
	Entries    []EventStreamEntry `json:"entries"`
	MaxEntries int                `json:"maxEntries"`
	NextID     int                `json:"nextId"`
}

// GameOverResult is the terminal outcome of a match. Once set on a state, no
// further mutation is legal.
type GameOverResult struct {
	Winner string         `json:"winner,omitempty"`
	Draw   bool           `json:"draw,omitempty"`
	Scores map[string]int `json:"scores,omitempty"`
}

// SystemState is the engine-owned portion of a match state.
type SystemState struct {
	SchemaVersion  int                 `json:"schemaVersion"`
	MatchID        string              `json:"matchId,omitempty"`
	Interaction    InteractionState    `json:"interaction"`
	ResponseWindow ResponseWindowState `json:"responseWindow"`
	Flow           FlowState           `json:"flow"`
	Log            LogState            `json:"log"`
	EventStream    EventStreamState    `json:"eventStream"`
	Gameover       *GameOverResult     `json:"gameover,omitempty"`
}

// MatchState is the authoritative envelope persisted per match. Core is
// opaque to the engine and owned by the registered game domain.
type MatchState struct {
	Sys  SystemState `json:"sys"`
	Core any         `json:"core"`
}

const (
	defaultLogMaxEntries         = 200
	defaultEventStreamMaxEntries = 200
)

// NewMatchState builds the initial envelope around a freshly set-up core.
func NewMatchState(matchID string, core any) *MatchState {
	return &MatchState{
		Sys: SystemState{
			SchemaVersion: 1,
			MatchID:       matchID,
			Interaction:   InteractionState{Queue: []Interaction{}},
			Flow:          FlowState{TurnNumber: 1},
			Log:           LogState{MaxEntries: defaultLogMaxEntries},
			EventStream: EventStreamState{
				MaxEntries: defaultEventStreamMaxEntries,
				NextID:     1,
			},
		},
		Core: core,
	}
}

// AppendLog records one audit entry, dropping the oldest past the cap.
func (s *SystemState) AppendLog(entry LogEntry) {
	s.Log.Entries = append(s.Log.Entries, entry)
	if s.Log.MaxEntries > 0 && len(s.Log.Entries) > s.Log.MaxEntries {
		s.Log.Entries = s.Log.Entries[len(s.Log.Entries)-s.Log.MaxEntries:]
	}
}

// AppendEvent records one event on the broadcast stream.
func (s *SystemState) AppendEvent(ev Event) {
	s.EventStream.Entries = append(s.EventStream.Entries, EventStreamEntry{
		ID:    s.EventStream.NextID,
		Event: ev,
	})
	s.EventStream.NextID++
	if s.EventStream.MaxEntries > 0 && len(s.EventStream.Entries) > s.EventStream.MaxEntries {
		s.EventStream.Entries = s.EventStream.Entries[len(s.EventStream.Entries)-s.EventStream.MaxEntries:]
	}
}
