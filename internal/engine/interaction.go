package engine

import (
	"time"

	"github.com/google/uuid"
)

// Interaction lifecycle events.
const (
	EventInteractionRequested = "SYS_INTERACTION_REQUESTED"
	EventInteractionResolved  = "SYS_INTERACTION_RESOLVED"
	EventInteractionCancelled = "SYS_INTERACTION_CANCELLED"
)

// NewInteraction creates an interaction with a fresh unique id.
func NewInteraction(playerID, kind string, payload any) Interaction {
	return Interaction{
		ID:       uuid.New().String(),
		PlayerID: playerID,
		Kind:     kind,
		Payload:  payload,
	}
}

// QueueInteraction adds an interaction to the match. If no interaction is
// active it becomes active immediately; otherwise it waits in FIFO order.
func QueueInteraction(state *MatchState, interaction Interaction) {
	if state.Sys.Interaction.Current == nil {
		activateInteraction(state, interaction)
		return
	}
	state.Sys.Interaction.Queue = append(state.Sys.Interaction.Queue, interaction)
}

// activateInteraction makes an interaction the active one. The current
// pointer and the response-window lock token are written together in the
// same step: the adjudication protocol depends on the pair never being
// observed out of sync.
func activateInteraction(state *MatchState, interaction Interaction) {
	i := interaction
	state.Sys.Interaction.Current = &i
	state.Sys.Interaction.IsBlocked = true
	state.Sys.ResponseWindow.Current = &ResponseWindow{PendingInteractionID: i.ID}
}

// ResolveCurrentInteraction clears the active interaction and activates the
// next queued one, if any. Clearing the current pointer and the lock token
// happens atomically with activating the successor, so a superseding
// interaction always carries a fresh id and matching lock token.
func ResolveCurrentInteraction(state *MatchState) *Interaction {
	resolved := state.Sys.Interaction.Current
	if resolved == nil {
		return nil
	}

	state.Sys.Interaction.Current = nil
	state.Sys.Interaction.IsBlocked = false
	state.Sys.ResponseWindow.Current = nil

	if len(state.Sys.Interaction.Queue) > 0 {
		next := state.Sys.Interaction.Queue[0]
		state.Sys.Interaction.Queue = state.Sys.Interaction.Queue[1:]
		activateInteraction(state, next)
	}
	return resolved
}

// cancelInteractionEvent builds the event recorded when an interaction is
// cancelled, whether by an explicit player decline or by adjudication. The
// two paths are indistinguishable downstream.
func cancelInteractionEvent(interaction *Interaction, now time.Time) Event {
	return Event{
		Type: EventInteractionCancelled,
		Payload: map[string]any{
			"interactionId": interaction.ID,
			"playerId":      interaction.PlayerID,
			"kind":          interaction.Kind,
		},
		SourceCommandType: CancelInteractionCommand,
		Timestamp:         now,
	}
}
