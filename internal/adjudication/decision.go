package adjudication

import (
	"github.com/boardforge/arena-server/internal/engine"
	"github.com/boardforge/arena-server/internal/match"
)

// Reason explains a decision outcome. Exactly one applies per decision; the
// checks run in a fixed order and the first failing one wins.
type Reason string

const (
	// ReasonMissingState - no authoritative state could be loaded.
	ReasonMissingState Reason = "missing_state"
	// ReasonGameOver - the match already has a terminal result.
	ReasonGameOver Reason = "game_over"
	// ReasonMissingMetadata - the match has no player metadata at all.
	ReasonMissingMetadata Reason = "missing_metadata"
	// ReasonPlayerNotFound - the player is not part of the match.
	ReasonPlayerNotFound Reason = "player_not_found"
	// ReasonPlayerConnected - the player came back before the check ran.
	ReasonPlayerConnected Reason = "player_connected"
	// ReasonNoPendingInteraction - nothing is waiting on the player.
	ReasonNoPendingInteraction Reason = "no_pending_interaction"
	// ReasonInteractionOwnerMismatch - the pending interaction belongs to
	// someone else.
	ReasonInteractionOwnerMismatch Reason = "interaction_owner_mismatch"
	// ReasonNoPendingInteractionLock - an interaction is active but no
	// response-window lock accompanies it; the pair is out of sync.
	ReasonNoPendingInteractionLock Reason = "no_pending_interaction_lock"
	// ReasonInteractionLockMismatch - the lock names a different
	// interaction, so the one we saw has been superseded.
	ReasonInteractionLockMismatch Reason = "interaction_lock_mismatch"
	// ReasonCancel - every check passed; the interaction must be force
	// cancelled on the player's behalf.
	ReasonCancel Reason = "cancel"
)

// Decision is the outcome of evaluating one offline player.
type Decision struct {
	ShouldCancel  bool
	Reason        Reason
	InteractionID string
}

// ShouldForceCancel decides whether a disconnected player's pending
// interaction must be cancelled on their behalf. It is a pure function of
// its inputs: no clocks, no stores, no side effects, so the same snapshot
// always yields the same decision. Every negative path is explicit and the
// default is to do nothing; cancelling requires all nine checks to pass.
//
// The lock checks at the end are deliberately redundant with the owner
// check: the response-window lock naming the same interaction id proves the
// interaction observed when the grace timer was armed has not been resolved
// and superseded by a different one in the meantime.
func ShouldForceCancel(state *engine.MatchState, meta *match.Metadata, playerID string) Decision {
	if state == nil {
		return Decision{Reason: ReasonMissingState}
	}
	if state.Sys.Gameover != nil {
		return Decision{Reason: ReasonGameOver}
	}
	if meta == nil || len(meta.Players) == 0 {
		return Decision{Reason: ReasonMissingMetadata}
	}
	player, ok := meta.Players[playerID]
	if !ok {
		return Decision{Reason: ReasonPlayerNotFound}
	}
	if player.IsConnected {
		return Decision{Reason: ReasonPlayerConnected}
	}
	current := state.Sys.Interaction.Current
	if current == nil {
		return Decision{Reason: ReasonNoPendingInteraction}
	}
	if current.PlayerID != playerID {
		return Decision{Reason: ReasonInteractionOwnerMismatch}
	}
	lock := state.Sys.ResponseWindow.Current
	if lock == nil {
		return Decision{Reason: ReasonNoPendingInteractionLock}
	}
	if lock.PendingInteractionID != current.ID {
		return Decision{Reason: ReasonInteractionLockMismatch}
	}
	return Decision{
		ShouldCancel:  true,
		Reason:        ReasonCancel,
		InteractionID: current.ID,
	}
}
