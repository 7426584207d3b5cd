package engine

import "encoding/json"

// RejectionReason is a typed, machine-readable reason a command was refused
// by validation. Rejections are ordinary values returned to the caller; they
// never mutate state and are never raised as errors.
type RejectionReason string

const (
	// RejectGameOver - the match has a terminal result; nothing may mutate.
	RejectGameOver RejectionReason = "game_over"
	// RejectUncategorized - the command type has no category registry entry.
	RejectUncategorized RejectionReason = "uncategorized_command"
	// RejectResponseWindow - a response window is open and the command's
	// category (phase_control or strategic) is not admissible.
	RejectResponseWindow RejectionReason = "response_window_category"
	// RejectInteractionPending - a blocking interaction owned by this player
	// must be answered first.
	RejectInteractionPending RejectionReason = "interaction_pending"
	// RejectNoPendingInteraction - CANCEL_INTERACTION with nothing to cancel.
	RejectNoPendingInteraction RejectionReason = "no_pending_interaction"
	// RejectNotInteractionOwner - the command author does not own the active
	// interaction.
	RejectNotInteractionOwner RejectionReason = "not_interaction_owner"
	// RejectPlayerMismatch - the author may not act right now (domain rule).
	RejectPlayerMismatch RejectionReason = "player_mismatch"
)

// ValidationResult is the outcome of validating a command.
type ValidationResult struct {
	Valid  bool
	Reason RejectionReason
}

// Valid returns a passing validation result.
func Valid() ValidationResult { return ValidationResult{Valid: true} }

// Reject returns a failing validation result with a typed reason.
func Reject(reason RejectionReason) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}

// Domain is the contract a game module implements to run on the engine.
// Validate and Execute may read the full envelope (including sys state such
// as the current phase); Reduce folds one event into the game core and must
// be deterministic so an event log can be replayed.
type Domain interface {
	// GameID identifies the game module.
	GameID() string

	// Setup returns the initial core for the given players.
	Setup(playerIDs []string) any

	// Validate is a pure predicate over state and command. No side effects.
	Validate(state *MatchState, cmd Command) ValidationResult

	// Execute turns a validated command into zero or more events. It must
	// not mutate state; all consequences flow through Reduce.
	Execute(state *MatchState, cmd Command) []Event

	// Reduce folds one event into the core, returning the new core.
	// Replaying the same event log from the same initial core must always
	// produce the same result.
	Reduce(core any, ev Event) any

	// CommandTypes lists every command type the module can emit, used to
	// validate category registry completeness at startup.
	CommandTypes() []string

	// Categories maps each non-system command type to its category.
	Categories() map[string]Category
}

// GameOverChecker is an optional Domain extension for modules that derive a
// terminal result from the core.
type GameOverChecker interface {
	IsGameOver(core any) *GameOverResult
}

// PlayerViewer is an optional Domain extension that filters hidden
// information out of the core before it is sent to a specific player.
type PlayerViewer interface {
	PlayerView(core any, playerID string) any
}

// CoreDecoder is an optional Domain extension for restoring a typed core
// from its stored JSON form. Without it a recovered core stays a generic
// map, which only suits domains that work untyped.
type CoreDecoder interface {
	DecodeCore(raw json.RawMessage) (any, error)
}
