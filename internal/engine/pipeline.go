package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of running one command through the pipeline.
// Rejection is nil on success; on rejection State is the untouched input.
type Result struct {
	State     *MatchState
	Events    []Event
	Rejection *RejectionReason
}

// Rejected reports whether the command was refused by validation.
func (r *Result) Rejected() bool { return r.Rejection != nil }

// Pipeline is the per-match command state machine: validate → execute →
// reduce. It is pure with respect to its inputs; callers own serialization
// (see the match manager) and persistence.
type Pipeline struct {
	domain   Domain
	registry *CategoryRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline builds a pipeline for a game domain. The domain's command
// types are checked against its category mapping here so an unmapped type is
// a startup error, not a silent runtime pass-through.
func NewPipeline(domain Domain, logger *zap.Logger) (*Pipeline, error) {
	registry := NewCategoryRegistry(domain.Categories())
	if err := registry.ValidateAllCategorized(domain.CommandTypes()); err != nil {
		return nil, fmt.Errorf("game %s: %w", domain.GameID(), err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		domain:   domain,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Registry exposes the category registry for callers that gate on it.
func (p *Pipeline) Registry() *CategoryRegistry { return p.registry }

// Domain exposes the game module the pipeline runs.
func (p *Pipeline) Domain() Domain { return p.domain }

// NewMatch sets up the initial state for a match.
func (p *Pipeline) NewMatch(matchID string, playerIDs []string) *MatchState {
	return NewMatchState(matchID, p.domain.Setup(playerIDs))
}

// Execute runs one command. The input state is never mutated: on success a
// new state is returned, on rejection the input is returned unchanged along
// with a typed reason.
func (p *Pipeline) Execute(state *MatchState, cmd Command) *Result {
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = p.now()
	}

	if reason := p.validate(state, cmd); reason != nil {
		p.logger.Debug("command rejected",
			zap.String("match_id", state.Sys.MatchID),
			zap.String("command_type", cmd.Type),
			zap.String("player_id", cmd.PlayerID),
			zap.String("reason", string(*reason)),
		)
		return &Result{State: state, Rejection: reason}
	}

	next := cloneState(state)

	var events []Event
	if cmd.Type == CancelInteractionCommand {
		events = p.executeCancelInteraction(next, cmd)
	} else {
		events = p.domain.Execute(next, cmd)
	}

	p.applyEvents(next, events)

	next.Sys.AppendLog(LogEntry{
		Timestamp: cmd.Timestamp,
		Kind:      "command",
		Message:   cmd.Type,
		PlayerID:  cmd.PlayerID,
	})
	for _, ev := range events {
		next.Sys.AppendEvent(ev)
	}

	p.checkGameOver(next)

	return &Result{State: next, Events: events}
}

// validate applies the engine-level gates in order, then delegates to the
// domain. Returns nil when the command may execute.
func (p *Pipeline) validate(state *MatchState, cmd Command) *RejectionReason {
	if state.Sys.Gameover != nil {
		return rejectionPtr(RejectGameOver)
	}

	if cmd.Type == CancelInteractionCommand {
		current := state.Sys.Interaction.Current
		if current == nil {
			return rejectionPtr(RejectNoPendingInteraction)
		}
		if current.PlayerID != cmd.PlayerID {
			return rejectionPtr(RejectNotInteractionOwner)
		}
		// Always admissible past this point: cancellation is category
		// system and ignores response-window gating.
		return nil
	}

	category, ok := p.registry.Category(cmd.Type)
	if !ok {
		return rejectionPtr(RejectUncategorized)
	}

	if state.Sys.ResponseWindow.Current != nil && !responseWindowAdmissible[category] {
		return rejectionPtr(RejectResponseWindow)
	}

	current := state.Sys.Interaction.Current
	if current != nil && state.Sys.Interaction.IsBlocked &&
		current.PlayerID == cmd.PlayerID &&
		category != CategorySystem && category != CategoryUIInteraction {
		return rejectionPtr(RejectInteractionPending)
	}

	if result := p.domain.Validate(state, cmd); !result.Valid {
		reason := result.Reason
		if reason == "" {
			reason = RejectPlayerMismatch
		}
		return rejectionPtr(reason)
	}
	return nil
}

// executeCancelInteraction resolves the active interaction on behalf of its
// owner. Ownership and liveness were already checked by validate; the
// resulting state is indistinguishable from the player declining explicitly.
func (p *Pipeline) executeCancelInteraction(state *MatchState, cmd Command) []Event {
	cancelled := ResolveCurrentInteraction(state)
	if cancelled == nil {
		return nil
	}
	return []Event{cancelInteractionEvent(cancelled, cmd.Timestamp)}
}

// applyEvents folds domain events into the core and routes engine events to
// the interaction machinery. SYS_ events never reach the domain reducer.
func (p *Pipeline) applyEvents(state *MatchState, events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case EventInteractionRequested:
			if interaction, ok := ev.Payload.(Interaction); ok {
				QueueInteraction(state, interaction)
			}
		case EventInteractionResolved:
			ResolveCurrentInteraction(state)
		case EventInteractionCancelled:
			// Already applied by executeCancelInteraction.
		default:
			if IsSystemCommand(ev.Type) {
				continue
			}
			state.Core = p.domain.Reduce(state.Core, ev)
		}
	}
}

// checkGameOver latches the terminal result once the domain reports one.
func (p *Pipeline) checkGameOver(state *MatchState) {
	if state.Sys.Gameover != nil {
		return
	}
	checker, ok := p.domain.(GameOverChecker)
	if !ok {
		return
	}
	if result := checker.IsGameOver(state.Core); result != nil {
		state.Sys.Gameover = result
		p.logger.Info("match over",
			zap.String("match_id", state.Sys.MatchID),
			zap.String("winner", result.Winner),
			zap.Bool("draw", result.Draw),
		)
	}
}

// Replay folds an event log from an initial core. Given the same inputs it
// always produces the same core; recovery and adjudication both rely on
// this.
func Replay(domain Domain, initialCore any, events []Event) any {
	core := initialCore
	for _, ev := range events {
		if IsSystemCommand(ev.Type) {
			continue
		}
		core = domain.Reduce(core, ev)
	}
	return core
}

func rejectionPtr(reason RejectionReason) *RejectionReason { return &reason }

// cloneState copies the envelope so Execute never mutates its input. The
// core itself is not deep-copied: Domain.Reduce is required to return a new
// core rather than mutate in place, so sharing the pre-command core value is
// safe.
func cloneState(state *MatchState) *MatchState {
	next := &MatchState{Sys: state.Sys, Core: state.Core}

	next.Sys.Interaction.Queue = append([]Interaction(nil), state.Sys.Interaction.Queue...)
	if state.Sys.Interaction.Current != nil {
		current := *state.Sys.Interaction.Current
		next.Sys.Interaction.Current = &current
	}
	if state.Sys.ResponseWindow.Current != nil {
		window := *state.Sys.ResponseWindow.Current
		next.Sys.ResponseWindow.Current = &window
	}
	if state.Sys.Gameover != nil {
		gameover := *state.Sys.Gameover
		next.Sys.Gameover = &gameover
	}
	next.Sys.Log.Entries = append([]LogEntry(nil), state.Sys.Log.Entries...)
	next.Sys.EventStream.Entries = append([]EventStreamEntry(nil), state.Sys.EventStream.Entries...)

	return next
}
