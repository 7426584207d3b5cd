package adjudication

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/boardforge/arena-server/internal/connection"
	"github.com/boardforge/arena-server/internal/engine"
	"github.com/boardforge/arena-server/internal/match"
)

const executeTimeout = 10 * time.Second

// Executor runs when a player's grace period elapses. It re-reads the
// persisted match, decides with ShouldForceCancel, and on a positive
// decision submits CANCEL_INTERACTION on the player's behalf through the
// normal command path. Anything short of a fully positive decision means do
// nothing: a wrongly skipped cancellation stalls one match, a wrongly
// executed one corrupts it.
type Executor struct {
	manager  *match.Manager
	store    match.Store
	registry *connection.Registry
	logger   *zap.Logger
}

// NewExecutor wires the executor to its collaborators.
func NewExecutor(manager *match.Manager, store match.Store, registry *connection.Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		manager:  manager,
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// HandleGraceElapsed is the grace scheduler callback. Safe to call
// concurrently for different seats; per-match ordering is provided by the
// manager's command serialization.
func (e *Executor) HandleGraceElapsed(key connection.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()

	logger := e.logger.With(
		zap.String("match_id", key.MatchID),
		zap.String("player_id", key.PlayerID),
	)

	decision, meta := e.decide(ctx, key, logger)
	if !decision.ShouldCancel {
		logger.Info("adjudication skipped", zap.String("reason", string(decision.Reason)))
		return
	}

	payload := map[string]any{"forced": true}
	if requiresCredentials(meta) {
		credentials, ok := e.resolveCredentials(key, meta)
		if !ok {
			// The match authenticates its players; acting without an
			// identity to act under is worse than stalling it.
			logger.Warn("adjudication aborted, no credentials for player")
			return
		}
		payload["credentials"] = credentials
	}

	result, err := e.manager.Submit(ctx, key.MatchID, engine.Command{
		Type:     engine.CancelInteractionCommand,
		PlayerID: key.PlayerID,
		Payload:  payload,
	})
	if err != nil {
		logger.Error("adjudication submit failed", zap.Error(err))
		return
	}
	if result.Rejected() {
		// A rejection here is benign: the player raced back in and resolved
		// the interaction between the decision and the submit.
		logger.Info("adjudication cancel rejected",
			zap.String("reason", string(*result.Rejection)),
			zap.String("interaction_id", decision.InteractionID),
		)
		return
	}

	logger.Info("interaction force cancelled",
		zap.String("interaction_id", decision.InteractionID),
		zap.Int64("state_id", result.StateID),
	)
}

// decide loads a fresh snapshot and evaluates it. The store is the source of
// truth here, not any in-memory copy from when the timer was armed: the
// match may have moved arbitrarily during the grace period.
func (e *Executor) decide(ctx context.Context, key connection.Key, logger *zap.Logger) (Decision, *match.Metadata) {
	record, err := e.store.Fetch(ctx, key.MatchID)
	if err != nil {
		logger.Warn("adjudication fetch failed", zap.Error(err))
		return Decision{Reason: ReasonMissingState}, nil
	}
	state, err := match.DecodeState(record.State, nil)
	if err != nil {
		logger.Warn("adjudication decode failed", zap.Error(err))
		return Decision{Reason: ReasonMissingState}, nil
	}
	return ShouldForceCancel(state, &record.Metadata, key.PlayerID), &record.Metadata
}

// requiresCredentials reports whether the match authenticates its players:
// any seat holding an identity proof means every synthesized command must
// carry one too. A match with no credentials anywhere is an open table and
// the forced cancel proceeds bare, same as its players' own commands do.
func requiresCredentials(meta *match.Metadata) bool {
	if meta == nil {
		return false
	}
	for _, player := range meta.Players {
		if player.Credentials != "" {
			return true
		}
	}
	return false
}

// resolveCredentials finds an identity to act under: match metadata first,
// then whatever the player's registration left in the connection registry.
func (e *Executor) resolveCredentials(key connection.Key, meta *match.Metadata) (string, bool) {
	if player, ok := meta.Players[key.PlayerID]; ok && player.Credentials != "" {
		return player.Credentials, true
	}
	if e.registry != nil {
		if credentials, ok := e.registry.Credentials(key); ok && credentials != "" {
			return credentials, true
		}
	}
	return "", false
}
