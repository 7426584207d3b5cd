package adjudication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardforge/arena-server/internal/engine"
	"github.com/boardforge/arena-server/internal/match"
)

func pendingState(owner string) *engine.MatchState {
	state := engine.NewMatchState("m1", nil)
	engine.QueueInteraction(state, engine.NewInteraction(owner, "confirm", nil))
	return state
}

func offlineMeta(players ...string) *match.Metadata {
	meta := &match.Metadata{Players: make(map[string]match.PlayerMeta, len(players))}
	for _, id := range players {
		meta.Players[id] = match.PlayerMeta{Name: id}
	}
	return meta
}

func TestShouldForceCancel(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		state := pendingState("bob")
		decision := ShouldForceCancel(state, offlineMeta("alice", "bob"), "bob")
		assert.True(t, decision.ShouldCancel)
		assert.Equal(t, ReasonCancel, decision.Reason)
		assert.Equal(t, state.Sys.Interaction.Current.ID, decision.InteractionID)
	})

	t.Run("missing state", func(t *testing.T) {
		decision := ShouldForceCancel(nil, offlineMeta("bob"), "bob")
		assert.False(t, decision.ShouldCancel)
		assert.Equal(t, ReasonMissingState, decision.Reason)
	})

	t.Run("game over", func(t *testing.T) {
		state := pendingState("bob")
		state.Sys.Gameover = &engine.GameOverResult{Winner: "alice"}
		decision := ShouldForceCancel(state, offlineMeta("alice", "bob"), "bob")
		assert.False(t, decision.ShouldCancel)
		assert.Equal(t, ReasonGameOver, decision.Reason)
	})

	t.Run("missing metadata", func(t *testing.T) {
		state := pendingState("bob")
		decision := ShouldForceCancel(state, nil, "bob")
		assert.Equal(t, ReasonMissingMetadata, decision.Reason)

		decision = ShouldForceCancel(state, &match.Metadata{}, "bob")
		assert.Equal(t, ReasonMissingMetadata, decision.Reason)
	})

	t.Run("player not found", func(t *testing.T) {
		decision := ShouldForceCancel(pendingState("bob"), offlineMeta("alice"), "bob")
		assert.Equal(t, ReasonPlayerNotFound, decision.Reason)
	})

	t.Run("player reconnected before the check", func(t *testing.T) {
		meta := offlineMeta("alice", "bob")
		meta.Players["bob"] = match.PlayerMeta{Name: "bob", IsConnected: true}
		decision := ShouldForceCancel(pendingState("bob"), meta, "bob")
		assert.False(t, decision.ShouldCancel)
		assert.Equal(t, ReasonPlayerConnected, decision.Reason)
	})

	t.Run("nothing pending on the player", func(t *testing.T) {
		state := engine.NewMatchState("m1", nil)
		decision := ShouldForceCancel(state, offlineMeta("alice", "bob"), "bob")
		assert.Equal(t, ReasonNoPendingInteraction, decision.Reason)
	})

	t.Run("interaction belongs to someone else", func(t *testing.T) {
		decision := ShouldForceCancel(pendingState("alice"), offlineMeta("alice", "bob"), "bob")
		assert.Equal(t, ReasonInteractionOwnerMismatch, decision.Reason)
	})

	t.Run("lock token absent", func(t *testing.T) {
		state := pendingState("bob")
		state.Sys.ResponseWindow.Current = nil
		decision := ShouldForceCancel(state, offlineMeta("alice", "bob"), "bob")
		assert.Equal(t, ReasonNoPendingInteractionLock, decision.Reason)
	})

	t.Run("lock token names a superseding interaction", func(t *testing.T) {
		state := pendingState("bob")
		state.Sys.ResponseWindow.Current = &engine.ResponseWindow{PendingInteractionID: "other"}
		decision := ShouldForceCancel(state, offlineMeta("alice", "bob"), "bob")
		assert.False(t, decision.ShouldCancel)
		assert.Equal(t, ReasonInteractionLockMismatch, decision.Reason)
	})

	t.Run("same snapshot always yields the same decision", func(t *testing.T) {
		state := pendingState("bob")
		meta := offlineMeta("alice", "bob")
		first := ShouldForceCancel(state, meta, "bob")
		second := ShouldForceCancel(state, meta, "bob")
		require.Equal(t, first, second)
	})
}
