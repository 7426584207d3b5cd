package match

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boardforge/arena-server/internal/engine"
)

// clickerCore is the test game: count clicks per player, first to the target
// wins. PROMPT opens a confirmation interaction for the other player.
type clickerCore struct {
	Players []string       `json:"players"`
	Clicks  map[string]int `json:"clicks"`
	Target  int            `json:"target"`
}

type clickerDomain struct{}

func (clickerDomain) GameID() string { return "clicker" }

func (clickerDomain) Setup(playerIDs []string) any {
	clicks := make(map[string]int, len(playerIDs))
	for _, id := range playerIDs {
		clicks[id] = 0
	}
	return clickerCore{Players: playerIDs, Clicks: clicks, Target: 5}
}

func (clickerDomain) CommandTypes() []string { return []string{"CLICK", "PROMPT", "CONFIRM"} }

func (clickerDomain) Categories() map[string]engine.Category {
	return map[string]engine.Category{
		"CLICK":   engine.CategoryStrategic,
		"PROMPT":  engine.CategoryStrategic,
		"CONFIRM": engine.CategoryUIInteraction,
	}
}

func (clickerDomain) Validate(state *engine.MatchState, cmd engine.Command) engine.ValidationResult {
	core := state.Core.(clickerCore)
	if _, ok := core.Clicks[cmd.PlayerID]; !ok {
		return engine.Reject(engine.RejectPlayerMismatch)
	}
	return engine.Valid()
}

func (clickerDomain) Execute(state *engine.MatchState, cmd engine.Command) []engine.Event {
	switch cmd.Type {
	case "CLICK":
		return []engine.Event{{Type: "CLICKED", Payload: cmd.PlayerID, SourceCommandType: cmd.Type}}
	case "PROMPT":
		core := state.Core.(clickerCore)
		for _, id := range core.Players {
			if id != cmd.PlayerID {
				return []engine.Event{{
					Type:              engine.EventInteractionRequested,
					Payload:           engine.NewInteraction(id, "confirm", nil),
					SourceCommandType: cmd.Type,
				}}
			}
		}
	case "CONFIRM":
		return []engine.Event{{Type: engine.EventInteractionResolved, SourceCommandType: cmd.Type}}
	}
	return nil
}

func (clickerDomain) Reduce(core any, ev engine.Event) any {
	c := core.(clickerCore)
	if ev.Type == "CLICKED" {
		clicks := make(map[string]int, len(c.Clicks))
		for id, n := range c.Clicks {
			clicks[id] = n
		}
		playerID, _ := ev.Payload.(string)
		clicks[playerID]++
		c.Clicks = clicks
	}
	return c
}

func (clickerDomain) IsGameOver(core any) *engine.GameOverResult {
	c := core.(clickerCore)
	for id, n := range c.Clicks {
		if n >= c.Target {
			return &engine.GameOverResult{Winner: id, Scores: c.Clicks}
		}
	}
	return nil
}

func (clickerDomain) DecodeCore(raw json.RawMessage) (any, error) {
	var core clickerCore
	if err := json.Unmarshal(raw, &core); err != nil {
		return nil, err
	}
	return core, nil
}

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	manager := NewManager(store, zap.NewNop())
	require.NoError(t, manager.RegisterGame(clickerDomain{}))
	t.Cleanup(manager.Close)
	return manager, store
}

func createClickerMatch(t *testing.T, manager *Manager) string {
	t.Helper()
	_, err := manager.CreateMatch(context.Background(), "clicker", "m1",
		map[string]string{"alice": "Alice", "bob": "Bob"})
	require.NoError(t, err)
	return "m1"
}

func TestManagerSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("applied command advances the state id and persists", func(t *testing.T) {
		manager, store := newTestManager(t)
		matchID := createClickerMatch(t, manager)

		result, err := manager.Submit(ctx, matchID, engine.Command{Type: "CLICK", PlayerID: "alice"})
		require.NoError(t, err)
		require.False(t, result.Rejected())
		assert.Equal(t, int64(1), result.StateID)
		assert.Equal(t, 1, result.State.Core.(clickerCore).Clicks["alice"])

		record, err := store.Fetch(ctx, matchID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.StateID)
	})

	t.Run("rejected command leaves state id and store untouched", func(t *testing.T) {
		manager, store := newTestManager(t)
		matchID := createClickerMatch(t, manager)

		result, err := manager.Submit(ctx, matchID, engine.Command{Type: "CLICK", PlayerID: "mallory"})
		require.NoError(t, err)
		require.True(t, result.Rejected())
		assert.Equal(t, engine.RejectPlayerMismatch, *result.Rejection)
		assert.Equal(t, int64(0), result.StateID)

		record, err := store.Fetch(ctx, matchID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), record.StateID)
	})

	t.Run("unknown match returns ErrNotFound", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.Submit(ctx, "ghost", engine.Command{Type: "CLICK", PlayerID: "alice"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent submits against one match all apply exactly once", func(t *testing.T) {
		manager, _ := newTestManager(t)
		matchID := createClickerMatch(t, manager)

		const perPlayer = 20
		var wg sync.WaitGroup
		for _, player := range []string{"alice", "bob"} {
			for i := 0; i < perPlayer; i++ {
				wg.Add(1)
				go func(playerID string) {
					defer wg.Done()
					_, err := manager.Submit(ctx, matchID, engine.Command{Type: "CLICK", PlayerID: playerID})
					assert.NoError(t, err)
				}(player)
			}
		}
		wg.Wait()

		state, stateID, err := manager.Snapshot(ctx, matchID)
		require.NoError(t, err)
		assert.Equal(t, int64(2*perPlayer), stateID)
		core := state.Core.(clickerCore)
		assert.Equal(t, perPlayer, core.Clicks["alice"])
		assert.Equal(t, perPlayer, core.Clicks["bob"])
	})
}

func TestManagerHandlers(t *testing.T) {
	ctx := context.Background()

	t.Run("broadcast fires per applied command", func(t *testing.T) {
		manager, _ := newTestManager(t)

		var mu sync.Mutex
		var stateIDs []int64
		manager.SetBroadcastHandler(func(matchID string, stateID int64, state *engine.MatchState, events []engine.Event) {
			mu.Lock()
			stateIDs = append(stateIDs, stateID)
			mu.Unlock()
		})

		matchID := createClickerMatch(t, manager)
		for i := 0; i < 3; i++ {
			_, err := manager.Submit(ctx, matchID, engine.Command{Type: "CLICK", PlayerID: "alice"})
			require.NoError(t, err)
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int64{1, 2, 3}, stateIDs)
	})

	t.Run("game over fires exactly once", func(t *testing.T) {
		manager, _ := newTestManager(t)

		var mu sync.Mutex
		var results []engine.GameOverResult
		manager.SetGameOverHandler(func(matchID string, result engine.GameOverResult) {
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		})

		matchID := createClickerMatch(t, manager)
		for i := 0; i < 5; i++ {
			_, err := manager.Submit(ctx, matchID, engine.Command{Type: "CLICK", PlayerID: "alice"})
			require.NoError(t, err)
		}
		// Further commands are rejected on the latched result.
		result, err := manager.Submit(ctx, matchID, engine.Command{Type: "CLICK", PlayerID: "bob"})
		require.NoError(t, err)
		require.True(t, result.Rejected())
		assert.Equal(t, engine.RejectGameOver, *result.Rejection)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, results, 1)
		assert.Equal(t, "alice", results[0].Winner)
	})
}

func TestManagerPlayerMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("connection status round-trips through the store", func(t *testing.T) {
		manager, _ := newTestManager(t)
		matchID := createClickerMatch(t, manager)

		require.NoError(t, manager.SetPlayerConnected(ctx, matchID, "alice", true))
		meta, err := manager.Metadata(ctx, matchID)
		require.NoError(t, err)
		assert.True(t, meta.Players["alice"].IsConnected)
		assert.False(t, meta.Players["bob"].IsConnected)

		require.NoError(t, manager.SetPlayerConnected(ctx, matchID, "alice", false))
		meta, err = manager.Metadata(ctx, matchID)
		require.NoError(t, err)
		assert.False(t, meta.Players["alice"].IsConnected)
	})

	t.Run("credentials are captured once and never overwritten", func(t *testing.T) {
		manager, _ := newTestManager(t)
		matchID := createClickerMatch(t, manager)

		require.NoError(t, manager.SetPlayerCredentials(ctx, matchID, "bob", "token-1"))
		require.NoError(t, manager.SetPlayerCredentials(ctx, matchID, "bob", "token-2"))

		meta, err := manager.Metadata(ctx, matchID)
		require.NoError(t, err)
		assert.Equal(t, "token-1", meta.Players["bob"].Credentials)
	})

	t.Run("unknown player is an error", func(t *testing.T) {
		manager, _ := newTestManager(t)
		matchID := createClickerMatch(t, manager)
		assert.Error(t, manager.SetPlayerConnected(ctx, matchID, "mallory", true))
	})
}

func TestManagerResume(t *testing.T) {
	ctx := context.Background()

	t.Run("resume restores a typed core and the state id", func(t *testing.T) {
		store := NewMemoryStore()

		first := NewManager(store, zap.NewNop())
		require.NoError(t, first.RegisterGame(clickerDomain{}))
		_, err := first.CreateMatch(ctx, "clicker", "m1", map[string]string{"alice": "Alice", "bob": "Bob"})
		require.NoError(t, err)
		_, err = first.Submit(ctx, "m1", engine.Command{Type: "CLICK", PlayerID: "alice"})
		require.NoError(t, err)
		_, err = first.Submit(ctx, "m1", engine.Command{Type: "CLICK", PlayerID: "alice"})
		require.NoError(t, err)
		first.Close()

		second := NewManager(store, zap.NewNop())
		require.NoError(t, second.RegisterGame(clickerDomain{}))
		t.Cleanup(second.Close)
		require.NoError(t, second.ResumeMatch(ctx, "m1"))

		state, stateID, err := second.Snapshot(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stateID)
		assert.Equal(t, 2, state.Core.(clickerCore).Clicks["alice"])

		// The resumed worker accepts commands as if it never restarted.
		result, err := second.Submit(ctx, "m1", engine.Command{Type: "CLICK", PlayerID: "bob"})
		require.NoError(t, err)
		require.False(t, result.Rejected())
		assert.Equal(t, int64(3), result.StateID)
	})

	t.Run("resume of an unknown match fails", func(t *testing.T) {
		manager, _ := newTestManager(t)
		assert.ErrorIs(t, manager.ResumeMatch(ctx, "ghost"), ErrNotFound)
	})
}
