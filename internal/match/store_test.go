package match

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardforge/arena-server/internal/engine"
)

func testRecord(matchID string) *Record {
	return &Record{
		MatchID: matchID,
		State:   json.RawMessage(`{"sys":{},"core":null}`),
		Metadata: Metadata{
			GameID: "clicker",
			Players: map[string]PlayerMeta{
				"alice": {Name: "Alice"},
			},
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create then fetch round-trips", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, testRecord("m1")))

		record, err := store.Fetch(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", record.MatchID)
		assert.Equal(t, "clicker", record.Metadata.GameID)
		assert.Equal(t, int64(0), record.StateID)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, testRecord("m1")))
		assert.Error(t, store.Create(ctx, testRecord("m1")))
	})

	t.Run("missing match is ErrNotFound", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Fetch(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.SaveState(ctx, "ghost", nil, 1), ErrNotFound)
		assert.ErrorIs(t, store.SaveMetadata(ctx, "ghost", Metadata{}), ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "ghost"), ErrNotFound)
	})

	t.Run("save state advances the stored snapshot", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, testRecord("m1")))
		require.NoError(t, store.SaveState(ctx, "m1", json.RawMessage(`{"sys":{},"core":7}`), 3))

		record, err := store.Fetch(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), record.StateID)
		assert.JSONEq(t, `{"sys":{},"core":7}`, string(record.State))
	})

	t.Run("fetched records are isolated from later mutation", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, testRecord("m1")))

		record, err := store.Fetch(ctx, "m1")
		require.NoError(t, err)
		record.Metadata.Players["alice"] = PlayerMeta{Name: "Alice", IsConnected: true}

		fresh, err := store.Fetch(ctx, "m1")
		require.NoError(t, err)
		assert.False(t, fresh.Metadata.Players["alice"].IsConnected)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, testRecord("m1")))
		require.NoError(t, store.Delete(ctx, "m1"))
		_, err := store.Fetch(ctx, "m1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStateCodec(t *testing.T) {
	t.Run("sys state survives an encode/decode round-trip", func(t *testing.T) {
		state := engine.NewMatchState("m1", clickerCore{
			Players: []string{"alice", "bob"},
			Clicks:  map[string]int{"alice": 2, "bob": 0},
			Target:  5,
		})
		engine.QueueInteraction(state, engine.NewInteraction("bob", "confirm", nil))

		raw, err := EncodeState(state)
		require.NoError(t, err)

		decoded, err := DecodeState(raw, clickerDomain{})
		require.NoError(t, err)
		require.NotNil(t, decoded.Sys.Interaction.Current)
		assert.Equal(t, state.Sys.Interaction.Current.ID, decoded.Sys.Interaction.Current.ID)
		require.NotNil(t, decoded.Sys.ResponseWindow.Current)
		assert.Equal(t, state.Sys.Interaction.Current.ID,
			decoded.Sys.ResponseWindow.Current.PendingInteractionID)

		core := decoded.Core.(clickerCore)
		assert.Equal(t, 2, core.Clicks["alice"])
	})

	t.Run("without a core decoder the core stays generic", func(t *testing.T) {
		raw := json.RawMessage(`{"sys":{"matchId":"m1"},"core":{"clicks":{"alice":1}}}`)
		decoded, err := DecodeState(raw, nil)
		require.NoError(t, err)
		assert.Equal(t, "m1", decoded.Sys.MatchID)
		_, ok := decoded.Core.(map[string]any)
		assert.True(t, ok)
	})
}
