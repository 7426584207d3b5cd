package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/boardforge/arena-server/internal/engine"
)

// SubmitResult is the outcome of one submitted command.
type SubmitResult struct {
	StateID   int64
	State     *engine.MatchState
	Events    []engine.Event
	Rejection *engine.RejectionReason
}

// Rejected reports whether the command was refused by validation.
func (r *SubmitResult) Rejected() bool { return r.Rejection != nil }

// BroadcastHandler is called after every applied command with the new state.
type BroadcastHandler func(matchID string, stateID int64, state *engine.MatchState, events []engine.Event)

// GameOverHandler is called once when a match reaches its terminal result.
type GameOverHandler func(matchID string, result engine.GameOverResult)

// Manager owns every live match. Each match gets a dedicated worker
// goroutine fed by a task channel, so commands against one match apply
// strictly one at a time in arrival order while different matches proceed
// in parallel. Everything that touches a match's state runs on its worker.
type Manager struct {
	store  Store
	logger *zap.Logger

	mu        sync.RWMutex
	pipelines map[string]*engine.Pipeline
	live      map[string]*liveMatch
	closed    bool

	broadcast  BroadcastHandler
	onGameOver GameOverHandler

	wg sync.WaitGroup
}

type liveMatch struct {
	matchID  string
	pipeline *engine.Pipeline

	// Owned by the worker goroutine; tasks are the only access path.
	state         *engine.MatchState
	stateID       int64
	gameOverFired bool

	tasks chan func()
	stop  chan struct{}
}

// NewManager creates a manager backed by the given store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		logger:    logger,
		pipelines: make(map[string]*engine.Pipeline),
		live:      make(map[string]*liveMatch),
	}
}

// SetBroadcastHandler installs the post-command notification hook.
func (m *Manager) SetBroadcastHandler(handler BroadcastHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = handler
}

// SetGameOverHandler installs the terminal-result hook.
func (m *Manager) SetGameOverHandler(handler GameOverHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGameOver = handler
}

// RegisterGame makes a game module available for new matches. Category
// completeness is checked here, at registration time.
func (m *Manager) RegisterGame(domain engine.Domain) error {
	pipeline, err := engine.NewPipeline(domain, m.logger.Named("pipeline"))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[domain.GameID()]; ok {
		return fmt.Errorf("game %s already registered", domain.GameID())
	}
	m.pipelines[domain.GameID()] = pipeline
	return nil
}

// CreateMatch sets up and persists a new match. Players start disconnected;
// the connection registry flips them live as their sessions identify.
func (m *Manager) CreateMatch(ctx context.Context, gameID, matchID string, players map[string]string) (*engine.MatchState, error) {
	m.mu.Lock()
	pipeline, ok := m.pipelines[gameID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("game %s not registered", gameID)
	}
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager closed")
	}
	if _, ok := m.live[matchID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("match %s already live", matchID)
	}

	playerIDs := make([]string, 0, len(players))
	meta := Metadata{
		GameID:    gameID,
		Players:   make(map[string]PlayerMeta, len(players)),
		CreatedAt: time.Now().UTC(),
	}
	for id, name := range players {
		playerIDs = append(playerIDs, id)
		meta.Players[id] = PlayerMeta{Name: name}
	}

	state := pipeline.NewMatch(matchID, playerIDs)
	raw, err := EncodeState(state)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.store.Create(ctx, &Record{MatchID: matchID, State: raw, Metadata: meta}); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	m.startLocked(matchID, pipeline, state, 0)
	m.mu.Unlock()

	m.logger.Info("match created",
		zap.String("match_id", matchID),
		zap.String("game_id", gameID),
		zap.Int("players", len(players)),
	)
	return state, nil
}

// ResumeMatch loads a persisted match back into a live worker, e.g. after a
// process restart.
func (m *Manager) ResumeMatch(ctx context.Context, matchID string) error {
	record, err := m.store.Fetch(ctx, matchID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("manager closed")
	}
	if _, ok := m.live[matchID]; ok {
		return nil
	}
	pipeline, ok := m.pipelines[record.Metadata.GameID]
	if !ok {
		return fmt.Errorf("game %s not registered", record.Metadata.GameID)
	}
	state, err := DecodeState(record.State, pipeline.Domain())
	if err != nil {
		return err
	}
	m.startLocked(matchID, pipeline, state, record.StateID)

	m.logger.Info("match resumed",
		zap.String("match_id", matchID),
		zap.Int64("state_id", record.StateID),
	)
	return nil
}

// startLocked registers a live match and starts its worker. Caller holds mu.
func (m *Manager) startLocked(matchID string, pipeline *engine.Pipeline, state *engine.MatchState, stateID int64) {
	lm := &liveMatch{
		matchID:       matchID,
		pipeline:      pipeline,
		state:         state,
		stateID:       stateID,
		gameOverFired: state.Sys.Gameover != nil,
		tasks:         make(chan func(), 32),
		stop:          make(chan struct{}),
	}
	m.live[matchID] = lm
	m.wg.Add(1)
	go m.runWorker(lm)
}

func (m *Manager) runWorker(lm *liveMatch) {
	defer m.wg.Done()
	for {
		select {
		case task := <-lm.tasks:
			task()
		case <-lm.stop:
			return
		}
	}
}

// run schedules fn on the match worker and waits for it to finish.
func (m *Manager) run(ctx context.Context, matchID string, fn func(lm *liveMatch)) error {
	m.mu.RLock()
	lm, ok := m.live[matchID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn(lm)
	}
	select {
	case lm.tasks <- task:
	case <-lm.stop:
		return fmt.Errorf("match %s stopped", matchID)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs one command through the match pipeline. Commands against the
// same match are applied in arrival order, one at a time; a command
// submitted while another is executing waits its turn rather than seeing a
// half-applied state.
func (m *Manager) Submit(ctx context.Context, matchID string, cmd engine.Command) (*SubmitResult, error) {
	var result *SubmitResult
	var submitErr error
	err := m.run(ctx, matchID, func(lm *liveMatch) {
		result, submitErr = m.apply(lm, cmd)
	})
	if err != nil {
		return nil, err
	}
	return result, submitErr
}

// apply executes and persists one command. Runs on the match worker.
func (m *Manager) apply(lm *liveMatch, cmd engine.Command) (*SubmitResult, error) {
	res := lm.pipeline.Execute(lm.state, cmd)
	if res.Rejected() {
		return &SubmitResult{
			StateID:   lm.stateID,
			State:     lm.state,
			Rejection: res.Rejection,
		}, nil
	}

	raw, err := EncodeState(res.State)
	if err != nil {
		return nil, err
	}
	nextID := lm.stateID + 1
	if err := m.store.SaveState(context.Background(), lm.matchID, raw, nextID); err != nil {
		// The in-memory state stays on the last persisted snapshot so the
		// store never lags what players were shown.
		m.logger.Error("persist failed, command dropped",
			zap.String("match_id", lm.matchID),
			zap.String("command_type", cmd.Type),
			zap.Error(err),
		)
		return nil, err
	}

	lm.state = res.State
	lm.stateID = nextID

	m.mu.RLock()
	broadcast := m.broadcast
	onGameOver := m.onGameOver
	m.mu.RUnlock()

	if broadcast != nil {
		broadcast(lm.matchID, lm.stateID, lm.state, res.Events)
	}
	if lm.state.Sys.Gameover != nil && !lm.gameOverFired {
		lm.gameOverFired = true
		if onGameOver != nil {
			onGameOver(lm.matchID, *lm.state.Sys.Gameover)
		}
	}

	return &SubmitResult{StateID: lm.stateID, State: lm.state, Events: res.Events}, nil
}

// Snapshot returns the current state and state id of a live match. It goes
// through the worker, so it never observes a command mid-application.
func (m *Manager) Snapshot(ctx context.Context, matchID string) (*engine.MatchState, int64, error) {
	var state *engine.MatchState
	var stateID int64
	err := m.run(ctx, matchID, func(lm *liveMatch) {
		state = lm.state
		stateID = lm.stateID
	})
	if err != nil {
		return nil, 0, err
	}
	return state, stateID, nil
}

// Metadata returns the persisted metadata for a match.
func (m *Manager) Metadata(ctx context.Context, matchID string) (Metadata, error) {
	record, err := m.store.Fetch(ctx, matchID)
	if err != nil {
		return Metadata{}, err
	}
	return record.Metadata, nil
}

// Pipeline returns the pipeline for a registered game.
func (m *Manager) Pipeline(gameID string) (*engine.Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pipeline, ok := m.pipelines[gameID]
	return pipeline, ok
}

// SetPlayerConnected records a player's liveness in match metadata. The
// update is serialized on the match worker like any other mutation.
func (m *Manager) SetPlayerConnected(ctx context.Context, matchID, playerID string, connected bool) error {
	return m.updatePlayer(ctx, matchID, playerID, func(player *PlayerMeta) {
		player.IsConnected = connected
	})
}

// SetPlayerCredentials captures a player's identity proof if metadata does
// not already carry one.
func (m *Manager) SetPlayerCredentials(ctx context.Context, matchID, playerID, credentials string) error {
	return m.updatePlayer(ctx, matchID, playerID, func(player *PlayerMeta) {
		if player.Credentials == "" {
			player.Credentials = credentials
		}
	})
}

func (m *Manager) updatePlayer(ctx context.Context, matchID, playerID string, mutate func(*PlayerMeta)) error {
	var updateErr error
	err := m.run(ctx, matchID, func(lm *liveMatch) {
		record, err := m.store.Fetch(context.Background(), lm.matchID)
		if err != nil {
			updateErr = err
			return
		}
		player, ok := record.Metadata.Players[playerID]
		if !ok {
			updateErr = fmt.Errorf("player %s not in match %s", playerID, matchID)
			return
		}
		mutate(&player)
		record.Metadata.Players[playerID] = player
		updateErr = m.store.SaveMetadata(context.Background(), lm.matchID, record.Metadata)
	})
	if err != nil {
		return err
	}
	return updateErr
}

// Close stops every match worker and waits for them to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, lm := range m.live {
		close(lm.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
