package connection

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hooks are the liveness transition callbacks. They run inside the
// registry's critical section so transitions for one key are totally
// ordered; they must not call back into the registry.
type Hooks struct {
	// PlayerConnected fires when a key goes from zero to one live sessions.
	// credentials is the identity proof presented by the session.
	PlayerConnected func(key Key, credentials string)
	// PlayerDisconnected fires when a key's last live session goes away.
	PlayerDisconnected func(key Key)
	// GraceElapsed fires after the grace period passes with the player
	// still offline. It runs on a timer goroutine, outside the critical
	// section.
	GraceElapsed func(key Key)
}

type sessionInfo struct {
	key         Key
	credentials string
}

// Registry tracks which transport sessions currently speak for which player
// in which match. A player counts as connected while at least one of their
// sessions is open: multiple tabs, multiple devices. Liveness transitions
// drive the grace scheduler: last session out arms the timer, first session
// back in cancels it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]sessionInfo
	byKey    map[Key]map[string]struct{}
	// lastCredentials keeps the most recent identity proof per seat. It
	// survives session close so the adjudication path can still act for a
	// player whose sessions are all gone.
	lastCredentials map[Key]string
	scheduler       *GraceScheduler
	grace           time.Duration
	hooks           Hooks
	logger          *zap.Logger
}

// NewRegistry creates a registry with the given grace period.
func NewRegistry(grace time.Duration, hooks Hooks, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:        make(map[string]sessionInfo),
		byKey:           make(map[Key]map[string]struct{}),
		lastCredentials: make(map[Key]string),
		scheduler:       NewGraceScheduler(logger.Named("grace")),
		grace:           grace,
		hooks:           hooks,
		logger:          logger,
	}
}

// Identify binds a session to a player seat. Re-identifying an already bound
// session moves it atomically: the old seat sees the departure and the new
// seat the arrival under the same critical section, so no interleaved close
// or open can observe the session in both places or neither. Identifying a
// session to the seat it already holds is a no-op.
func (r *Registry) Identify(sessionID string, key Key, credentials string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[sessionID]; ok {
		if prev.key == key {
			return
		}
		r.detachLocked(sessionID, prev.key)
	}

	r.sessions[sessionID] = sessionInfo{key: key, credentials: credentials}
	if credentials != "" {
		r.lastCredentials[key] = credentials
	}
	set, ok := r.byKey[key]
	if !ok {
		set = make(map[string]struct{})
		r.byKey[key] = set
	}
	first := len(set) == 0
	set[sessionID] = struct{}{}

	r.scheduler.Cancel(key)

	if first {
		r.logger.Info("player connected",
			zap.String("match_id", key.MatchID),
			zap.String("player_id", key.PlayerID),
			zap.String("session_id", sessionID),
		)
		if r.hooks.PlayerConnected != nil {
			r.hooks.PlayerConnected(key, credentials)
		}
	}
}

// Close removes a session. Closing an unknown or already closed session is a
// no-op, so transport-level double closes are harmless.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	r.detachLocked(sessionID, info.key)
}

// detachLocked removes a session from a seat and handles the last-session
// transition. Caller holds mu.
func (r *Registry) detachLocked(sessionID string, key Key) {
	set, ok := r.byKey[key]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) > 0 {
		return
	}
	delete(r.byKey, key)

	r.logger.Info("player disconnected",
		zap.String("match_id", key.MatchID),
		zap.String("player_id", key.PlayerID),
		zap.Duration("grace", r.grace),
	)
	if r.hooks.PlayerDisconnected != nil {
		r.hooks.PlayerDisconnected(key)
	}
	if r.hooks.GraceElapsed != nil {
		r.scheduler.Schedule(key, r.grace, func() { r.hooks.GraceElapsed(key) })
	}
}

// IsConnected reports whether the seat has at least one live session.
func (r *Registry) IsConnected(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[key]) > 0
}

// SessionCount returns the number of live sessions for a seat.
func (r *Registry) SessionCount(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[key])
}

// Credentials returns the identity proof of any live session for the seat,
// falling back to the last one captured at registration time. Used when
// match metadata carries no credentials; the registration capture matters
// because by the time adjudication runs the player's sessions are gone.
func (r *Registry) Credentials(key Key) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID := range r.byKey[key] {
		if c := r.sessions[sessionID].credentials; c != "" {
			return c, true
		}
	}
	if c, ok := r.lastCredentials[key]; ok {
		return c, true
	}
	return "", false
}

// GracePending reports whether a grace timer is armed for the seat.
func (r *Registry) GracePending(key Key) bool {
	return r.scheduler.Pending(key)
}

// Shutdown cancels all pending grace timers.
func (r *Registry) Shutdown() {
	r.scheduler.Close()
}
