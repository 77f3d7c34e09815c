package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatmux/chatmux/internal/logging"
)

var regLog = logging.ForComponent(logging.CompRegistry)

const (
	// sweepInterval is how often inactive users are evicted.
	sweepInterval = time.Hour
	// userTTL is how long a user may stay idle before eviction.
	userTTL = time.Hour
	// confirmTTL bounds how long a pending confirmation stays answerable.
	confirmTTL = 2 * time.Minute
)

// Confirmation is a destructive action awaiting an explicit yes.
type Confirmation struct {
	Kind      string // "kill", "clear", ...
	Target    string // session name or other object
	CreatedAt time.Time
}

// userState is everything ephemeral the bridge holds for one user.
// The durable Session record lives in the store; this does not.
type userState struct {
	session     string // attached tmux session name, "" when detached
	lastActive  time.Time
	lastScreen  string
	lastCommand string
	confirm     *Confirmation
}

// Registry tracks which multiplexer session each user is attached to, plus
// small per-user caches. Everything here is in-memory and evictable; losing
// it means the user re-attaches, nothing more.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]*userState
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{users: make(map[int64]*userState)}
}

// get returns the state for a user, creating it if needed. Callers hold mu.
func (r *Registry) get(userID int64) *userState {
	u, ok := r.users[userID]
	if !ok {
		u = &userState{}
		r.users[userID] = u
	}
	return u
}

// Attach binds a user to a session, replacing any previous attachment.
func (r *Registry) Attach(userID int64, session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.get(userID)
	u.session = session
	u.lastActive = time.Now()
}

// Detach clears the user's attachment. Safe to call when not attached.
func (r *Registry) Detach(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.get(userID)
	u.session = ""
	u.lastActive = time.Now()
}

// IsAttached reports whether the user currently has a session.
func (r *Registry) IsAttached(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	return ok && u.session != ""
}

// CurrentSession returns the attached session name, if any.
func (r *Registry) CurrentSession(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok || u.session == "" {
		return "", false
	}
	return u.session, true
}

// Touch marks the user as active now. Call it on every inbound interaction;
// the sweeper uses it to decide who is idle.
func (r *Registry) Touch(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).lastActive = time.Now()
}

// SetLastScreen caches the most recent capture shown to the user.
func (r *Registry) SetLastScreen(userID int64, screen string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).lastScreen = screen
}

// LastScreen returns the cached capture, "" when none.
func (r *Registry) LastScreen(userID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return u.lastScreen
	}
	return ""
}

// SetLastCommand remembers the user's last shell command for rerun.
func (r *Registry) SetLastCommand(userID int64, command string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).lastCommand = command
}

// LastCommand returns the remembered shell command, "" when none.
func (r *Registry) LastCommand(userID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return u.lastCommand
	}
	return ""
}

// SetPendingConfirm parks a destructive action until the user confirms.
// Any previous pending confirmation is replaced.
func (r *Registry) SetPendingConfirm(userID int64, c *Confirmation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).confirm = c
}

// TakePendingConfirm consumes the pending confirmation. Returns false when
// there is none or it has gone stale; either way nothing is left behind.
func (r *Registry) TakePendingConfirm(userID int64) (*Confirmation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.confirm == nil {
		return nil, false
	}
	c := u.confirm
	u.confirm = nil
	if time.Since(c.CreatedAt) > confirmTTL {
		return nil, false
	}
	return c, true
}

// ActiveUsers returns the ids of all tracked users.
func (r *Registry) ActiveUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

// SweepResult holds the outcome of one eviction pass.
type SweepResult struct {
	Evicted  []int64
	Duration time.Duration
}

// Sweep evicts every user idle longer than ttl and returns who was evicted,
// so the caller can cancel any live refresh for them.
func (r *Registry) Sweep(ttl time.Duration) SweepResult {
	start := time.Now()
	cutoff := start.Add(-ttl)

	r.mu.Lock()
	var evicted []int64
	for id, u := range r.users {
		if u.lastActive.Before(cutoff) {
			delete(r.users, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	return SweepResult{Evicted: evicted, Duration: time.Since(start)}
}

// StartSweepWorker launches a background goroutine that runs Sweep on an
// hourly ticker with an immediate first run. onEvict, when set, is called
// after each pass that evicted someone.
func (r *Registry) StartSweepWorker(ctx context.Context, onEvict func(SweepResult)) {
	go func() {
		run := func() {
			result := r.Sweep(userTTL)
			if len(result.Evicted) > 0 {
				regLog.Info("registry_sweep",
					slog.Int("evicted", len(result.Evicted)),
					slog.Duration("took", result.Duration))
				if onEvict != nil {
					onEvict(result)
				}
			}
		}

		run()

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
