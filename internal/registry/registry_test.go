package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachDetach(t *testing.T) {
	r := New()

	assert.False(t, r.IsAttached(1))
	_, ok := r.CurrentSession(1)
	assert.False(t, ok)

	r.Attach(1, "claude-1")
	assert.True(t, r.IsAttached(1))
	name, ok := r.CurrentSession(1)
	require.True(t, ok)
	assert.Equal(t, "claude-1", name)

	// Another user is unaffected
	assert.False(t, r.IsAttached(2))

	r.Detach(1)
	assert.False(t, r.IsAttached(1))

	// Detaching when not attached is a no-op
	r.Detach(1)
	assert.False(t, r.IsAttached(1))
}

func TestAttachReplacesPrevious(t *testing.T) {
	r := New()
	r.Attach(1, "alpha")
	r.Attach(1, "beta")

	name, ok := r.CurrentSession(1)
	require.True(t, ok)
	assert.Equal(t, "beta", name)
}

func TestPerUserCaches(t *testing.T) {
	r := New()

	assert.Empty(t, r.LastScreen(1))
	assert.Empty(t, r.LastCommand(1))

	r.SetLastScreen(1, "screen body")
	r.SetLastCommand(1, "make test")

	assert.Equal(t, "screen body", r.LastScreen(1))
	assert.Equal(t, "make test", r.LastCommand(1))
	assert.Empty(t, r.LastScreen(2))
}

func TestPendingConfirmConsumedOnce(t *testing.T) {
	r := New()

	_, ok := r.TakePendingConfirm(1)
	assert.False(t, ok)

	r.SetPendingConfirm(1, &Confirmation{
		Kind: "kill", Target: "claude-1", CreatedAt: time.Now(),
	})

	c, ok := r.TakePendingConfirm(1)
	require.True(t, ok)
	assert.Equal(t, "kill", c.Kind)
	assert.Equal(t, "claude-1", c.Target)

	// Second take gets nothing
	_, ok = r.TakePendingConfirm(1)
	assert.False(t, ok)
}

func TestPendingConfirmExpires(t *testing.T) {
	r := New()
	r.SetPendingConfirm(1, &Confirmation{
		Kind: "kill", Target: "claude-1",
		CreatedAt: time.Now().Add(-10 * time.Minute),
	})

	_, ok := r.TakePendingConfirm(1)
	assert.False(t, ok, "stale confirmation must not be actionable")

	// And it is gone, not lingering
	_, ok = r.TakePendingConfirm(1)
	assert.False(t, ok)
}

func TestSweepEvictsIdleUsers(t *testing.T) {
	r := New()
	r.Attach(1, "claude-1")
	r.SetLastCommand(2, "ls")

	// Everybody is fresh: a 1h TTL evicts nobody.
	result := r.Sweep(time.Hour)
	assert.Empty(t, result.Evicted)
	assert.True(t, r.IsAttached(1))

	// A zero TTL evicts everyone, caches included.
	result = r.Sweep(0)
	assert.Len(t, result.Evicted, 2)
	assert.False(t, r.IsAttached(1))
	assert.Empty(t, r.LastCommand(2))
	assert.Empty(t, r.ActiveUsers())
}

func TestSweepWorkerLeavesFreshUsersAlone(t *testing.T) {
	r := New()
	r.Attach(1, "claude-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan SweepResult, 1)
	r.StartSweepWorker(ctx, func(res SweepResult) { called <- res })

	select {
	case res := <-called:
		t.Fatalf("fresh user evicted on first run: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, r.IsAttached(1))
}

func TestResolve(t *testing.T) {
	names := []string{"claude-dev", "claude-infra", "scratch", "work-api"}

	// Exact hit comes back alone.
	assert.Equal(t, []string{"scratch"}, Resolve("scratch", names))

	// Fuzzy candidates for a partial name.
	got := Resolve("claude", names)
	require.NotEmpty(t, got)
	assert.Contains(t, got, "claude-dev")
	assert.Contains(t, got, "claude-infra")

	// Typos still surface suggestions.
	got = Resolve("clde-dev", names)
	assert.Contains(t, got, "claude-dev")

	// No match, no suggestions.
	assert.Empty(t, Resolve("zzzzqq", names))

	assert.Nil(t, Resolve("", names))
	assert.Nil(t, Resolve("x", nil))
}

func TestResolveCapsCandidates(t *testing.T) {
	names := []string{"s-1", "s-2", "s-3", "s-4", "s-5", "s-6", "s-7"}
	got := Resolve("s", names)
	assert.LessOrEqual(t, len(got), maxCandidates)
}
