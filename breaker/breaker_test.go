package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
)

var errBoom = errors.New("boom")

func failingOp() error { return errBoom }

func newTestRegistry(threshold int, reset time.Duration) (*Registry, *time.Time) {
	now := time.Unix(1700000000, 0)
	r := NewRegistry(func(o *Options) {
		o.Config = Config{Threshold: threshold, ResetTimeout: reset}
	})
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegistry_OpensAtThresholdAndFailsFast(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)

	for i := 0; i < 3; i++ {
		err := r.Execute("coder", failingOp)
		require.ErrorIs(t, err, errBoom)
	}

	invoked := false
	err := r.Execute("coder", func() error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, invoked, "open circuit must not invoke the operation")

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "coder", oe.Agent)
}

func TestRegistry_HalfOpenProbe(t *testing.T) {
	r, now := newTestRegistry(2, time.Minute)

	for i := 0; i < 2; i++ {
		_ = r.Execute("coder", failingOp)
	}
	assert.Equal(t, Open, r.States()["coder"].Mode)

	// Before the reset timeout the circuit still rejects.
	var oe *OpenError
	require.ErrorAs(t, r.Execute("coder", failingOp), &oe)

	// After the reset timeout the real operation runs again.
	*now = now.Add(time.Minute)
	invoked := false
	err := r.Execute("coder", func() error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, Closed, r.States()["coder"].Mode)
	assert.Zero(t, r.States()["coder"].Failures)
}

func TestRegistry_HalfOpenFailureReopens(t *testing.T) {
	r, now := newTestRegistry(2, time.Minute)
	for i := 0; i < 2; i++ {
		_ = r.Execute("coder", failingOp)
	}

	*now = now.Add(time.Minute)
	require.ErrorIs(t, r.Execute("coder", failingOp), errBoom)
	assert.Equal(t, Open, r.States()["coder"].Mode)
}

func TestRegistry_AgentsAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(1, time.Minute)

	_ = r.Execute("flaky", failingOp)
	require.NoError(t, r.Execute("healthy", func() error { return nil }))

	assert.ElementsMatch(t, []string{"flaky"}, r.OpenAgents())
}

func TestRegistry_ResetAndResetAll(t *testing.T) {
	r, _ := newTestRegistry(1, time.Hour)
	_ = r.Execute("a", failingOp)
	_ = r.Execute("b", failingOp)
	require.Len(t, r.OpenAgents(), 2)

	r.Reset("a")
	assert.ElementsMatch(t, []string{"b"}, r.OpenAgents())

	r.ResetAll()
	assert.Empty(t, r.OpenAgents())
	require.NoError(t, r.Execute("a", func() error { return nil }))
}

func TestRegistry_PublishesCircuitOpenOnce(t *testing.T) {
	var published []core.Notification
	notifier := notifierFunc(func(n core.Notification) { published = append(published, n) })

	r := NewRegistry(func(o *Options) {
		o.Config = Config{Threshold: 2, ResetTimeout: time.Hour}
		o.Notifier = notifier
	})

	_ = r.Execute("coder", failingOp)
	assert.Empty(t, published)
	_ = r.Execute("coder", failingOp)
	require.Len(t, published, 1)
	assert.Equal(t, core.KindCircuitOpen, published[0].Kind)
	assert.Equal(t, "coder", published[0].Agent)
}

type notifierFunc func(core.Notification)

func (f notifierFunc) Publish(n core.Notification) { f(n) }
