package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newMachine() *Machine {
	return NewMachine(DefaultConfig(), zap.NewNop())
}

func protocol() Reason { return Reason{Kind: KindProtocol, Detail: "ERROR: CL_ParseServerMessage: bad"} }

func TestReason_Classes(t *testing.T) {
	assert.True(t, Reason{Kind: KindCrash}.Critical())
	assert.True(t, Reason{Kind: KindProtocol, Detail: "forcefully unloading cgame vm"}.Critical())
	assert.False(t, protocol().Critical())

	sev := Reason{Kind: KindCrash, Detail: "Exception Code: ACCESS_VIOLATION"}
	assert.True(t, sev.Severe())
	assert.False(t, Reason{Kind: KindCrash, Detail: "Signal caught (11)"}.Severe())
}

func escalate(t *testing.T, m *Machine, first Reason) []Plan {
	t.Helper()
	now := t0
	p, err := m.Recover(first, now)
	require.NoError(t, err)
	plans := []Plan{p}
	for p.Action != ActStandby {
		now = now.Add(p.Watchdog)
		var ok bool
		p, ok = m.Expire(p.Gen, now)
		require.True(t, ok)
		plans = append(plans, p)
	}
	return plans
}

func TestRecover_TierSequence(t *testing.T) {
	plans := escalate(t, newMachine(), protocol())

	var actions []Action
	for i, p := range plans {
		actions = append(actions, p.Action)
		assert.Equal(t, i+1, p.Attempt, "attempt increases by one per tier")
		assert.LessOrEqual(t, p.Attempt, 6)
	}
	assert.Equal(t, []Action{ActResume, ActReconnect, ActReconnect, ActReconnect, ActAlternate, ActStandby}, actions)
}

func TestRecover_SevereGetsExtraReconnect(t *testing.T) {
	plans := escalate(t, newMachine(), Reason{Kind: KindCrash, Detail: "Exception Code: ACCESS_VIOLATION"})

	require.Len(t, plans, 7)
	assert.Equal(t, ActReconnect, plans[4].Action)
	assert.Equal(t, ActAlternate, plans[5].Action)
	assert.Equal(t, ActStandby, plans[6].Action)
	assert.Equal(t, 7, plans[6].Max)
}

func TestRecover_StandbyResetsContext(t *testing.T) {
	m := newMachine()
	m.IgnoreAdd("1.1.1.1:27960")
	escalate(t, m, protocol())

	assert.False(t, m.InProgress())
	assert.Zero(t, m.Attempt())
	assert.Empty(t, m.Ignored())
}

func TestRecover_InProgressGuard(t *testing.T) {
	m := newMachine()
	p, err := m.Recover(protocol(), t0)
	require.NoError(t, err)
	assert.Equal(t, ActResume, p.Action)

	_, err = m.Recover(Reason{Kind: KindKicked}, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Equal(t, 1, m.Attempt())
}

func TestRecover_CrashBypassesCooldownAndInProgress(t *testing.T) {
	m := newMachine()
	_, err := m.Recover(protocol(), t0)
	require.NoError(t, err)

	// still inside the 15s cooldown and the episode is in progress
	p, err := m.Recover(Reason{Kind: KindCrash, Detail: "Signal caught (11)"}, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Attempt)
	assert.Equal(t, ActReconnect, p.Action)
}

func TestRecover_Cooldown(t *testing.T) {
	m := newMachine()
	_, err := m.Recover(protocol(), t0)
	require.NoError(t, err)
	require.True(t, m.Confirm())

	_, err = m.Recover(protocol(), t0.Add(10*time.Second))
	assert.ErrorIs(t, err, ErrCoolingDown)

	p, err := m.Recover(Reason{Kind: KindCrash}, t0.Add(11*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Attempt)

	require.True(t, m.Confirm())
	_, err = m.Recover(protocol(), t0.Add(30*time.Second))
	assert.NoError(t, err)
}

func TestConfirm_Idempotent(t *testing.T) {
	m := newMachine()
	assert.False(t, m.Confirm(), "nothing to confirm")

	_, err := m.Recover(protocol(), t0)
	require.NoError(t, err)
	assert.True(t, m.Confirm())
	assert.False(t, m.Confirm())
	assert.Zero(t, m.Attempt())
}

func TestAbandon(t *testing.T) {
	m := newMachine()
	m.Abandon()
	assert.False(t, m.InProgress())

	p, err := m.Recover(protocol(), t0)
	require.NoError(t, err)
	m.Abandon()
	assert.False(t, m.InProgress())
	assert.False(t, m.Confirm(), "abandoned episode is not confirmed")

	_, ok := m.Expire(p.Gen, t0.Add(time.Minute))
	assert.False(t, ok)

	_, err = m.Recover(protocol(), t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrCoolingDown, "cooldown survives abandon")
}

func TestExpire_IgnoresStaleGeneration(t *testing.T) {
	m := newMachine()
	p1, _ := m.Recover(protocol(), t0)
	p2, _ := m.Recover(Reason{Kind: KindCrash}, t0.Add(time.Second))

	_, ok := m.Expire(p1.Gen, t0.Add(time.Minute))
	assert.False(t, ok)

	p3, ok := m.Expire(p2.Gen, t0.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, 3, p3.Attempt)

	m.Confirm()
	_, ok = m.Expire(p3.Gen, t0.Add(2*time.Minute))
	assert.False(t, ok, "confirmed episode has no live watchdog")
}

func TestCheckDeadlock_FiresOnce(t *testing.T) {
	m := newMachine()
	m.IgnoreAdd("2.2.2.2:27960")
	_, err := m.Recover(protocol(), t0)
	require.NoError(t, err)

	_, fired := m.CheckDeadlock(t0.Add(119 * time.Second))
	assert.False(t, fired)

	p, fired := m.CheckDeadlock(t0.Add(121 * time.Second))
	require.True(t, fired)
	assert.True(t, p.Deadlock)
	assert.Equal(t, ActStandby, p.Action)
	assert.Empty(t, m.Ignored())

	_, fired = m.CheckDeadlock(t0.Add(200 * time.Second))
	assert.False(t, fired)
}

func TestRecover_PastHorizonIsDeadlock(t *testing.T) {
	m := newMachine()
	_, err := m.Recover(protocol(), t0)
	require.NoError(t, err)

	p, err := m.Recover(protocol(), t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, p.Deadlock)
	assert.False(t, m.InProgress())
}

func TestSkip_Advances(t *testing.T) {
	m := newMachine()
	_, _ = m.Recover(protocol(), t0)
	p := m.Skip(t0.Add(time.Second))
	assert.Equal(t, 2, p.Attempt)
	assert.Equal(t, ActReconnect, p.Action)
}

func TestIgnore(t *testing.T) {
	m := newMachine()
	m.IgnoreAdd("b:1")
	m.IgnoreAdd("a:1")
	m.IgnoreAdd("")
	assert.Equal(t, []string{"a:1", "b:1"}, m.Ignored())

	ctx := m.Context()
	delete(ctx.Ignore, "a:1")
	assert.Len(t, m.Ignored(), 2, "context is a copy")

	m.IgnoreClear()
	assert.Empty(t, m.Ignored())
}
