package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/gameclient"
)

type finderFunc func(ctx context.Context, ignore []string) (string, error)

func (f finderFunc) NextActive(ctx context.Context, ignore []string) (string, error) {
	return f(ctx, ignore)
}

func runAsync(e *Executor, job Job) <-chan Result {
	out := make(chan Result, 1)
	go func() { out <- e.Run(context.Background(), job) }()
	return out
}

func TestExecutor_Reconnect(t *testing.T) {
	rec := gameclient.NewRecorder()
	clk := clockwork.NewFakeClock()
	e := NewExecutor(rec, nil, clk, zap.NewNop())

	done := runAsync(e, Job{Plan: Plan{Action: ActReconnect, Attempt: 2}, Current: "1.2.3.4:27960"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	assert.Equal(t, []string{"disconnect"}, rec.Commands())

	clk.Advance(3 * time.Second)
	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, "1.2.3.4:27960", res.Addr)
	assert.Equal(t, []string{"disconnect", "connect 1.2.3.4:27960"}, rec.Commands())
}

func TestExecutor_ReconnectWithoutAddress(t *testing.T) {
	rec := gameclient.NewRecorder()
	e := NewExecutor(rec, nil, clockwork.NewFakeClock(), zap.NewNop())

	res := e.Run(context.Background(), Job{Plan: Plan{Action: ActReconnect}})
	assert.ErrorIs(t, res.Err, ErrNoAddress)
	assert.True(t, res.Skipped())
	assert.Empty(t, rec.Commands())
}

func TestExecutor_Alternate(t *testing.T) {
	cases := []struct {
		name    string
		found   string
		findErr error
		wantErr error
		wantCmd []string
	}{
		{name: "found", found: "5.5.5.5:27960", wantCmd: []string{"connect 5.5.5.5:27960"}},
		{name: "none", wantErr: ErrNoAddress},
		{name: "directory down", findErr: errors.New("down"), wantErr: errors.New("down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := gameclient.NewRecorder()
			clk := clockwork.NewFakeClock()
			var seen []string
			dir := finderFunc(func(_ context.Context, ignore []string) (string, error) {
				seen = ignore
				return tc.found, tc.findErr
			})
			e := NewExecutor(rec, dir, clk, zap.NewNop())

			done := runAsync(e, Job{Plan: Plan{Action: ActAlternate}, Current: "1.1.1.1:27960", Ignore: []string{"1.1.1.1:27960"}})
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			require.NoError(t, clk.BlockUntilContext(ctx, 1))
			clk.Advance(2 * time.Second)
			res := <-done

			assert.Equal(t, []string{"1.1.1.1:27960"}, seen)
			if tc.wantErr != nil {
				require.Error(t, res.Err)
				assert.Equal(t, tc.wantErr.Error(), res.Err.Error())
				assert.Empty(t, rec.Commands())
				return
			}
			require.NoError(t, res.Err)
			assert.Equal(t, tc.wantCmd, rec.Commands())
		})
	}
}

func TestExecutor_ResumeAndStandby(t *testing.T) {
	rec := gameclient.NewRecorder()
	e := NewExecutor(rec, nil, clockwork.NewFakeClock(), zap.NewNop())

	e.Run(context.Background(), Job{Plan: Plan{Action: ActResume}})
	e.Run(context.Background(), Job{Plan: Plan{Action: ActStandby}})
	assert.Equal(t, []string{ResumeCommand, StandbyCommand}, rec.Commands())
}

func TestExecutor_CancelDuringSettle(t *testing.T) {
	rec := gameclient.NewRecorder()
	clk := clockwork.NewFakeClock()
	e := NewExecutor(rec, nil, clk, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() { done <- e.Run(ctx, Job{Plan: Plan{Action: ActReconnect}, Current: "1.2.3.4:27960"}) }()

	wait, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	require.NoError(t, clk.BlockUntilContext(wait, 1))
	cancel()
	clk.Advance(3 * time.Second)

	res := <-done
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []string{"disconnect"}, rec.Commands())
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	rec := gameclient.NewRecorder()
	e := NewExecutor(rec, nil, clockwork.NewFakeClock(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, act := range []Action{ActResume, ActReconnect, ActStandby} {
		res := e.Run(ctx, Job{Plan: Plan{Action: act}, Current: "1.2.3.4:27960"})
		assert.ErrorIs(t, res.Err, context.Canceled, act)
	}
	assert.Empty(t, rec.Commands())
}

func TestExecutor_CancelDuringLookup(t *testing.T) {
	rec := gameclient.NewRecorder()
	clk := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	// The directory answers, but the tier was superseded meanwhile.
	dir := finderFunc(func(context.Context, []string) (string, error) {
		cancel()
		return "5.5.5.5:27960", nil
	})
	e := NewExecutor(rec, dir, clk, zap.NewNop())
	e.Pause = 0

	res := e.Run(ctx, Job{Plan: Plan{Action: ActAlternate}})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, rec.Commands())
}
