package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/gameclient"
)

var ErrNoAddress = errors.New("no server address for this tier")

const (
	ResumeCommand  = "team s;svinfo_report serverstate.txt;svinfo_report initialstate.txt"
	StandbyCommand = "map st1"
)

// Finder is the part of the server directory the executor needs.
type Finder interface {
	NextActive(ctx context.Context, ignore []string) (string, error)
}

type Job struct {
	Plan Plan
	// Current is the address being recovered; Ignore already includes it for
	// the alternate tier.
	Current string
	Ignore  []string
}

type Result struct {
	Plan Plan
	// Addr is where a connect was issued, if any.
	Addr string
	Err  error
}

func (r Result) Skipped() bool { return r.Err != nil }

type Executor struct {
	cmd   gameclient.Commander
	dir   Finder
	clock clockwork.Clock
	log   *zap.Logger

	Settle time.Duration
	Pause  time.Duration
}

func NewExecutor(cmd gameclient.Commander, dir Finder, clock clockwork.Clock, log *zap.Logger) *Executor {
	return &Executor{
		cmd:    cmd,
		dir:    dir,
		clock:  clock,
		log:    log.Named("executor"),
		Settle: 3 * time.Second,
		Pause:  2 * time.Second,
	}
}

// Run performs one tier. It blocks through settle delays and directory
// lookups, so callers run it off the session goroutine. Once ctx is done no
// further command is sent.
func (e *Executor) Run(ctx context.Context, job Job) Result {
	res := Result{Plan: job.Plan}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	switch job.Plan.Action {
	case ActResume:
		e.cmd.SendCommand(ResumeCommand)

	case ActReconnect:
		if job.Current == "" {
			res.Err = ErrNoAddress
			return res
		}
		e.cmd.SendCommand("disconnect")
		if err := e.sleep(ctx, e.Settle); err != nil {
			res.Err = err
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		e.cmd.SendCommand("connect " + job.Current)
		res.Addr = job.Current

	case ActAlternate:
		if err := e.sleep(ctx, e.Pause); err != nil {
			res.Err = err
			return res
		}
		addr, err := e.dir.NextActive(ctx, job.Ignore)
		if err != nil {
			res.Err = err
			return res
		}
		if addr == "" {
			res.Err = ErrNoAddress
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		e.cmd.SendCommand("connect " + addr)
		res.Addr = addr

	case ActStandby:
		e.cmd.SendCommand(StandbyCommand)
	}

	e.log.Debug("tier executed",
		zap.String("action", string(job.Plan.Action)),
		zap.Int("attempt", job.Plan.Attempt),
		zap.String("addr", res.Addr),
	)
	return res
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-e.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
