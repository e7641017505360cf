package recovery

import (
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrCoolingDown = errors.New("recovery cooling down")
var ErrInProgress = errors.New("recovery already in progress")

// ErrDeadlock marks a plan produced by the deadlock horizon rather than by
// normal escalation.
var ErrDeadlock = errors.New("recovery deadlocked")

// Phase is the connection phase of the session. Exactly one holds at a time.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseLoading      Phase = "loading"
	PhaseInitializing Phase = "initializing"
	PhaseActive       Phase = "active"
	PhaseRecovering   Phase = "recovering"
	PhaseStandby      Phase = "standby"
)

type Kind string

const (
	KindProtocol       Kind = "protocol"
	KindCrash          Kind = "crash"
	KindKicked         Kind = "kicked"
	KindPauseTimeout   Kind = "pause_timeout"
	KindConnectTimeout Kind = "connect_timeout"
	KindMapLoad        Kind = "map_load"
	KindManual         Kind = "manual"
)

var criticalMarkers = []string{
	"ACCESS_VIOLATION",
	"Exception Code:",
	"Signal caught",
	"forcefully unloading cgame vm",
}

type Reason struct {
	Kind   Kind
	Detail string
}

// Critical reasons bypass both the cooldown and the in-progress guard.
func (r Reason) Critical() bool {
	if r.Kind == KindCrash {
		return true
	}
	for _, m := range criticalMarkers {
		if strings.Contains(r.Detail, m) {
			return true
		}
	}
	return false
}

// Severe crashes get one extra reconnect tier.
func (r Reason) Severe() bool {
	return strings.Contains(r.Detail, "ACCESS_VIOLATION")
}

func (r Reason) String() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + ": " + r.Detail
}

type Action string

const (
	ActResume    Action = "resume"
	ActReconnect Action = "reconnect"
	ActAlternate Action = "alternate"
	ActStandby   Action = "standby"
)

type Plan struct {
	Action  Action
	Attempt int
	Max     int
	Reason  Reason
	// Watchdog is zero for the terminal standby plan.
	Watchdog time.Duration
	Gen      uint64
	Deadlock bool
}

// Context is the bookkeeping of one recovery episode.
type Context struct {
	Attempt     int
	LastAttempt time.Time
	InProgress  bool
	Severe      bool
	Reason      Reason
	Ignore      map[string]struct{}
	Gen         uint64
}

type Config struct {
	Cooldown    time.Duration
	Horizon     time.Duration
	TierTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown:    15 * time.Second,
		Horizon:     120 * time.Second,
		TierTimeout: 60 * time.Second,
	}
}

// Machine decides recovery tiers. It does no I/O and is owned by a single
// goroutine.
type Machine struct {
	cfg Config
	log *zap.Logger
	ctx Context
}

func NewMachine(cfg Config, log *zap.Logger) *Machine {
	return &Machine{
		cfg: cfg,
		log: log.Named("recovery"),
		ctx: Context{Ignore: map[string]struct{}{}},
	}
}

func MaxTiers(severe bool) int {
	if severe {
		return 7
	}
	return 6
}

func (m *Machine) Context() Context {
	c := m.ctx
	c.Ignore = make(map[string]struct{}, len(m.ctx.Ignore))
	for k := range m.ctx.Ignore {
		c.Ignore[k] = struct{}{}
	}
	return c
}

func (m *Machine) InProgress() bool { return m.ctx.InProgress }
func (m *Machine) Attempt() int     { return m.ctx.Attempt }

// Gen identifies the live tier. Work started for any other generation is
// stale.
func (m *Machine) Gen() uint64 { return m.ctx.Gen }

// Recover is the entry point for every failure signal.
func (m *Machine) Recover(reason Reason, now time.Time) (Plan, error) {
	critical := reason.Critical()
	since := now.Sub(m.ctx.LastAttempt)

	if m.ctx.InProgress {
		if since >= m.cfg.Horizon {
			return m.deadlock(), nil
		}
		if !critical {
			return Plan{}, ErrInProgress
		}
	} else if !critical && !m.ctx.LastAttempt.IsZero() && since < m.cfg.Cooldown {
		return Plan{}, ErrCoolingDown
	}

	if reason.Severe() {
		m.ctx.Severe = true
	}
	m.ctx.Reason = reason
	return m.advance(now), nil
}

// Expire handles a tier watchdog. A watchdog armed for an older tier is
// stale and ignored.
func (m *Machine) Expire(gen uint64, now time.Time) (Plan, bool) {
	if !m.ctx.InProgress || gen != m.ctx.Gen {
		return Plan{}, false
	}
	if now.Sub(m.ctx.LastAttempt) >= m.cfg.Horizon {
		return m.deadlock(), true
	}
	m.log.Info("tier watchdog expired", zap.Int("attempt", m.ctx.Attempt))
	return m.advance(now), true
}

// Skip advances past a tier that cannot run, such as a reconnect without a
// known address.
func (m *Machine) Skip(now time.Time) Plan {
	if !m.ctx.InProgress {
		m.ctx.Reason = Reason{Kind: KindManual, Detail: "skip"}
	}
	return m.advance(now)
}

// Confirm ends the episode after a successful resume or connect. Only the
// first call after a failure reports true.
func (m *Machine) Confirm() bool {
	if !m.ctx.InProgress && m.ctx.Attempt == 0 {
		return false
	}
	m.log.Info("recovery confirmed", zap.Int("attempt", m.ctx.Attempt))
	m.reset()
	return true
}

// Abandon ends a running episode without a successful connect, for example
// when an operator moves the bot elsewhere.
func (m *Machine) Abandon() {
	if m.ctx.InProgress {
		m.reset()
	}
}

// CheckDeadlock forces standby once when an episode has been stuck past the
// horizon.
func (m *Machine) CheckDeadlock(now time.Time) (Plan, bool) {
	if !m.ctx.InProgress || now.Sub(m.ctx.LastAttempt) < m.cfg.Horizon {
		return Plan{}, false
	}
	return m.deadlock(), true
}

func (m *Machine) IgnoreAdd(addr string) {
	if addr != "" {
		m.ctx.Ignore[addr] = struct{}{}
	}
}

func (m *Machine) IgnoreClear() { clear(m.ctx.Ignore) }

func (m *Machine) Ignored() []string {
	out := make([]string, 0, len(m.ctx.Ignore))
	for k := range m.ctx.Ignore {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (m *Machine) advance(now time.Time) Plan {
	m.ctx.Attempt++
	m.ctx.LastAttempt = now
	m.ctx.InProgress = true
	m.ctx.Gen++

	limit := MaxTiers(m.ctx.Severe)
	p := Plan{
		Attempt:  m.ctx.Attempt,
		Max:      limit,
		Reason:   m.ctx.Reason,
		Gen:      m.ctx.Gen,
		Watchdog: m.cfg.TierTimeout,
	}
	switch {
	case m.ctx.Attempt == 1:
		p.Action = ActResume
	case m.ctx.Attempt <= limit-2:
		p.Action = ActReconnect
	case m.ctx.Attempt == limit-1:
		p.Action = ActAlternate
	default:
		p.Action = ActStandby
		p.Attempt = limit
		p.Watchdog = 0
		m.reset()
		m.IgnoreClear()
	}
	m.log.Info("recovery tier",
		zap.String("action", string(p.Action)),
		zap.Int("attempt", p.Attempt),
		zap.Int("max", p.Max),
		zap.Stringer("reason", p.Reason),
	)
	return p
}

func (m *Machine) deadlock() Plan {
	m.log.Warn("recovery deadlock, forcing standby",
		zap.Int("attempt", m.ctx.Attempt),
		zap.Time("last_attempt", m.ctx.LastAttempt),
	)
	p := Plan{
		Action:   ActStandby,
		Attempt:  m.ctx.Attempt,
		Max:      MaxTiers(m.ctx.Severe),
		Reason:   m.ctx.Reason,
		Deadlock: true,
	}
	m.reset()
	m.IgnoreClear()
	return p
}

// reset keeps LastAttempt so the cooldown still applies to the next signal.
func (m *Machine) reset() {
	m.ctx.Attempt = 0
	m.ctx.InProgress = false
	m.ctx.Severe = false
	m.ctx.Gen++
}
