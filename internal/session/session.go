package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/directory"
	"github.com/DoyleJ11/defrag-spectator/internal/engine"
	"github.com/DoyleJ11/defrag-spectator/internal/gameclient"
	"github.com/DoyleJ11/defrag-spectator/internal/journal"
	"github.com/DoyleJ11/defrag-spectator/internal/recovery"
	"github.com/DoyleJ11/defrag-spectator/internal/report"
	"github.com/DoyleJ11/defrag-spectator/internal/state"
	"github.com/DoyleJ11/defrag-spectator/internal/vote"
	"github.com/DoyleJ11/defrag-spectator/pkg/types"
)

var ErrNotActive = errors.New("session is not active")
var ErrNoVote = errors.New("no vote in progress")
var ErrDuplicateVote = errors.New("voter already counted")
var ErrClosed = errors.New("session closed")

// ReportSource yields the newest server report, or report.ErrStale when
// nothing new was written since the last call.
type ReportSource interface {
	Latest() (*report.Report, error)
}

// Sink receives operator and viewer visible notices. Publish must not block.
type Sink interface {
	Publish(types.Notice)
}

type Config struct {
	Tick              time.Duration
	AFKTimeout        int
	IdleTimeout       int
	InitTimeout       int
	AFKFlagTTL        time.Duration
	AFKExtend         int
	ReportSettle      time.Duration
	NoticeDelay       time.Duration
	TeamCheckInterval time.Duration
	PauseTimeout      time.Duration
	ConnectTimeout    time.Duration
	StandbyDuration   time.Duration
	StandbyInterval   time.Duration
	VoteWindow        time.Duration
	VoteAliases       []string
	ReconnectSettle   time.Duration
	AlternatePause    time.Duration
	Recovery          recovery.Config
	Store             state.Options
}

func DefaultConfig() Config {
	return Config{
		Tick:              2 * time.Second,
		AFKTimeout:        30,
		IdleTimeout:       5,
		InitTimeout:       10,
		AFKFlagTTL:        10 * time.Minute,
		AFKExtend:         60,
		ReportSettle:      500 * time.Millisecond,
		NoticeDelay:       3 * time.Second,
		TeamCheckInterval: 30 * time.Second,
		PauseTimeout:      60 * time.Second,
		ConnectTimeout:    90 * time.Second,
		StandbyDuration:   15 * time.Minute,
		StandbyInterval:   3 * time.Second,
		VoteWindow:        10 * time.Second,
		VoteAliases:       vote.DefaultAliases,
		ReconnectSettle:   3 * time.Second,
		AlternatePause:    2 * time.Second,
		Recovery:          recovery.DefaultConfig(),
		Store:             state.DefaultOptions(),
	}
}

type Deps struct {
	Clock     clockwork.Clock
	Log       *zap.Logger
	Game      gameclient.Commander
	Reports   ReportSource
	Directory directory.Directory
	Sink      Sink
	Journal   journal.Journal
	// Picker chooses among replacement targets. Defaults to uniform random.
	Picker engine.Picker
}

// Session owns every piece of mutable spectator state. All of it is touched
// only from loop; other goroutines talk to it through the inbox.
type Session struct {
	inbox chan Msg
	ctx   context.Context
	stop  context.CancelFunc
	done  chan struct{}

	cfg   Config
	clock clockwork.Clock
	log   *zap.Logger
	game  gameclient.Commander
	src   ReportSource
	dir   directory.Directory
	sink  Sink
	jrnl  journal.Journal
	pick  engine.Picker

	id     uuid.UUID
	store  *state.Store
	sel    engine.Session
	policy engine.Policy
	tally  vote.Tally
	voter  *vote.Classifier
	rec    *recovery.Machine
	exec   *recovery.Executor

	phase      recovery.Phase
	addr       string
	connectMsg string
	// epoch changes on every connect or standby entry. Async lookups
	// started under an older epoch are discarded.
	epoch      uint64
	initTries  int
	tierGen    uint64
	// tierCancel stops the executor goroutine of the running tier.
	tierCancel context.CancelFunc
	standbyAlt bool
	follow     pendingFollow

	timers  map[timerKind]*timerSlot
	clients map[string]chan Snapshot
	version int
	dirty   bool
}

type pendingFollow struct {
	id  int
	dfn string
}

func New(parent context.Context, cfg Config, deps Deps) *Session {
	ctx, cancel := context.WithCancel(parent)
	if deps.Picker == nil {
		deps.Picker = engine.RandomPicker
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	log := deps.Log.Named("session")

	s := &Session{
		inbox:  make(chan Msg, 64),
		ctx:    ctx,
		stop:   cancel,
		done:   make(chan struct{}),
		cfg:    cfg,
		clock:  deps.Clock,
		log:    log,
		game:   deps.Game,
		src:    deps.Reports,
		dir:    deps.Directory,
		sink:   deps.Sink,
		jrnl:   deps.Journal,
		pick:   deps.Picker,
		id:     uuid.New(),
		store:  state.NewStore(deps.Clock, deps.Log, cfg.Store),
		policy: engine.Policy{
			AFKTimeout:      cfg.AFKTimeout,
			IdleTimeout:     cfg.IdleTimeout,
			Tick:            cfg.Tick,
			WarnFrom:        10,
			WarnEvery:       5,
			AbortNoticeFrom: 15,
		},
		voter:   vote.NewClassifier(cfg.VoteAliases),
		rec:     recovery.NewMachine(cfg.Recovery, deps.Log),
		exec:    recovery.NewExecutor(deps.Game, deps.Directory, deps.Clock, deps.Log),
		phase:   recovery.PhaseIdle,
		follow:  pendingFollow{id: state.NoBot},
		timers:  make(map[timerKind]*timerSlot),
		clients: make(map[string]chan Snapshot),
	}
	s.exec.Settle = cfg.ReconnectSettle
	s.exec.Pause = cfg.AlternatePause
	s.sel = engine.NewSession(state.NoBot)
	s.store.OnChange(func(*state.Snapshot) { s.dirty = true })

	go s.loop()
	return s
}

// Inbox exposes the inbox so the console tail and the HTTP layer can send
// messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) ID() uuid.UUID { return s.id }

// Store is safe for concurrent reads.
func (s *Session) Store() *state.Store { return s.store }

// Send posts m unless the session has stopped.
func (s *Session) Send(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	s.arm(timerTick, s.cfg.Tick)

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			if _, ok := m.(Shutdown); ok {
				s.shutdown()
				return
			}
			s.handle(m)
			if s.dirty {
				s.broadcast()
			}
		}
	}
}

// handle dispatches one message. A panic in a collaborator degrades the
// session to standby instead of killing the process.
func (s *Session) handle(m Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session handler panic", zap.Any("panic", r), zap.String("msg", fmt.Sprintf("%T", m)))
			s.enterStandby(s.clock.Now(), "internal error")
		}
	}()

	now := s.clock.Now()
	if plan, ok := s.rec.CheckDeadlock(now); ok {
		s.notify("recovery", "^1Recovery stuck. ^7Forcing standby.")
		s.runPlan(plan, now)
	}

	switch msg := m.(type) {
	case Join:
		// Register client + send current snapshot immediately
		s.clients[msg.ClientID] = msg.Outbox
		msg.Outbox <- Snapshot{Version: s.version, State: s.projection(now)}

	case Leave:
		delete(s.clients, msg.ClientID)

	case GetState:
		msg.Reply <- s.view(now)

	case Connect:
		reply(msg.Reply, s.onConnect(msg, now))

	case Restart:
		s.rec.IgnoreClear()
		s.lookup(lookupPopular)
		reply(msg.Reply, nil)

	case Next:
		reply(msg.Reply, s.command(engine.Command{Type: engine.CmdNext}, now))

	case Prev:
		reply(msg.Reply, s.command(engine.Command{Type: engine.CmdPrev}, now))

	case Spectate:
		reply(msg.Reply, s.command(engine.Command{Type: engine.CmdSpectate, PlayerID: msg.ID}, now))

	case AFKControl:
		reply(msg.Reply, s.afkControl(msg.Action, now))

	case VoteCast:
		reply(msg.Reply, s.castVote(msg.Voter, msg.Yes))

	case Console:
		s.onConsole(msg.Event, now)

	case timerFired:
		if s.current(msg) {
			s.onTimer(msg.kind, now)
		}

	case tierDone:
		s.onTierDone(msg.res, now)

	case dirResult:
		s.onLookup(msg, now)
	}
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (s *Session) shutdown() {
	s.stopTimers()
	s.stopTier()
	for id, ch := range s.clients {
		close(ch) // Tell client no more snapshots
		delete(s.clients, id)
	}
	s.stop()
}

func (s *Session) projection(now time.Time) types.ServerState {
	return s.store.Projection(state.Meta{
		SessionID: s.id.String(),
		Target:    s.sel.Target,
		Phase:     string(s.phase),
		Attempt:   s.rec.Attempt(),
		At:        now,
	})
}

func (s *Session) view(now time.Time) View {
	return View{
		Version:    s.version,
		NumClients: len(s.clients),
		Phase:      s.phase,
		Target:     s.sel.Target,
		Attempt:    s.rec.Attempt(),
		Ignored:    s.rec.Ignored(),
		Voting:     s.tally.Active(),
		State:      s.projection(now),
	}
}

func (s *Session) broadcast() {
	s.dirty = false
	s.version++
	snap := Snapshot{Version: s.version, State: s.projection(s.clock.Now())}
	for id, ch := range s.clients {
		select {
		case ch <- snap:
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Session) setPhase(p recovery.Phase) {
	if s.phase == p {
		return
	}
	s.log.Info("phase", zap.String("from", string(s.phase)), zap.String("to", string(p)))
	s.phase = p
	s.dirty = true
}
