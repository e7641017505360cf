package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/console"
	"github.com/DoyleJ11/defrag-spectator/internal/directory"
	"github.com/DoyleJ11/defrag-spectator/internal/engine"
	"github.com/DoyleJ11/defrag-spectator/internal/journal"
	"github.com/DoyleJ11/defrag-spectator/internal/recovery"
	"github.com/DoyleJ11/defrag-spectator/internal/state"
	"github.com/DoyleJ11/defrag-spectator/internal/vote"
)

var ErrEmptyAddress = errors.New("empty server address")

// connectionTimers are cancelled whenever the bot leaves its current server.
var connectionTimers = []timerKind{
	timerSettle, timerVote, timerTier, timerConnect, timerPause,
	timerTeamCheck, timerStandbyMsg, timerStandbyScan, timerNotice,
}

func (s *Session) onConnect(msg Connect, now time.Time) error {
	addr := directory.NormalizeAddr(msg.Addr)
	if addr == "" {
		return ErrEmptyAddress
	}
	s.connect(addr, msg.Caller, now)
	return nil
}

// connect leaves whatever the bot was doing and joins addr. Anything armed
// for the previous server is cancelled.
func (s *Session) connect(addr, caller string, now time.Time) {
	s.epoch++
	s.cancel(connectionTimers...)
	s.stopTier()
	s.rec.Abandon()
	s.tally = vote.Tally{}
	s.sel = engine.NewSession(state.NoBot)
	s.follow = pendingFollow{id: state.NoBot}
	s.store.ClearAllAFK()
	s.initTries = 0
	s.connectMsg = ""

	if caller != "" {
		s.rec.IgnoreClear()
		s.connectMsg = fmt.Sprintf(connectMessage, caller)
		if s.phase == recovery.PhaseActive {
			s.say(switchingMessage)
		}
	}

	s.addr = addr
	s.setPhase(recovery.PhaseConnecting)
	s.arm(timerConnect, s.cfg.ConnectTimeout)
	s.game.SendCommand("connect " + addr)

	s.notify(NoticeConnect, "Connecting to "+addr)
	s.record(journal.KindConnect, 0, caller)
}

// connectNext marks the current server as used up and asks the directory
// for another one.
func (s *Session) connectNext(now time.Time, reason string) {
	s.log.Info("leaving server", zap.String("addr", s.addr), zap.String("reason", reason))
	s.rec.IgnoreAdd(s.addr)
	s.cancel(connectionTimers...)
	s.setPhase(recovery.PhaseConnecting)
	s.lookup(lookupNext)
}

// lookup queries the directory off the actor goroutine. The answer comes
// back as a dirResult tagged with the current epoch.
func (s *Session) lookup(kind lookup) {
	epoch := s.epoch
	ignore := s.rec.Ignored()
	go func() {
		var addr string
		var err error
		if kind == lookupPopular {
			addr, err = s.dir.MostPopular(s.ctx)
		} else {
			addr, err = s.dir.NextActive(s.ctx, ignore)
		}
		s.post(dirResult{kind: kind, epoch: epoch, addr: addr, err: err})
	}()
}

func (s *Session) onLookup(r dirResult, now time.Time) {
	if r.epoch != s.epoch {
		return
	}
	if r.err != nil && !errors.Is(r.err, context.Canceled) {
		s.log.Warn("directory lookup failed", zap.Error(r.err))
	}
	found := r.err == nil && r.addr != ""

	switch r.kind {
	case lookupStandby:
		if s.phase != recovery.PhaseStandby {
			return
		}
		if found {
			s.connect(r.addr, "", now)
			return
		}
		s.arm(timerStandbyScan, s.cfg.StandbyDuration)
	default:
		if found {
			s.connect(r.addr, "", now)
			return
		}
		s.enterStandby(now, "no active servers")
	}
}

// startInit runs once the client finished loading a freshly joined server.
func (s *Session) startInit(now time.Time) {
	s.cancel(timerConnect)
	s.store.Reset()
	s.store.Rotate()
	s.initTries = 0
	s.setPhase(recovery.PhaseInitializing)
	s.sendInit()
}

func (s *Session) becomeActive(now time.Time) {
	confirmed := s.rec.Confirm()
	s.cancel(timerTier, timerConnect, timerPause)
	s.initTries = 0
	s.setPhase(recovery.PhaseActive)

	s.sel = engine.NewSession(s.store.BotID())
	s.follow = pendingFollow{id: state.NoBot}
	s.game.SendCommand("team s")
	s.arm(timerTeamCheck, s.cfg.TeamCheckInterval)
	s.arm(timerNotice, s.cfg.NoticeDelay)

	if confirmed {
		s.notify(NoticeRecovery, "Recovered on "+s.addr)
		s.record(journal.KindRecovery, 0, "confirmed")
	}
	s.notify(NoticeConnect, "Spectating on "+s.addr)
}

// onNotice sends the greeting lines once the client is settled in. It is
// cancelled by any connect, so lines never leak onto the next server.
func (s *Session) onNotice() {
	if s.phase != recovery.PhaseActive {
		return
	}
	if s.connectMsg != "" {
		s.say(s.connectMsg)
		s.connectMsg = ""
	}
	for _, id := range s.store.Nospec() {
		if p, ok := s.store.Player(id); ok && !p.NoPM() {
			s.game.SendCommand(fmt.Sprintf(nospecTell, id))
		}
	}
}

func (s *Session) onTeamCheck() {
	s.arm(timerTeamCheck, s.cfg.TeamCheckInterval)
	if s.phase != recovery.PhaseActive {
		return
	}
	bot, ok := s.store.Bot()
	if !ok || bot.Spectator() {
		return
	}
	s.log.Warn("bot left the spectator team", zap.String("team", bot.Team))
	s.game.SendCommand("team s")
	s.sel = engine.NewSession(bot.ID)
	s.rec.IgnoreClear()
}

func (s *Session) enterStandby(now time.Time, reason string) {
	s.epoch++
	s.cancel(connectionTimers...)
	s.stopTier()
	s.rec.Abandon()
	s.rec.IgnoreClear()
	s.tally = vote.Tally{}
	s.sel = engine.NewSession(state.NoBot)
	s.follow = pendingFollow{id: state.NoBot}
	s.store.Reset()
	s.addr = ""
	s.connectMsg = ""
	s.standbyAlt = false

	s.setPhase(recovery.PhaseStandby)
	s.game.SendCommand(recovery.StandbyCommand)
	s.arm(timerStandbyMsg, s.cfg.StandbyInterval)
	s.arm(timerStandbyScan, s.cfg.StandbyDuration)

	s.notify(NoticeStandby, "Standby: "+reason)
	s.record(journal.KindStandby, 0, reason)
}

func (s *Session) onStandbyMsg() {
	if s.phase != recovery.PhaseStandby {
		return
	}
	if !s.standbyAlt {
		s.game.SendCommand("team p")
		s.display(standbyFirst, 2)
	} else {
		s.display(standbySecond, 2)
	}
	s.standbyAlt = !s.standbyAlt
	s.arm(timerStandbyMsg, s.cfg.StandbyInterval)
}

func (s *Session) recover(reason recovery.Reason, now time.Time) {
	plan, err := s.rec.Recover(reason, now)
	if err != nil {
		s.log.Debug("recovery signal ignored", zap.Stringer("reason", reason), zap.Error(err))
		return
	}
	s.runPlan(plan, now)
}

// runPlan executes one tier. Only the standby tier runs inline; the rest
// block on settle delays and run in their own goroutine.
func (s *Session) runPlan(plan recovery.Plan, now time.Time) {
	msg := fmt.Sprintf("Recovery %d/%d: %s (%s)", plan.Attempt, plan.Max, plan.Action, plan.Reason)
	if plan.Deadlock {
		msg += " after deadlock"
	}
	s.notify(NoticeRecovery, msg)
	s.record(journal.KindRecovery, plan.Attempt, msg)
	s.stopTier()

	if plan.Action == recovery.ActStandby {
		s.enterStandby(now, plan.Reason.String())
		return
	}

	s.cancel(timerSettle, timerConnect, timerPause, timerTeamCheck, timerNotice)
	s.setPhase(recovery.PhaseRecovering)
	s.tierGen = plan.Gen
	s.arm(timerTier, plan.Watchdog)
	if plan.Action == recovery.ActAlternate {
		s.rec.IgnoreAdd(s.addr)
	}

	job := recovery.Job{Plan: plan, Current: s.addr, Ignore: s.rec.Ignored()}
	ctx, cancel := context.WithCancel(s.ctx)
	s.tierCancel = cancel
	go func() {
		s.post(tierDone{res: s.exec.Run(ctx, job)})
	}()
}

// stopTier cancels the executor of a superseded tier so it cannot send
// anything more to the game.
func (s *Session) stopTier() {
	if s.tierCancel != nil {
		s.tierCancel()
		s.tierCancel = nil
	}
}

func (s *Session) onTierDone(res recovery.Result, now time.Time) {
	if !s.rec.InProgress() || res.Plan.Gen != s.rec.Gen() {
		return
	}
	if res.Skipped() {
		if errors.Is(res.Err, context.Canceled) {
			return
		}
		s.log.Info("recovery tier skipped", zap.String("action", string(res.Plan.Action)), zap.Error(res.Err))
		s.runPlan(s.rec.Skip(now), now)
		return
	}

	switch res.Plan.Action {
	case recovery.ActResume:
		s.arm(timerSettle, s.cfg.ReportSettle)
	case recovery.ActReconnect, recovery.ActAlternate:
		s.addr = res.Addr
		s.setPhase(recovery.PhaseConnecting)
	}
}

func (s *Session) onConsole(ev console.Event, now time.Time) {
	switch ev.Kind {
	case console.KindError:
		if s.phase == recovery.PhaseIdle || s.phase == recovery.PhaseStandby {
			return
		}
		if ev.Action == console.ActionDifferentIP {
			s.connectNext(now, ev.Line)
			return
		}
		kind := recovery.Kind(ev.Failure)
		if kind == "" {
			kind = recovery.KindProtocol
		}
		s.recover(recovery.Reason{Kind: kind, Detail: ev.Line}, now)

	case console.KindPaused:
		if s.phase == recovery.PhaseActive || s.phase == recovery.PhaseInitializing {
			s.cancel(timerSettle)
			s.setPhase(recovery.PhaseLoading)
			s.arm(timerPause, s.cfg.PauseTimeout)
		}

	case console.KindLoadComplete:
		switch s.phase {
		case recovery.PhaseConnecting:
			s.startInit(now)
		case recovery.PhaseLoading:
			s.cancel(timerPause)
			if s.store.BotID() == state.NoBot {
				s.startInit(now)
				return
			}
			s.setPhase(recovery.PhaseActive)
		}

	case console.KindReinit:
		if s.phase == recovery.PhaseActive {
			s.game.SendCommand(recovery.ResumeCommand)
		}

	case console.KindVote:
		s.onVote(ev.Content, now)

	case console.KindMapFailed:
		if s.phase != recovery.PhaseStandby {
			s.recover(recovery.Reason{Kind: recovery.KindMapLoad, Detail: ev.Line}, now)
		}

	case console.KindEntered, console.KindLeft:
		if s.phase == recovery.PhaseActive && !s.armed(timerSettle) {
			s.requestReport()
		}

	case console.KindChat:
		s.onChat(ev)
	}
}

func (s *Session) onTimer(kind timerKind, now time.Time) {
	switch kind {
	case timerTick:
		s.onTick(now)
	case timerSettle:
		s.onSettle(now)
	case timerVote:
		if s.tally.Active() {
			s.closeVote()
		}
	case timerTier:
		if plan, ok := s.rec.Expire(s.tierGen, now); ok {
			s.runPlan(plan, now)
		}
	case timerConnect:
		if s.phase == recovery.PhaseConnecting {
			s.recover(recovery.Reason{Kind: recovery.KindConnectTimeout, Detail: s.addr}, now)
		}
	case timerPause:
		if s.phase == recovery.PhaseLoading {
			s.recover(recovery.Reason{Kind: recovery.KindPauseTimeout}, now)
		}
	case timerTeamCheck:
		s.onTeamCheck()
	case timerStandbyMsg:
		s.onStandbyMsg()
	case timerStandbyScan:
		if s.phase == recovery.PhaseStandby {
			s.lookup(lookupStandby)
		}
	case timerNotice:
		s.onNotice()
	}
}

// chatVote accepts only the "?f1" / "?f2" chat commands.
func chatVote(content string) (yes, ok bool) {
	c := strings.TrimSpace(state.StripColors(content))
	if !strings.HasPrefix(c, "?") {
		return false, false
	}
	return vote.ParseChoice(c)
}
