package session

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/engine"
	"github.com/DoyleJ11/defrag-spectator/internal/journal"
	"github.com/DoyleJ11/defrag-spectator/internal/recovery"
	"github.com/DoyleJ11/defrag-spectator/internal/report"
	"github.com/DoyleJ11/defrag-spectator/internal/state"
)

func (s *Session) requestReport() {
	s.game.SendCommand(ReportCommand)
	s.arm(timerSettle, s.cfg.ReportSettle)
}

func (s *Session) sendInit() {
	s.game.SendCommand(fmt.Sprintf(initCommand, s.store.Secret()))
	s.arm(timerSettle, s.cfg.ReportSettle)
}

func (s *Session) onTick(now time.Time) {
	s.arm(timerTick, s.cfg.Tick)

	switch s.phase {
	case recovery.PhaseActive:
		if !s.armed(timerSettle) {
			s.requestReport()
		}
	case recovery.PhaseInitializing:
		s.initTries++
		if s.initTries > s.cfg.InitTimeout {
			s.log.Warn("bot never identified itself", zap.String("addr", s.addr), zap.Int("tries", s.initTries))
			s.connectNext(now, "initialization timed out")
			return
		}
		s.sendInit()
	}
}

// onSettle reads the report the last request produced. Unreadable or stale
// reports are skipped; the next tick asks again.
func (s *Session) onSettle(now time.Time) {
	rep, err := s.src.Latest()
	if errors.Is(err, report.ErrStale) {
		return
	}
	if err != nil {
		s.log.Debug("report unreadable", zap.Error(err))
		return
	}
	snap, err := state.FromReport(rep)
	if err != nil {
		s.log.Debug("report incomplete", zap.Error(err))
		return
	}

	applied, err := s.store.Update(snap)
	if errors.Is(err, state.ErrSuspectRead) {
		s.requestReport()
		return
	}
	if err != nil {
		s.log.Debug("snapshot rejected", zap.Error(err))
		return
	}

	switch s.phase {
	case recovery.PhaseInitializing, recovery.PhaseRecovering:
		if applied.BotFound {
			s.becomeActive(now)
		}
	case recovery.PhaseActive:
		s.refresh(now)
	}
}

// refresh is one selector cycle against an accepted snapshot.
func (s *Session) refresh(now time.Time) {
	s.confirmFollow(now)

	for _, p := range s.store.ExpireAFK(now, s.cfg.AFKFlagTTL) {
		s.say(fmt.Sprintf(afkCleared, p.Name))
		s.notify(NoticeAFK, fmt.Sprintf(afkCleared, p.Name))
	}

	events, next := engine.Validate(s.sel, s.store, s.policy, s.pick)
	if next.Target != s.sel.Target {
		s.dirty = true
	}
	s.sel = next
	s.apply(events, now)

	if s.tally.Due(now) {
		s.closeVote()
	}
}

// confirmFollow checks the follow sent after the previous snapshot. The
// client shows the followed player's DFN once the follow took.
func (s *Session) confirmFollow(now time.Time) {
	f := s.follow
	if f.id == state.NoBot {
		return
	}
	s.follow = pendingFollow{id: state.NoBot}

	p, ok := s.store.Player(f.id)
	if !ok {
		return
	}
	dfn := p.DFN
	if dfn == "" {
		dfn = f.dfn
	}
	if dfn != "" && s.store.CurrentDFN() == dfn {
		s.store.ClearFollowFailure(f.id)
		return
	}
	if s.store.RecordFollowFailure(f.id, now) {
		s.log.Warn("follow keeps failing, excluding player", zap.Int("id", f.id), zap.String("name", p.Name))
		return
	}
	s.log.Debug("follow not confirmed", zap.Int("id", f.id))
}

func (s *Session) apply(events []engine.Event, now time.Time) {
	bot := s.store.BotID()
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtFollow, engine.EvtFollowSelf:
			s.followPlayer(ev.PlayerID, bot)

		case engine.EvtFlagAFK:
			if !s.store.FlagAFK(ev.PlayerID, now) {
				continue
			}
			msg := fmt.Sprintf(afkFlagged, s.playerName(ev.PlayerID), minutes(s.cfg.AFKFlagTTL))
			s.say(msg)
			s.notify(NoticeAFK, msg)
			s.record(journal.KindAFK, 0, msg)

		case engine.EvtClearAFK:
			s.store.ClearAFK(ev.PlayerID)

		case engine.EvtClearFailure:
			s.store.ClearFollowFailure(ev.PlayerID)

		case engine.EvtUnspectatable:
			if ev.Reason == engine.CondNospec {
				if p, ok := s.store.Player(ev.PlayerID); ok && !p.NoPM() {
					s.game.SendCommand(fmt.Sprintf(nospecTell, ev.PlayerID))
				}
			}

		case engine.EvtIdleStrike:
			msg := fmt.Sprintf(idleStrike, ev.Strikes, ev.Limit)
			s.display(msg, 1)
			s.notify(NoticeIdle, msg)
			s.record(journal.KindIdle, ev.Strikes, msg)

		case engine.EvtAFKWarning:
			secs := int(ev.Remaining / time.Second)
			s.display(fmt.Sprintf(afkWarning, s.playerName(ev.PlayerID), secs), 1)

		case engine.EvtActivityResumed:
			s.display(afkAborted, 1)

		case engine.EvtTimeoutExtended:
			s.notify(NoticeAFK, fmt.Sprintf("AFK timeout for %s extended by %d strikes", s.playerName(ev.PlayerID), ev.Strikes))

		case engine.EvtServerExhausted:
			s.exhausted(ev, now)
			return
		}
	}
}

func (s *Session) followPlayer(id, bot int) {
	s.game.SendCommand(fmt.Sprintf("follow %d", id))
	s.dirty = true
	if id == bot {
		s.follow = pendingFollow{id: state.NoBot}
		return
	}
	p, _ := s.store.Player(id)
	s.follow = pendingFollow{id: id, dfn: p.DFN}
	s.record(journal.KindFollow, 0, p.Name)
}

// exhausted says goodbye and moves to the next populated server.
func (s *Session) exhausted(ev engine.Event, now time.Time) {
	players := s.store.Players()
	lines := engine.Farewell(s.store, s.store.AFKFlagged(), s.store.Nospec(), s.store.FreeSpectators(), len(players))
	for _, line := range lines {
		s.say(line)
	}
	detail := fmt.Sprintf("server exhausted (%s, %d idle strikes)", reasonOrIdle(ev.Reason), ev.Strikes)
	s.notify(NoticeExhausted, detail)
	s.record(journal.KindExhausted, ev.Strikes, detail)
	s.connectNext(now, detail)
}

func reasonOrIdle(c engine.Condition) string {
	if c == engine.CondNone {
		return "idle"
	}
	return string(c)
}
