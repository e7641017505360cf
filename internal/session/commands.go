package session

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/console"
	"github.com/DoyleJ11/defrag-spectator/internal/engine"
	"github.com/DoyleJ11/defrag-spectator/internal/journal"
	"github.com/DoyleJ11/defrag-spectator/internal/recovery"
	"github.com/DoyleJ11/defrag-spectator/internal/state"
	"github.com/DoyleJ11/defrag-spectator/internal/vote"
)

var ErrUnknownAction = errors.New("unknown afk action")

func (s *Session) command(cmd engine.Command, now time.Time) error {
	if s.phase != recovery.PhaseActive {
		return ErrNotActive
	}
	events, next, err := engine.Apply(s.sel, s.store, cmd)
	if err != nil {
		return err
	}
	s.sel = next
	s.apply(events, now)
	s.dirty = true
	return nil
}

func (s *Session) afkControl(action AFKAction, now time.Time) error {
	switch action {
	case AFKReset:
		return s.command(engine.Command{Type: engine.CmdAFKReset}, now)
	case AFKExtend:
		return s.command(engine.Command{Type: engine.CmdAFKExtend, Strikes: s.cfg.AFKExtend}, now)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// onVote reacts to a vote called on the server. Kick votes against the bot
// are refused outright; on a two player server the bot agrees with whoever
// called it.
func (s *Session) onVote(content string, now time.Time) {
	if s.phase != recovery.PhaseActive {
		return
	}
	bot, _ := s.store.Bot()
	decision := s.voter.Classify(content, bot.Name, len(s.store.Players()))
	s.log.Info("vote called", zap.String("content", state.StripColors(content)), zap.String("decision", string(decision)))

	switch decision {
	case vote.DecisionReject:
		s.game.SendCommand("vote no")
		s.say(vote.RejectMessage)
		s.notify(NoticeVote, vote.RejectMessage)
	case vote.DecisionApprove:
		s.game.SendCommand("vote yes")
		s.say(vote.ApproveMessage)
		s.notify(NoticeVote, vote.ApproveMessage)
	case vote.DecisionTally:
		s.tally.Open(now, s.cfg.VoteWindow)
		s.arm(timerVote, s.cfg.VoteWindow)
		s.say(vote.PromptMessage)
		s.notify(NoticeVote, vote.PromptMessage)
	}
	s.record(journal.KindVote, 0, string(decision)+": "+content)
}

func (s *Session) castVote(voter string, yes bool) error {
	if !s.tally.Active() {
		return ErrNoVote
	}
	if !s.tally.Cast(voter, yes) {
		return ErrDuplicateVote
	}
	return nil
}

func (s *Session) closeVote() {
	s.cancel(timerVote)
	out := s.tally.Close()
	for _, cmd := range out.Commands() {
		s.game.SendCommand(cmd)
	}
	s.say(out.Message())
	s.notify(NoticeVote, out.Message())
	s.record(journal.KindVote, 0, out.Message())
}

// onChat turns in-game ?f1 / ?f2 replies into votes while a tally is open.
func (s *Session) onChat(ev console.Event) {
	yes, ok := chatVote(ev.Content)
	if !ok || !s.tally.Active() {
		return
	}
	voter := "ingame:" + vote.Normalize(ev.Author)
	if err := s.castVote(voter, yes); err != nil {
		s.log.Debug("chat vote ignored", zap.String("voter", voter), zap.Error(err))
	}
}
