package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/journal"
	"github.com/DoyleJ11/defrag-spectator/internal/state"
	"github.com/DoyleJ11/defrag-spectator/pkg/types"
)

// In-game text. Colour escapes are part of the wire format.
const (
	ReportCommand = "varmath color2 = $chsinfo(152);silent svinfo_report serverstate.txt"
	initCommand   = "seta color1 %s;silent svinfo_report serverstate.txt"

	switchingMessage = "^7Switching servers. ^3Farewell."
	connectMessage   = "^7Brought by ^3%s"
	afkFlagged       = "^1%s ^7flagged as AFK - ignoring for %d minutes."
	afkCleared       = "^2%s ^7AFK flag cleared - now spectatable again."
	afkWarning       = "%s^7 AFK detected. Switching in %d seconds."
	afkAborted       = "Activity detected. ^3AFK counter aborted."
	idleStrike       = "^3Strike %d/%d"
	nospecTell       = "tell %d ^7nospec active, ^3defraglive ^7cant spectate."
	standbyFirst     = "^3No active servers. On standby mode."
	standbySecond    = "Use ^3?^7connect ^3ip^7 or ^3?^7restart to continue the bot^3."
)

// Notice kinds published to the sink.
const (
	NoticeConnect   = "connect"
	NoticeRecovery  = "recovery"
	NoticeStandby   = "standby"
	NoticeAFK       = "afk"
	NoticeIdle      = "idle"
	NoticeVote      = "vote"
	NoticeExhausted = "exhausted"
	NoticeFollow    = "follow"
)

func (s *Session) say(msg string) {
	s.game.SendCommand("say " + msg)
}

func (s *Session) display(msg string, secs int) {
	s.game.SendCommand(fmt.Sprintf("cg_centertime %d;displaymessage 140 10 %s", secs, msg))
}

func (s *Session) notify(kind, msg string) {
	s.log.Info("notice", zap.String("kind", kind), zap.String("message", state.StripColors(msg)))
	if s.sink == nil {
		return
	}
	s.sink.Publish(types.Notice{Kind: kind, Message: msg, At: s.clock.Now().Unix()})
}

func (s *Session) record(kind journal.Kind, attempt int, detail string) {
	err := s.jrnl.Record(s.ctx, journal.Entry{
		SessionID: s.id,
		Kind:      kind,
		Address:   s.addr,
		Attempt:   attempt,
		Detail:    state.StripColors(detail),
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.log.Debug("journal record failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *Session) playerName(id int) string {
	if p, ok := s.store.Player(id); ok {
		return p.Name
	}
	return fmt.Sprintf("ID%d", id)
}

func minutes(d time.Duration) int { return int(d / time.Minute) }
