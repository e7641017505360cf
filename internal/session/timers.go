package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

type timerKind int

const (
	timerTick timerKind = iota
	timerSettle
	timerVote
	timerTier
	timerConnect
	timerPause
	timerTeamCheck
	timerStandbyMsg
	timerStandbyScan
	timerNotice
)

func (k timerKind) String() string {
	switch k {
	case timerTick:
		return "tick"
	case timerSettle:
		return "settle"
	case timerVote:
		return "vote"
	case timerTier:
		return "tier"
	case timerConnect:
		return "connect"
	case timerPause:
		return "pause"
	case timerTeamCheck:
		return "team_check"
	case timerStandbyMsg:
		return "standby_msg"
	case timerStandbyScan:
		return "standby_scan"
	case timerNotice:
		return "notice"
	}
	return "unknown"
}

type timerSlot struct {
	gen   uint64
	timer clockwork.Timer
}

// arm (re)starts a timer. The fire is posted to the inbox and checked
// against the slot generation, so a fire that raced a re-arm or cancel is
// dropped.
func (s *Session) arm(kind timerKind, d time.Duration) {
	slot := s.timers[kind]
	if slot == nil {
		slot = &timerSlot{}
		s.timers[kind] = slot
	}
	if slot.timer != nil {
		slot.timer.Stop()
	}
	slot.gen++
	gen := slot.gen
	slot.timer = s.clock.AfterFunc(d, func() {
		s.post(timerFired{kind: kind, gen: gen})
	})
}

func (s *Session) cancel(kinds ...timerKind) {
	for _, kind := range kinds {
		slot := s.timers[kind]
		if slot == nil {
			continue
		}
		if slot.timer != nil {
			slot.timer.Stop()
			slot.timer = nil
		}
		slot.gen++
	}
}

func (s *Session) armed(kind timerKind) bool {
	slot := s.timers[kind]
	return slot != nil && slot.timer != nil
}

// current reports whether a fire belongs to the live arming of its slot and
// marks the slot idle.
func (s *Session) current(f timerFired) bool {
	slot := s.timers[f.kind]
	if slot == nil || slot.gen != f.gen {
		return false
	}
	slot.timer = nil
	return true
}

func (s *Session) stopTimers() {
	for kind := range s.timers {
		s.cancel(kind)
	}
}
