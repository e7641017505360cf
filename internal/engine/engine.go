package engine

import (
	"errors"
	"slices"
	"time"

	"github.com/DoyleJ11/defrag-spectator/internal/state"
)

var ErrNoTargets = errors.New("no players available to spectate")
var ErrNoOtherTargets = errors.New("no other players to spectate")
var ErrTargetUnavailable = errors.New("player is not available for spectating")
var ErrUnsupportedCommand = errors.New("unsupported command")

// Condition is why the current target has to be replaced.
type Condition string

const (
	CondNone   Condition = ""
	CondSelf   Condition = "self"
	CondNospec Condition = "nospec"
	CondAFK    Condition = "afk"
)

// Session is the selector's own state between refreshes.
type Session struct {
	Target      int
	IdleStrikes int
	AFKStrikes  int
	// Overrides holds extra AFK strikes granted to a player. An entry lives
	// only while that player is the target.
	Overrides map[int]int
}

type Policy struct {
	AFKTimeout      int
	IdleTimeout     int
	Tick            time.Duration
	WarnFrom        int
	WarnEvery       int
	AbortNoticeFrom int
}

// Roster is the read side of the state store the selector needs.
type Roster interface {
	BotID() int
	Player(id int) (state.Player, bool)
	EligibleTargets() []int
	CurrentDFN() string
}

type CommandType string

const (
	CmdNext      CommandType = "Next"
	CmdPrev      CommandType = "Prev"
	CmdSpectate  CommandType = "Spectate"
	CmdAFKReset  CommandType = "AFKReset"
	CmdAFKExtend CommandType = "AFKExtend"
)

type Command struct {
	Type     CommandType
	PlayerID int
	Strikes  int
}

/*
	Validate    -> EvtFlagAFK? -> EvtFollow + EvtClearFailure        (replacement found)
	            -> EvtFlagAFK? -> EvtFollowSelf | EvtIdleStrike      (nobody to follow)
	                           -> EvtServerExhausted                 (idle limit hit, or AFK with nobody left)
	            -> EvtAFKWarning | EvtActivityResumed + EvtClearAFK  (target kept)
*/

type EventType string

const (
	EvtFollow          EventType = "Follow"
	EvtFollowSelf      EventType = "FollowSelf"
	EvtFlagAFK         EventType = "FlagAFK"
	EvtClearAFK        EventType = "ClearAFK"
	EvtClearFailure    EventType = "ClearFailure"
	EvtUnspectatable   EventType = "Unspectatable"
	EvtIdleStrike      EventType = "IdleStrike"
	EvtAFKWarning      EventType = "AFKWarning"
	EvtActivityResumed EventType = "ActivityResumed"
	EvtTimeoutExtended EventType = "TimeoutExtended"
	EvtServerExhausted EventType = "ServerExhausted"
)

type Event struct {
	Type      EventType
	PlayerID  int
	Reason    Condition
	Strikes   int
	Limit     int
	Remaining time.Duration
}

// Picker chooses one id from a non-empty candidate list.
type Picker func(ids []int) int

// Validate runs one refresh cycle of the selector against the roster.
func Validate(s Session, r Roster, p Policy, pick Picker) ([]Event, Session) {
	s = s.clone()
	bot := r.BotID()

	cond := condition(s, r, p)
	if cond == CondNone {
		return watchInputs(s, r, p)
	}

	var events []Event
	switch cond {
	case CondAFK:
		events = append(events, Event{Type: EvtFlagAFK, PlayerID: s.Target, Strikes: s.AFKStrikes})
		s.AFKStrikes = 0
		delete(s.Overrides, s.Target)
	case CondNospec:
		events = append(events, Event{Type: EvtUnspectatable, PlayerID: s.Target, Reason: CondNospec})
	case CondSelf:
		if pl, ok := r.Player(s.Target); ok && s.Target != bot && pl.Spectator() {
			events = append(events, Event{Type: EvtUnspectatable, PlayerID: s.Target, Reason: CondSelf})
		}
	}

	candidates := slices.DeleteFunc(r.EligibleTargets(), func(id int) bool {
		return id == bot || (cond == CondAFK && id == s.Target)
	})

	if len(candidates) > 0 {
		id := pick(candidates)
		if id != s.Target {
			delete(s.Overrides, s.Target)
		}
		s.Target = id
		s.IdleStrikes = 0
		s.AFKStrikes = 0
		events = append(events,
			Event{Type: EvtFollow, PlayerID: id, Reason: cond},
			Event{Type: EvtClearFailure, PlayerID: id},
		)
		return events, s
	}

	if s.Target != bot {
		delete(s.Overrides, s.Target)
		s.Target = bot
		events = append(events, Event{Type: EvtFollowSelf, PlayerID: bot, Reason: cond})
	} else {
		s.IdleStrikes++
		events = append(events, Event{Type: EvtIdleStrike, Strikes: s.IdleStrikes, Limit: p.IdleTimeout})
	}

	if s.IdleStrikes >= p.IdleTimeout || cond == CondAFK {
		events = append(events, Event{Type: EvtServerExhausted, Reason: cond, Strikes: s.IdleStrikes})
	}
	return events, s
}

// condition evaluates the three exit conditions in precedence order. Self
// covers every case where the target is not an active player, so nospec
// can only hold for a present, non-bot player on an active team.
func condition(s Session, r Roster, p Policy) Condition {
	bot := r.BotID()
	if s.Target == bot {
		return CondSelf
	}
	pl, ok := r.Player(s.Target)
	if !ok || pl.Spectator() {
		return CondSelf
	}
	if b, ok := r.Player(bot); ok && b.DFN != "" && r.CurrentDFN() == b.DFN {
		return CondSelf
	}
	if pl.Nospec() {
		return CondNospec
	}
	if s.AFKStrikes >= p.Timeout(s, s.Target) {
		return CondAFK
	}
	return CondNone
}

func watchInputs(s Session, r Roster, p Policy) ([]Event, Session) {
	var events []Event
	if Inputs(r) == "" {
		s.AFKStrikes++
		timeout := p.Timeout(s, s.Target)
		if s.AFKStrikes >= p.WarnFrom && p.WarnEvery > 0 && (s.AFKStrikes-p.WarnFrom)%p.WarnEvery == 0 {
			if remaining := time.Duration(timeout-s.AFKStrikes) * p.Tick; remaining > 0 {
				events = append(events, Event{
					Type:      EvtAFKWarning,
					PlayerID:  s.Target,
					Strikes:   s.AFKStrikes,
					Limit:     timeout,
					Remaining: remaining,
				})
			}
		}
		return events, s
	}

	if s.AFKStrikes >= p.AbortNoticeFrom {
		events = append(events, Event{Type: EvtActivityResumed, PlayerID: s.Target, Strikes: s.AFKStrikes})
	}
	s.AFKStrikes = 0
	events = append(events, Event{Type: EvtClearAFK, PlayerID: s.Target})
	return events, s
}

// Apply handles an explicit operator or viewer command.
func Apply(s Session, r Roster, cmd Command) ([]Event, Session, error) {
	bot := r.BotID()
	next := s.clone()

	switch cmd.Type {
	case CmdNext, CmdPrev:
		ids := r.EligibleTargets()
		if len(ids) == 0 {
			return nil, s, ErrNoTargets
		}
		if cmd.Type == CmdPrev {
			slices.Reverse(ids)
		}

		follow := ids[0]
		if s.Target != bot {
			i := slices.Index(ids, s.Target) + 1
			if i >= len(ids) {
				i = 0
			}
			follow = ids[i]
			if follow == s.Target {
				return nil, s, ErrNoOtherTargets
			}
		}
		return switchTo(follow), next.following(follow), nil

	case CmdSpectate:
		pl, ok := r.Player(cmd.PlayerID)
		if !ok || pl.ID == bot || pl.Spectator() || pl.Nospec() {
			return nil, s, ErrTargetUnavailable
		}
		events := append([]Event{{Type: EvtClearAFK, PlayerID: pl.ID}}, switchTo(pl.ID)...)
		next = next.following(pl.ID)
		delete(next.Overrides, pl.ID)
		return events, next, nil

	case CmdAFKReset:
		next.AFKStrikes = 0
		delete(next.Overrides, next.Target)
		return nil, next, nil

	case CmdAFKExtend:
		if s.Target == bot {
			return nil, s, ErrTargetUnavailable
		}
		next.Overrides[next.Target] += cmd.Strikes
		return []Event{{Type: EvtTimeoutExtended, PlayerID: next.Target, Strikes: next.Overrides[next.Target]}}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func switchTo(id int) []Event {
	return []Event{
		{Type: EvtFollow, PlayerID: id},
		{Type: EvtClearFailure, PlayerID: id},
	}
}

func (s Session) following(id int) Session {
	if id != s.Target {
		delete(s.Overrides, s.Target)
	}
	s.Target = id
	s.IdleStrikes = 0
	s.AFKStrikes = 0
	return s
}
