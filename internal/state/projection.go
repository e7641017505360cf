package state

import (
	"strconv"
	"time"

	"github.com/DoyleJ11/defrag-spectator/pkg/types"
)

// Meta carries the session-owned fields the store itself does not know.
type Meta struct {
	SessionID string
	Target    int
	Phase     string
	Attempt   int
	At        time.Time
}

// Projection renders the JSON view published after each accepted refresh.
func (s *Store) Projection(m Meta) types.ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := types.ServerState{
		SessionID:       m.SessionID,
		BotID:           s.botID,
		BotSecret:       s.secret,
		CurrentPlayerID: m.Target,
		Phase:           m.Phase,
		RecoveryAttempt: m.Attempt,
		Players:         map[string]types.Player{},
		UpdatedAt:       m.At.Unix(),
	}
	if s.snap == nil {
		return out
	}

	out.MapName = s.snap.Map
	out.Promode = s.snap.Promode
	out.GameType = s.snap.GameType
	out.Physics = s.snap.Physics
	out.NumPlayers = s.snap.NumPlayers()
	out.IP = s.snap.Address
	out.Hostname = s.snap.Hostname

	for _, p := range s.snap.Players {
		_, afk := s.afk[p.ID]
		tp := types.Player{
			ID:        p.ID,
			Name:      p.Name,
			Team:      p.Team,
			Color1:    p.Color1,
			DFN:       p.DFN,
			Nospec:    p.Nospec(),
			NoPM:      p.NoPM(),
			AFK:       afk,
			Spectated: p.ID == m.Target,
		}
		out.Players[strconv.Itoa(p.ID)] = tp
		if p.ID == m.Target {
			cp := tp
			out.CurrentPlayer = &cp
		}
	}
	return out
}
