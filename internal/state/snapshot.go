package state

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/DoyleJ11/defrag-spectator/internal/report"
)

var ErrIncompleteSnapshot = errors.New("incomplete snapshot")

// TeamSpectator is the team flag the server reports for free spectators.
const TeamSpectator = "3"

const (
	nospec   = "nospec"
	nospecPM = "nospecpm"
)

var colorRe = regexp.MustCompile(`\^.`)

// StripColors removes Quake 3 "^N" colour escapes.
func StripColors(s string) string { return colorRe.ReplaceAllString(s, "") }

type Player struct {
	ID     int    `json:"id"`
	Name   string `json:"n"`
	Team   string `json:"t"`
	Color1 string `json:"c1"`
	Inputs string `json:"c2"`
	DFN    string `json:"dfn"`
}

func (p Player) Spectator() bool { return p.Team == TeamSpectator }
func (p Player) Nospec() bool    { return p.Color1 == nospec || p.Color1 == nospecPM }
func (p Player) NoPM() bool      { return p.Color1 == nospecPM }

// Snapshot is one polling cycle's view of the server. It is replaced
// wholesale on refresh and never edited in place.
type Snapshot struct {
	Address    string            `json:"address"`
	Hostname   string            `json:"hostname"`
	Map        string            `json:"map"`
	Physics    string            `json:"physics"`
	GameType   string            `json:"gametype"`
	Promode    string            `json:"promode"`
	CurrentDFN string            `json:"current_dfn"`
	Players    []Player          `json:"players"`
	Server     map[string]string `json:"server"`
}

func FromReport(r *report.Report) (*Snapshot, error) {
	if r == nil || r.Server() == nil || r.Info() == nil {
		return nil, ErrIncompleteSnapshot
	}
	srv := r.Server()
	info := r.Info()

	s := &Snapshot{
		Address:    r.Address,
		Hostname:   srv["sv_hostname"],
		Map:        srv["mapname"],
		Physics:    info["physics"],
		GameType:   srv["defrag_gametype"],
		Promode:    srv["df_promode"],
		CurrentDFN: info["player"],
		Server:     srv,
	}
	for _, c := range r.Clients() {
		t, ok := c.Fields["t"]
		if !ok {
			return nil, fmt.Errorf("%w: client %d has no team", ErrIncompleteSnapshot, c.ID)
		}
		s.Players = append(s.Players, Player{
			ID:     c.ID,
			Name:   c.Fields["n"],
			Team:   t,
			Color1: c.Fields["c1"],
			Inputs: c.Fields["c2"],
			DFN:    c.Fields["dfn"],
		})
	}
	sort.Slice(s.Players, func(i, j int) bool { return s.Players[i].ID < s.Players[j].ID })
	return s, nil
}

func (s *Snapshot) NumPlayers() int { return len(s.Players) }

func (s *Snapshot) Player(id int) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}
