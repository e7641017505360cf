package engine

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/defrag-spectator/internal/state"
)

// NoInputs is what Inputs reports when the bot is missing from the roster.
// It counts as activity so a torn report never produces an AFK strike.
const NoInputs = "F"

const farewellSplit = 120

func NewSession(bot int) Session {
	return Session{Target: bot, Overrides: map[int]int{}}
}

func DefaultPolicy() Policy {
	return Policy{
		AFKTimeout:      30,
		IdleTimeout:     5,
		Tick:            2 * time.Second,
		WarnFrom:        10,
		WarnEvery:       5,
		AbortNoticeFrom: 15,
	}
}

// Timeout is the effective AFK limit for id, in strikes.
func (p Policy) Timeout(s Session, id int) int {
	return p.AFKTimeout + s.Overrides[id]
}

// Inputs reads the followed player's key state. The bot mirrors it into
// its own c2 each tick, spaces are padding.
func Inputs(r Roster) string {
	bot, ok := r.Player(r.BotID())
	if !ok {
		return NoInputs
	}
	return strings.ReplaceAll(bot.Inputs, " ", "")
}

func (s Session) clone() Session {
	o := make(map[int]int, len(s.Overrides))
	for k, v := range s.Overrides {
		o[k] = v
	}
	s.Overrides = o
	return s
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func RandomPicker(ids []int) int {
	return ids[rand.Intn(len(ids))]
}

// Farewell builds the chat lines said before leaving an exhausted server.
// A reason longer than a say line can hold goes out on its own line.
func Farewell(r Roster, afk, nospec []int, free []state.Player, total int) []string {
	var parts []string
	if len(afk) > 0 {
		parts = append(parts, "^1AFK: ^7"+strings.Join(names(r, afk), ", "))
	}
	if len(nospec) > 0 {
		parts = append(parts, "^1Nospec: ^7"+strings.Join(names(r, nospec), ", "))
	}
	if len(free) > 0 {
		n := make([]string, 0, len(free))
		for _, p := range free {
			n = append(n, p.Name)
		}
		parts = append(parts, "^1Spectating: ^7"+strings.Join(n, ", "))
	}

	switch {
	case len(parts) > 0:
		reason := strings.Join(parts, " | ")
		if len(reason) > farewellSplit {
			return []string{reason, "^3Switching servers. Farewell."}
		}
		return []string{reason + " ^3- Farewell."}
	case total <= 1:
		return []string{"^7No active players remaining. ^3Farewell."}
	default:
		return []string{"^7No spectatable players available. ^3Farewell."}
	}
}

func names(r Roster, ids []int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Player(id); ok {
			out = append(out, p.Name)
			continue
		}
		out = append(out, "ID"+strconv.Itoa(id))
	}
	return out
}
