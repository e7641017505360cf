package vote

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/defrag-spectator/internal/state"
)

type Decision string

const (
	DecisionReject  Decision = "reject"
	DecisionApprove Decision = "approve"
	DecisionTally   Decision = "tally"
)

type Result string

const (
	ResultYes  Result = "yes"
	ResultNo   Result = "no"
	ResultNone Result = "none"
)

// DefaultAliases are the names the bot is known by on kick votes besides its
// in-game name.
var DefaultAliases = []string{"defrag.live", "defraglive", "defrag live"}

var fold = cases.Fold()

// Normalize strips colour codes and folds the text so lookalike names compare
// equal.
func Normalize(s string) string {
	return fold.String(norm.NFKC.String(state.StripColors(s)))
}

type Classifier struct {
	Aliases []string
}

func NewClassifier(aliases []string) *Classifier {
	if len(aliases) == 0 {
		aliases = DefaultAliases
	}
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		out = append(out, Normalize(a))
	}
	return &Classifier{Aliases: out}
}

// Classify decides what to do with a called vote. players counts everyone on
// the server including the bot.
func (c *Classifier) Classify(content, botName string, players int) Decision {
	text := Normalize(content)
	if strings.Contains(text, "kick") {
		names := c.Aliases
		if n := Normalize(botName); n != "" {
			names = append([]string{n}, names...)
		}
		for _, n := range names {
			if strings.Contains(text, n) {
				return DecisionReject
			}
		}
	}
	if players == 2 {
		return DecisionApprove
	}
	return DecisionTally
}

type Outcome struct {
	Yes    int
	No     int
	Result Result
}

// Tally counts f1/f2 replies for one vote window. The zero value is closed.
type Tally struct {
	start  time.Time
	window time.Duration
	open   bool
	votes  map[string]bool
}

func (t *Tally) Open(now time.Time, window time.Duration) {
	t.start = now
	t.window = window
	t.open = true
	t.votes = map[string]bool{}
}

func (t *Tally) Active() bool { return t.open }

// Cast records a voter's choice. A voter counts once per window; later casts
// are ignored.
func (t *Tally) Cast(voter string, yes bool) bool {
	if !t.open || voter == "" {
		return false
	}
	if _, seen := t.votes[voter]; seen {
		return false
	}
	t.votes[voter] = yes
	return true
}

func (t *Tally) Due(now time.Time) bool {
	return t.open && !now.Before(t.start.Add(t.window))
}

func (t *Tally) Counts() (yes, no int) {
	for _, v := range t.votes {
		if v {
			yes++
		} else {
			no++
		}
	}
	return yes, no
}

func (t *Tally) Close() Outcome {
	yes, no := t.Counts()
	t.open = false
	t.votes = nil

	out := Outcome{Yes: yes, No: no, Result: ResultNone}
	switch {
	case yes > no:
		out.Result = ResultYes
	case no > yes:
		out.Result = ResultNo
	}
	return out
}

func (o Outcome) Commands() []string {
	switch o.Result {
	case ResultYes:
		return []string{"vote yes"}
	case ResultNo:
		return []string{"vote no"}
	}
	return nil
}

func (o Outcome) Message() string {
	action := "No action."
	switch o.Result {
	case ResultYes:
		action = "Voting ^3f1^7."
	case ResultNo:
		action = "Voting ^3f2^7."
	}
	return fmt.Sprintf("^3%d ^2f1 ^7vs. ^3%d ^1f2^7. %s", o.Yes, o.No, action)
}

const (
	PromptMessage  = "^7Vote detected. Should I vote yes or no? Send ^3?^7f1 for yes and ^3?^7f2 for no."
	ApproveMessage = "^7Vote detected. Voted ^3f1^7."
	RejectMessage  = "^7Vote to kick me detected. Voted ^1f2^7."
)

// ParseChoice reads a viewer reply. It accepts f1/f2, with or without the
// leading "?", and yes/no.
func ParseChoice(s string) (yes, ok bool) {
	switch strings.TrimPrefix(Normalize(strings.TrimSpace(s)), "?") {
	case "f1", "yes":
		return true, true
	case "f2", "no":
		return false, true
	}
	return false, false
}
