package console

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
	"time"
)

type Kind string

const (
	KindError        Kind = "error"
	KindPaused       Kind = "paused"
	KindLoadComplete Kind = "load_complete"
	KindReinit       Kind = "reinit"
	KindVote         Kind = "vote"
	KindMapFailed    Kind = "map_failed"
	KindEntered      Kind = "entered"
	KindLeft         Kind = "left"
	KindChat         Kind = "chat"
)

// Event is one console line the session cares about.
type Event struct {
	Kind    Kind
	Line    string
	Action  Action
	Failure string
	// Author and Content are set for chat; Content holds the vote text for
	// KindVote.
	Author  string
	Content string
	At      time.Time
}

var chatRe = regexp.MustCompile(`^(.*)\^7: \^\d(.*)$`)

type Classifier struct {
	rules     Rules
	lastError time.Time
	lastCrash time.Time
}

func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify maps a raw line to an event. Error lines within the debounce
// window of the previous one are swallowed. Crash lines are only debounced
// against earlier crash lines, so a crash always follows a lesser error.
func (c *Classifier) Classify(line string, now time.Time) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}
	ev := Event{Line: line, At: now}

	for _, r := range c.rules.Errors {
		if !r.matches(line) {
			continue
		}
		last := &c.lastError
		if r.Failure == FailureCrash {
			last = &c.lastCrash
		}
		if !last.IsZero() && now.Sub(*last) < c.rules.Debounce {
			return Event{}, false
		}
		c.lastError, *last = now, now
		ev.Kind, ev.Action, ev.Failure = KindError, r.Action, r.Failure
		return ev, true
	}

	switch {
	case oneOf(line, c.rules.Pause, equal):
		ev.Kind = KindPaused
	case oneOf(line, c.rules.LoadComplete, strings.HasPrefix):
		ev.Kind = KindLoadComplete
	case oneOf(line, c.rules.Reinit, strings.HasPrefix):
		ev.Kind = KindReinit
	case oneOf(line, c.rules.MapFailed, strings.HasPrefix):
		ev.Kind = KindMapFailed
	case c.rules.VoteMarker != "" && serverMessage(line, c.rules.VoteMarker):
		ev.Kind = KindVote
		i := strings.Index(line, c.rules.VoteMarker)
		ev.Content = strings.TrimSpace(line[i+len(c.rules.VoteMarker):])
	default:
		if m := chatRe.FindStringSubmatch(line); m != nil {
			ev.Kind, ev.Author, ev.Content = KindChat, m[1], strings.TrimSpace(m[2])
			return ev, true
		}
		switch {
		case oneOf(line, c.rules.Entered, strings.Contains):
			ev.Kind = KindEntered
		case oneOf(line, c.rules.Disconnected, strings.Contains):
			ev.Kind = KindLeft
		default:
			return Event{}, false
		}
	}
	return ev, true
}

func equal(a, b string) bool { return a == b }

func oneOf(line string, pats []string, match func(string, string) bool) bool {
	for _, p := range pats {
		if match(line, p) {
			return true
		}
	}
	return false
}

// serverMessage reports whether marker appears in a line the server printed
// rather than one a player typed. Chat lines carry "name: " before the text.
func serverMessage(line, marker string) bool {
	i := strings.Index(line, marker)
	return i >= 0 && !strings.Contains(line[:i], ":")
}

// Tail classifies every line read from r and passes events to fn until r is
// exhausted or ctx is done.
func (c *Classifier) Tail(ctx context.Context, r io.Reader, now func() time.Time, fn func(Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ev, ok := c.Classify(sc.Text(), now()); ok {
			fn(ev)
		}
	}
	return sc.Err()
}
