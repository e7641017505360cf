package console

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type Action string

const (
	ActionReconnect   Action = "reconnect"
	ActionDifferentIP Action = "different_ip"
)

// FailureCrash marks rules whose lines bypass the error debounce.
const FailureCrash = "crash"

type ErrorRule struct {
	Match    string `yaml:"match"`
	Action   Action `yaml:"action"`
	Failure  string `yaml:"failure"`
	Contains bool   `yaml:"contains"`
}

func (r ErrorRule) matches(line string) bool {
	if r.Contains {
		return strings.Contains(line, r.Match)
	}
	return strings.HasPrefix(line, r.Match)
}

type Rules struct {
	Errors       []ErrorRule   `yaml:"errors"`
	Pause        []string      `yaml:"pause"`
	LoadComplete []string      `yaml:"load_complete"`
	Reinit       []string      `yaml:"reinit"`
	VoteMarker   string        `yaml:"vote_marker"`
	MapFailed    []string      `yaml:"map_failed"`
	Entered      []string      `yaml:"entered"`
	Disconnected []string      `yaml:"disconnected"`
	Debounce     time.Duration `yaml:"debounce"`
}

func DefaultRules() Rules {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded console rules: %v", err))
	}
	return r
}

func ParseRules(b []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(b, &r); err != nil {
		return Rules{}, fmt.Errorf("parse console rules: %w", err)
	}
	for i, e := range r.Errors {
		if e.Match == "" {
			return Rules{}, fmt.Errorf("console rule %d: empty match", i)
		}
		switch e.Action {
		case ActionReconnect, ActionDifferentIP:
		case "":
			r.Errors[i].Action = ActionReconnect
		default:
			return Rules{}, fmt.Errorf("console rule %q: unknown action %q", e.Match, e.Action)
		}
	}
	return r, nil
}

// LoadRules reads a rules file. An empty path yields the built-in rules.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, err
	}
	return ParseRules(b)
}
