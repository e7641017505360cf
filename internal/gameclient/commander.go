package gameclient

import (
	"sync"
	"time"
)

// Commander is the fire-and-forget channel into the running game client.
// Nothing it sends is acknowledged; effects show up in later reports.
type Commander interface {
	SendCommand(cmd string)
	SendKey(key string, d time.Duration)
}

type Key struct {
	Key      string
	Duration time.Duration
}

// Recorder keeps every command it receives. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	commands []string
	keys     []Key
	notify   chan string
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan string, 256)}
}

func (r *Recorder) SendCommand(cmd string) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
	select {
	case r.notify <- cmd:
	default:
	}
}

func (r *Recorder) SendKey(key string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, Key{Key: key, Duration: d})
}

func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

func (r *Recorder) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Key, len(r.keys))
	copy(out, r.keys)
	return out
}

// Sent delivers each command as it is recorded. Commands are dropped from
// this channel, never from the log, when nobody reads.
func (r *Recorder) Sent() <-chan string { return r.notify }

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
	r.keys = nil
}
