package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoResponse = errors.New("server did not answer")
	ErrFull       = errors.New("server is full")
	ErrNotDefrag  = errors.New("server is not running defrag")
	ErrBadAddress = errors.New("invalid server address")
)

var (
	statusRequest  = []byte("\xff\xff\xff\xffgetstatus\n")
	statusResponse = []byte("\xff\xff\xff\xffstatusResponse")
)

// Status is a parsed getstatus reply.
type Status struct {
	Info    map[string]string
	Players []string
}

func (s Status) MaxClients() int {
	n, _ := strconv.Atoi(s.Info["sv_maxclients"])
	return n
}

// ParseStatus decodes a getstatus datagram: header, backslash infostring,
// then one `score ping "name"` line per client.
func ParseStatus(b []byte) (Status, error) {
	if !bytes.HasPrefix(b, statusResponse) {
		return Status{}, fmt.Errorf("%w: unexpected header", ErrNoResponse)
	}
	lines := strings.Split(string(b[len(statusResponse):]), "\n")
	if len(lines) < 2 {
		return Status{}, fmt.Errorf("%w: short reply", ErrNoResponse)
	}

	st := Status{Info: map[string]string{}}
	kv := strings.Split(strings.TrimPrefix(lines[1], `\`), `\`)
	for i := 0; i+1 < len(kv); i += 2 {
		st.Info[strings.ToLower(kv[i])] = kv[i+1]
	}
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, `"`, 3)
		if len(parts) >= 2 {
			st.Players = append(st.Players, parts[1])
		}
	}
	return st, nil
}

// Check rejects servers the bot could not join or has nothing to watch on.
func (s Status) Check() error {
	if limit := s.MaxClients(); limit > 0 && len(s.Players) >= limit {
		return ErrFull
	}
	game := strings.ToLower(s.Info["gamename"] + " " + s.Info["fs_game"])
	if !strings.Contains(game, "defrag") && s.Info["defrag_vers"] == "" {
		return ErrNotDefrag
	}
	return nil
}

type Prober struct {
	Timeout time.Duration
}

func NewProber(timeout time.Duration) *Prober {
	return &Prober{Timeout: timeout}
}

func (p *Prober) Status(ctx context.Context, addr string) (Status, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(p.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(statusRequest); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	buf := make([]byte, 16384)
	n, err := conn.Read(buf)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	return ParseStatus(buf[:n])
}

func (p *Prober) Check(ctx context.Context, addr string) error {
	st, err := p.Status(ctx, addr)
	if err != nil {
		return err
	}
	return st.Check()
}
