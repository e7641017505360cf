package gameclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNotStarted = errors.New("game process not started")

type ProcessConfig struct {
	Binary string
	Args   []string
	Dir    string
}

// Process runs the game client with its console wired to stdin and its log
// to stdout.
type Process struct {
	cfg ProcessConfig
	log *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func NewProcess(cfg ProcessConfig, log *zap.Logger) *Process {
	return &Process{cfg: cfg, log: log.Named("gameclient")}
}

func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.Command(p.cfg.Binary, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Binary, err)
	}
	p.cmd, p.stdin, p.stdout = cmd, stdin, stdout
	p.log.Info("game client started", zap.String("binary", p.cfg.Binary), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Console is the client's log stream. It is nil before Start.
func (p *Process) Console() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

func (p *Process) SendCommand(cmd string) {
	p.write(cmd)
}

// SendKey has no console equivalent for a held key, so it is mapped onto the
// matching +/- command pair.
func (p *Process) SendKey(key string, d time.Duration) {
	p.write("+" + key)
	time.AfterFunc(d, func() { p.write("-" + key) })
}

func (p *Process) write(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		p.log.Warn("command dropped", zap.String("cmd", line), zap.Error(ErrNotStarted))
		return
	}
	w := bufio.NewWriter(p.stdin)
	if _, err := w.WriteString(strings.TrimRight(line, "\r\n") + "\n"); err != nil {
		p.log.Warn("command write failed", zap.String("cmd", line), zap.Error(err))
		return
	}
	if err := w.Flush(); err != nil {
		p.log.Warn("command flush failed", zap.String("cmd", line), zap.Error(err))
	}
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	err := p.stdin.Close()
	if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
		err = multierr.Append(err, kerr)
	}
	if werr := p.cmd.Wait(); werr != nil {
		var exit *exec.ExitError
		if !errors.As(werr, &exit) {
			err = multierr.Append(err, werr)
		}
	}
	p.cmd, p.stdin = nil, nil
	return err
}
