package gameclient

import (
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.SendCommand("team s")
	r.SendKey("attack", 50*time.Millisecond)

	assert.Equal(t, []string{"team s"}, r.Commands())
	assert.Equal(t, []Key{{Key: "attack", Duration: 50 * time.Millisecond}}, r.Keys())

	select {
	case got := <-r.Sent():
		assert.Equal(t, "team s", got)
	default:
		t.Fatal("expected command on Sent")
	}

	r.Reset()
	assert.Empty(t, r.Commands())
}

func TestProcess_EchoesCommands(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs cat")
	}
	p := NewProcess(ProcessConfig{Binary: "cat"}, zap.NewNop())
	require.NoError(t, p.Start())

	p.SendCommand("connect 1.2.3.4\n")
	out := p.Console()
	buf := make([]byte, len("connect 1.2.3.4\n"))
	_, err := io.ReadFull(out, buf)
	require.NoError(t, err)
	assert.Equal(t, "connect 1.2.3.4\n", string(buf))

	assert.NoError(t, p.Close())
}

func TestProcess_DropsBeforeStart(t *testing.T) {
	p := NewProcess(ProcessConfig{Binary: "cat"}, zap.NewNop())
	p.SendCommand("team s")
	assert.Nil(t, p.Console())
	assert.NoError(t, p.Close())
}
