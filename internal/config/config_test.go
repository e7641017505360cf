package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	c, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.Session.Tick)
	assert.Equal(t, 30, c.Session.AFKTimeout)
	assert.Equal(t, 5, c.Session.IdleTimeout)
	assert.Equal(t, 10*time.Minute, c.Session.AFKFlagTTL)
	assert.Equal(t, 120*time.Second, c.Recovery.DeadlockHorizon)
	assert.Equal(t, 15*time.Minute, c.Standby.Duration)
	assert.Equal(t, []string{"defrag.live", "defraglive", "defrag live"}, c.Vote.Aliases)
	assert.Empty(t, c.Journal.DSN)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SPECBOT_SESSION_TICK", "1s")
	t.Setenv("SPECBOT_HTTP_ADDR", ":9999")

	c, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Session.Tick)
	assert.Equal(t, ":9999", c.HTTP.Addr)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  afk_timeout: 12\nrecovery:\n  cooldown: 5s\n"), 0o600))

	c, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, 12, c.Session.AFKTimeout)
	assert.Equal(t, 5*time.Second, c.Recovery.Cooldown)

	_, err = Load(filepath.Join(dir, "missing.yaml"), false)
	assert.Error(t, err, "explicit path must exist")
}

func TestLoadFlags_OnlyChangedFlagsOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SPECBOT_HTTP_ADDR", ":9999")

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("listen", "", "")
	fs.String("start", "", "")
	require.NoError(t, fs.Parse([]string{"--start", "1.2.3.4:27960"}))

	c, err := LoadFlags("", false, fs)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4:27960", c.Session.StartAddr)
	assert.Equal(t, ":9999", c.HTTP.Addr, "unset flag must not mask the environment")
}

func TestLoad_DevProfile(t *testing.T) {
	chdir(t, t.TempDir())

	c, err := Load("", true)
	require.NoError(t, err)
	assert.Equal(t, 1000, c.Session.AFKTimeout)
	assert.Equal(t, time.Minute, c.Standby.Duration)
	assert.True(t, c.Log.Development)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	c, err := Load("", false)
	require.NoError(t, err)

	c.Session.Tick = 0
	c.Recovery.DeadlockHorizon = time.Second
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.tick")
	assert.Contains(t, err.Error(), "deadlock_horizon")
}

// chdir switches into dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
