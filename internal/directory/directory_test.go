package directory

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const listingJSON = `{
  "active": {
    "1.1.1.1:27960": {
      "players": {
        "0": {"clientId": 0, "name": "a", "nospec": 0},
        "1": {"clientId": "1", "name": "b", "nospec": 1},
        "2": {"clientId": 2, "name": "c", "nospec": false}
      },
      "scores": {"num_players": 3, "players": [
        {"player_num": 0, "follow_num": -1},
        {"player_num": 1, "follow_num": -1},
        {"player_num": 2, "follow_num": 0}
      ]}
    },
    "2.2.2.2:27961": {
      "players": {
        "0": {"clientId": 0, "nospec": 0},
        "3": {"clientId": 3, "nospec": 0}
      },
      "scores": {"num_players": 2, "players": [
        {"player_num": 0, "follow_num": -1},
        {"player_num": 3, "follow_num": -1}
      ]}
    },
    "3.3.3.3:27960": {
      "players": {},
      "scores": {"num_players": 0, "players": []}
    }
  }
}`

func newTestDirectory(t *testing.T) (*HTTPDirectory, *clockwork.FakeClock, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listingJSON))
	}))
	t.Cleanup(srv.Close)

	clk := clockwork.NewFakeClock()
	d := NewHTTPDirectory(Config{URL: srv.URL, Rate: rate.Inf, Burst: 1, CacheTTL: 5 * time.Second}, clk, zap.NewNop())
	return d, clk, &hits
}

func TestRanking(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	ranked, err := d.Ranking(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Ranked{
		{Addr: "2.2.2.2:27961", Players: 2},
		{Addr: "1.1.1.1:27960", Players: 1},
	}, ranked)
}

func TestNextActive_SkipsIgnored(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	ctx := context.Background()

	best, err := d.MostPopular(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.2.2.2:27961", best)

	next, err := d.NextActive(ctx, []string{"2.2.2.2:27961"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1:27960", next)

	// bare hosts get the default port
	none, err := d.NextActive(ctx, []string{"2.2.2.2:27961", "1.1.1.1"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListing_Cached(t *testing.T) {
	d, clk, hits := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Listing(ctx)
	require.NoError(t, err)
	_, err = d.Listing(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))

	clk.Advance(6 * time.Second)
	_, err = d.Listing(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(hits))
}

func TestListing_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewHTTPDirectory(Config{URL: srv.URL, Rate: rate.Inf, Burst: 1}, clockwork.NewFakeClock(), zap.NewNop())
	_, err := d.NextActive(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseStatus(t *testing.T) {
	raw := "\xff\xff\xff\xffstatusResponse\n" +
		`\sv_hostname\df server\gamename\defrag\sv_maxclients\2` + "\n" +
		`0 40 "^1one"` + "\n"
	st, err := ParseStatus([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "df server", st.Info["sv_hostname"])
	assert.Equal(t, []string{"^1one"}, st.Players)
	assert.NoError(t, st.Check())

	st.Players = append(st.Players, "two")
	assert.ErrorIs(t, st.Check(), ErrFull)

	st.Players = nil
	st.Info["gamename"] = "baseq3"
	assert.ErrorIs(t, st.Check(), ErrNotDefrag)

	_, err = ParseStatus([]byte("garbage"))
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestProber_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	go func() {
		buf := make([]byte, 64)
		n, from, err := pc.ReadFrom(buf)
		if err != nil || string(buf[:n]) != string(statusRequest) {
			return
		}
		reply := "\xff\xff\xff\xffstatusResponse\n\\gamename\\defrag\\sv_maxclients\\8\n"
		_, _ = pc.WriteTo([]byte(reply), from)
	}()

	p := NewProber(2 * time.Second)
	assert.NoError(t, p.Check(context.Background(), pc.LocalAddr().String()))
}

func TestProber_NoAnswer(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	p := NewProber(100 * time.Millisecond)
	err = p.Check(context.Background(), pc.LocalAddr().String())
	assert.ErrorIs(t, err, ErrNoResponse)

	assert.ErrorIs(t, p.Check(context.Background(), "no-port"), ErrBadAddress)
}
