package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrUnavailable = errors.New("server directory unavailable")

const DefaultPort = "27960"

// Directory finds servers worth spectating.
type Directory interface {
	MostPopular(ctx context.Context) (string, error)
	// NextActive returns "" when every populated server is ignored.
	NextActive(ctx context.Context, ignore []string) (string, error)
	IsValid(ctx context.Context, addr string) error
}

// Listing is the body served by the directory.
type Listing struct {
	Active map[string]Server `json:"active"`
}

type Server struct {
	Players map[string]ListedPlayer `json:"players"`
	Scores  Scores                  `json:"scores"`
}

type ListedPlayer struct {
	ClientID json.Number `json:"clientId"`
	Name     string      `json:"name"`
	Nospec   Flag        `json:"nospec"`
}

// Flag decodes the loosely typed booleans the directory emits: true, 1, "1".
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch v := strings.Trim(string(b), `"`); v {
	case "", "0", "false", "null":
		*f = false
	default:
		*f = true
	}
	return nil
}

type Scores struct {
	NumPlayers int          `json:"num_players"`
	Players    []ScoreEntry `json:"players"`
}

type ScoreEntry struct {
	PlayerNum int `json:"player_num"`
	FollowNum int `json:"follow_num"`
}

// ActivePlayers counts players who can be spectated and are not spectating
// someone else themselves.
func (s Server) ActivePlayers() int {
	if s.Scores.NumPlayers == 0 {
		return 0
	}
	spec := map[int]bool{}
	for _, p := range s.Players {
		if p.Nospec {
			continue
		}
		id, err := p.ClientID.Int64()
		if err != nil {
			continue
		}
		spec[int(id)] = true
	}
	n := 0
	for _, sp := range s.Scores.Players {
		if spec[sp.PlayerNum] && sp.FollowNum == -1 {
			n++
		}
	}
	return n
}

type Ranked struct {
	Addr    string `json:"addr"`
	Players int    `json:"players"`
}

// Rank orders populated servers by active players, busiest first. Ties are
// broken by address so results are stable.
func (l Listing) Rank() []Ranked {
	out := make([]Ranked, 0, len(l.Active))
	for addr, s := range l.Active {
		if n := s.ActivePlayers(); n > 0 {
			out = append(out, Ranked{Addr: addr, Players: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Players != out[j].Players {
			return out[i].Players > out[j].Players
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

// NormalizeAddr adds the default port to a bare host.
func NormalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return addr + ":" + DefaultPort
}

type Config struct {
	URL      string
	Rate     rate.Limit
	Burst    int
	CacheTTL time.Duration
	Timeout  time.Duration
}

type HTTPDirectory struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	clock   clockwork.Clock
	log     *zap.Logger
	prober  *Prober

	mu      sync.Mutex
	cached  *Listing
	fetched time.Time
}

func NewHTTPDirectory(cfg Config, clock clockwork.Clock, log *zap.Logger) *HTTPDirectory {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPDirectory{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		clock:   clock,
		log:     log.Named("directory"),
		prober:  NewProber(5 * time.Second),
	}
}

func (d *HTTPDirectory) Listing(ctx context.Context) (*Listing, error) {
	d.mu.Lock()
	if d.cached != nil && d.clock.Since(d.fetched) < d.cfg.CacheTTL {
		l := d.cached
		d.mu.Unlock()
		return l, nil
	}
	d.mu.Unlock()

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var l Listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	d.mu.Lock()
	d.cached = &l
	d.fetched = d.clock.Now()
	d.mu.Unlock()
	d.log.Debug("directory fetched", zap.Int("servers", len(l.Active)))
	return &l, nil
}

func (d *HTTPDirectory) Ranking(ctx context.Context) ([]Ranked, error) {
	l, err := d.Listing(ctx)
	if err != nil {
		return nil, err
	}
	return l.Rank(), nil
}

func (d *HTTPDirectory) MostPopular(ctx context.Context) (string, error) {
	return d.NextActive(ctx, nil)
}

func (d *HTTPDirectory) NextActive(ctx context.Context, ignore []string) (string, error) {
	ranked, err := d.Ranking(ctx)
	if err != nil {
		return "", err
	}
	skip := make(map[string]bool, len(ignore))
	for _, a := range ignore {
		skip[NormalizeAddr(a)] = true
	}
	for _, r := range ranked {
		if !skip[NormalizeAddr(r.Addr)] {
			return r.Addr, nil
		}
	}
	return "", nil
}

func (d *HTTPDirectory) IsValid(ctx context.Context, addr string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.prober.Check(ctx, NormalizeAddr(addr))
}
