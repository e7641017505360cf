package state

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var ErrSuspectRead = errors.New("player count dropped sharply, re-poll before accepting")

const NoBot = -1

type Options struct {
	FollowCooldown    time.Duration
	MaxFollowFailures int
	// SuspectFloor is the player count above which a >50% drop is treated
	// as a torn read.
	SuspectFloor int
}

func DefaultOptions() Options {
	return Options{FollowCooldown: 10 * time.Second, MaxFollowFailures: 3, SuspectFloor: 5}
}

type failure struct {
	at    time.Time
	count int
}

// Applied describes the outcome of one accepted Update.
type Applied struct {
	Snapshot *Snapshot
	Changed  bool
	BotID    int
	BotFound bool
}

// Store holds the live snapshot plus the membership data derived from it:
// the bot's own id, AFK flags and follow-failure exclusions. Writes come
// from the session actor; readers (HTTP, projection) take the read lock.
type Store struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	log   *zap.Logger
	opts  Options

	secret  string
	botID   int
	snap    *Snapshot
	digest  [32]byte
	suspect bool

	afk      map[int]time.Time
	failures map[int]failure
	excluded map[int]struct{}

	listeners []func(*Snapshot)
}

func NewStore(clock clockwork.Clock, log *zap.Logger, opts Options) *Store {
	if opts.SuspectFloor == 0 {
		opts.SuspectFloor = DefaultOptions().SuspectFloor
	}
	return &Store{
		clock:    clock,
		log:      log.Named("state"),
		opts:     opts,
		botID:    NoBot,
		afk:      map[int]time.Time{},
		failures: map[int]failure{},
		excluded: map[int]struct{}{},
	}
}

// Rotate mints a fresh single-use secret. The bot writes it into its own
// color1 so the next report identifies which client id is ours.
func (s *Store) Rotate() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	secret := strings.ToUpper(hex.EncodeToString(b[:]))

	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
	return secret
}

func (s *Store) Secret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret
}

// OnChange registers a listener called after every update whose content
// digest differs from the previous one.
func (s *Store) OnChange(fn func(*Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) Update(next *Snapshot) (Applied, error) {
	if next == nil || next.Server == nil {
		return Applied{}, ErrIncompleteSnapshot
	}

	s.mu.Lock()
	if prev := s.snap; prev != nil && !s.suspect &&
		prev.NumPlayers() > s.opts.SuspectFloor && next.NumPlayers()*2 < prev.NumPlayers() {
		s.suspect = true
		s.mu.Unlock()
		s.log.Warn("suspect read",
			zap.Int("previous", prev.NumPlayers()), zap.Int("now", next.NumPlayers()))
		return Applied{}, ErrSuspectRead
	}
	s.suspect = false

	found := false
	if s.secret != "" {
		for _, p := range next.Players {
			if p.Color1 == s.secret {
				if s.botID != p.ID && s.botID != NoBot {
					s.log.Info("bot id moved", zap.Int("old", s.botID), zap.Int("new", p.ID))
				}
				s.botID = p.ID
				found = true
				break
			}
		}
	}
	if !found {
		if _, ok := next.Player(s.botID); !ok {
			s.botID = NoBot
		}
	}

	digest := digestOf(next)
	changed := s.snap == nil || digest != s.digest
	s.snap = next
	s.digest = digest
	applied := Applied{Snapshot: next, Changed: changed, BotID: s.botID, BotFound: found}

	var listeners []func(*Snapshot)
	if changed {
		listeners = append(listeners, s.listeners...)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return applied, nil
}

// Reset drops everything tied to the current connection. Client ids are
// reassigned by the next server so flags and exclusions cannot carry over.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	s.digest = [32]byte{}
	s.suspect = false
	s.botID = NoBot
	clear(s.afk)
	clear(s.failures)
	clear(s.excluded)
}

func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) BotID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botID
}

func (s *Store) Bot() (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerLocked(s.botID)
}

func (s *Store) Player(id int) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerLocked(id)
}

func (s *Store) playerLocked(id int) (Player, bool) {
	if s.snap == nil || id == NoBot {
		return Player{}, false
	}
	return s.snap.Player(id)
}

func (s *Store) CurrentDFN() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return ""
	}
	return s.snap.CurrentDFN
}

func (s *Store) Players() []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	return append([]Player(nil), s.snap.Players...)
}

// EligibleTargets returns the ids that may be followed right now: active
// team, not nospec, not the bot, not AFK-flagged and not excluded.
func (s *Store) EligibleTargets() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	now := s.clock.Now()

	var ids []int
	for _, p := range s.snap.Players {
		if p.ID == s.botID || p.Spectator() || p.Nospec() {
			continue
		}
		if _, ok := s.afk[p.ID]; ok {
			continue
		}
		if _, ok := s.excluded[p.ID]; ok {
			continue
		}
		if f, ok := s.failures[p.ID]; ok && now.Sub(f.at) <= s.opts.FollowCooldown {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

// Nospec lists active-team players that opted out of being spectated.
func (s *Store) Nospec() []int {
	return s.collect(func(p Player) bool { return !p.Spectator() && p.Nospec() })
}

// NoPM is the subset of Nospec that also asked for no private notices.
func (s *Store) NoPM() []int {
	return s.collect(func(p Player) bool { return !p.Spectator() && p.NoPM() })
}

func (s *Store) FreeSpectators() []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	var out []Player
	for _, p := range s.snap.Players {
		if p.Spectator() && p.ID != s.botID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) collect(keep func(Player) bool) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	var ids []int
	for _, p := range s.snap.Players {
		if keep(p) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// FlagAFK marks id as AFK. It reports false if id was already flagged.
func (s *Store) FlagAFK(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.afk[id]; ok {
		return false
	}
	s.afk[id] = now
	return true
}

func (s *Store) ClearAFK(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.afk[id]; !ok {
		return false
	}
	delete(s.afk, id)
	return true
}

func (s *Store) ClearAllAFK() {
	s.mu.Lock()
	clear(s.afk)
	s.mu.Unlock()
}

func (s *Store) AFKFlagged() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.afk))
	for id := range s.afk {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ExpireAFK drops flags older than ttl. It returns the players that became
// eligible again as a result; players who left, went spectator or turned on
// nospec lose the flag without being reported.
func (s *Store) ExpireAFK(now time.Time, ttl time.Duration) []Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	var restored []Player
	for id, at := range s.afk {
		if now.Sub(at) < ttl {
			continue
		}
		delete(s.afk, id)
		if p, ok := s.playerLocked(id); ok && !p.Spectator() && !p.Nospec() {
			restored = append(restored, p)
		}
	}
	sort.Slice(restored, func(i, j int) bool { return restored[i].ID < restored[j].ID })
	return restored
}

// RecordFollowFailure notes that following id did not take. The player
// sits out a cooldown; after MaxFollowFailures consecutive failures the
// exclusion is permanent for this connection.
func (s *Store) RecordFollowFailure(id int, now time.Time) (permanent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failures[id]
	f.count++
	f.at = now
	if s.opts.MaxFollowFailures > 0 && f.count >= s.opts.MaxFollowFailures {
		delete(s.failures, id)
		s.excluded[id] = struct{}{}
		return true
	}
	s.failures[id] = f
	return false
}

func (s *Store) ClearFollowFailure(id int) {
	s.mu.Lock()
	delete(s.failures, id)
	delete(s.excluded, id)
	s.mu.Unlock()
}

func (s *Store) Excluded() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.excluded))
	for id := range s.excluded {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func digestOf(s *Snapshot) [32]byte {
	b, err := json.Marshal(s)
	if err != nil {
		return [32]byte{}
	}
	return blake2b.Sum256(b)
}
