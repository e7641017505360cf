package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrDropped = errors.New("journal queue full")
var ErrClosed = errors.New("journal closed")

type Kind string

const (
	KindConnect   Kind = "connect"
	KindRecovery  Kind = "recovery"
	KindStandby   Kind = "standby"
	KindAFK       Kind = "afk"
	KindIdle      Kind = "idle"
	KindFollow    Kind = "follow"
	KindVote      Kind = "vote"
	KindExhausted Kind = "exhausted"
)

// Entry is one journaled session event.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;index" json:"session_id"`
	Kind      Kind      `gorm:"size:32;index" json:"kind"`
	Address   string    `gorm:"size:64" json:"address"`
	Attempt   int       `json:"attempt"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func (Entry) TableName() string { return "journal_entries" }

type Journal interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }

type GormJournal struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the journal table.
func OpenPostgres(dsn string, log *zap.Logger) (*GormJournal, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := NewGormJournal(db)
	if err := j.Migrate(); err != nil {
		return nil, multierr.Append(err, j.Close())
	}
	log.Named("journal").Info("journal ready")
	return j, nil
}

func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{db: db}
}

func (j *GormJournal) Migrate() error {
	if err := j.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (j *GormJournal) Record(ctx context.Context, e Entry) error {
	return j.db.WithContext(ctx).Create(&e).Error
}

// Recent returns the newest entries for a session, newest first.
func (j *GormJournal) Recent(ctx context.Context, session uuid.UUID, limit int) ([]Entry, error) {
	var out []Entry
	err := j.db.WithContext(ctx).
		Where("session_id = ?", session).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (j *GormJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Async queues entries for a background writer so callers never block on
// the database. Entries that do not fit in the queue are dropped.
type Async struct {
	inner Journal
	log   *zap.Logger
	queue chan Entry
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsync(inner Journal, size int, log *zap.Logger) *Async {
	a := &Async{
		inner: inner,
		log:   log.Named("journal"),
		queue: make(chan Entry, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.inner.Record(ctx, e); err != nil {
			a.log.Warn("journal write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
		}
		cancel()
	}
}

func (a *Async) Record(_ context.Context, e Entry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		a.dropped.Add(1)
		return ErrDropped
	}
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close drains the queue and closes the underlying journal.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.inner.Close()
}
