package journal

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 user=test dbname=test sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.NoError(t, err)
	return db
}

func TestGormJournal_InsertStatement(t *testing.T) {
	db := dryRunDB(t)
	e := Entry{SessionID: uuid.New(), Kind: KindRecovery, Address: "1.2.3.4:27960", Attempt: 2}

	stmt := db.Create(&e).Statement
	sql := stmt.SQL.String()
	assert.Contains(t, sql, `INSERT INTO "journal_entries"`)
	assert.Contains(t, sql, `"session_id"`)
	assert.Contains(t, stmt.Vars, "1.2.3.4:27960")

	j := NewGormJournal(db)
	assert.NoError(t, j.Record(context.Background(), e))
}

type memJournal struct {
	mu      sync.Mutex
	entries []Entry
	block   chan struct{}
	closed  bool
}

func (m *memJournal) Record(_ context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestAsync_DrainsOnClose(t *testing.T) {
	mem := &memJournal{}
	a := NewAsync(mem, 8, zap.NewNop())
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(context.Background(), Entry{Attempt: i}))
	}
	require.NoError(t, a.Close())

	assert.Len(t, mem.entries, 5)
	assert.True(t, mem.closed)
	assert.ErrorIs(t, a.Record(context.Background(), Entry{}), ErrClosed)
	assert.NoError(t, a.Close(), "second close is a no-op")
}

func TestAsync_DropsWhenFull(t *testing.T) {
	mem := &memJournal{block: make(chan struct{})}
	a := NewAsync(mem, 1, zap.NewNop())

	// the worker holds one entry, the queue holds one more
	var errs []error
	for i := 0; i < 10; i++ {
		errs = append(errs, a.Record(context.Background(), Entry{Attempt: i}))
	}
	assert.Contains(t, errs, ErrDropped)
	assert.Positive(t, a.Dropped())

	close(mem.block)
	require.NoError(t, a.Close())
}

func TestNop(t *testing.T) {
	var j Journal = Nop{}
	assert.NoError(t, j.Record(context.Background(), Entry{}))
	assert.NoError(t, j.Close())
}
