package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestAppendPersistsAndOrders(t *testing.T) {
	store := NewStore(openTestDB(t))

	ev1, err := store.Append(KindSessionOpened, map[string]any{"session": 1})
	require.NoError(t, err)
	ev2, err := store.Append(KindSubmitted, map[string]any{"session": 1})
	require.NoError(t, err)

	assert.Less(t, ev1.Seq, ev2.Seq)
	assert.Equal(t, KindSessionOpened, ev1.Kind)
}

func TestTailReceivesAppendedEvents(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, stop := store.Tail(ctx)
	defer stop()

	_, err := store.Append(KindTaskFinished, map[string]any{"task": "1/task-1"})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, KindTaskFinished, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tailed event")
	}
}

func TestSinceReturnsOnlyNewer(t *testing.T) {
	store := NewStore(openTestDB(t))
	first, err := store.Append(KindSessionOpened, nil)
	require.NoError(t, err)
	_, err = store.Append(KindSubmitted, nil)
	require.NoError(t, err)

	events, err := store.Since(first.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindSubmitted, events[0].Kind)
}
