package store_test

import (
	"testing"

	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/store"
	"github.com/soyeahso/livedesk/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		db, err := store.Open(":memory:", logging.New(nil, "silent"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}
