package session

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cenkalti/rain/internal/blocklist"
	"github.com/cenkalti/rain/internal/logger"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "session.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	}))
	return &Session{
		db:        db,
		log:       logger.New("test"),
		blocklist: blocklist.New(),
		closeC:    make(chan struct{}),
	}
}

const testBlocklistBody = "range1:1.2.3.0-1.2.3.255\nrange2:5.6.7.0-5.6.7.255\n"

func TestUpdateBlocklistPersistsToDB(t *testing.T) {
	r := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(testBlocklistBody))
	}))
	defer srv.Close()

	s := newTestSession(t)
	s.config.BlocklistURL = srv.URL

	r.NoError(s.updateBlocklist())
	r.Equal(2, s.blocklist.Len())

	r.NoError(s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		r.Equal(testBlocklistBody, string(b.Get(blocklistKey)))
		r.NotNil(b.Get(blocklistTimestampKey))
		return nil
	}))
}

func TestStartBlocklistReloaderLoadsCachedCopy(t *testing.T) {
	r := require.New(t)

	s := newTestSession(t)
	s.config.BlocklistURL = ""
	r.NoError(s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		return b.Put(blocklistKey, []byte(testBlocklistBody))
	}))

	r.NoError(s.startBlocklistReloader())
	r.Equal(2, s.blocklist.Len())
}

func TestStartBlocklistReloaderNoURLDoesNotSpawnGoroutine(t *testing.T) {
	s := newTestSession(t)
	s.config.BlocklistURL = ""
	require.NoError(t, s.startBlocklistReloader())
	close(s.closeC)
	time.Sleep(10 * time.Millisecond)
}
