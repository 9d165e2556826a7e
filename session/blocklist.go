package session

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/boltdb/bolt"
)

// startBlocklistReloader loads any previously cached blocklist from the
// resume db, then if BlocklistURL is set starts a goroutine that refetches
// it once per BlocklistUpdateInterval, skipping the initial fetch if the
// cached copy is still fresh.
func (s *Session) startBlocklistReloader() error {
	var lastUpdate time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		data := b.Get(blocklistKey)
		if data == nil {
			return nil
		}
		if _, err := s.blocklist.Reload(bytes.NewReader(data)); err != nil {
			return err
		}
		if ts := b.Get(blocklistTimestampKey); ts != nil {
			sec, err := strconv.ParseInt(string(ts), 10, 64)
			if err == nil {
				lastUpdate = time.Unix(sec, 0)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.config.BlocklistURL == "" {
		return nil
	}
	go s.blocklistReloader(lastUpdate)
	return nil
}

func (s *Session) blocklistReloader(lastUpdate time.Time) {
	due := s.config.BlocklistUpdateInterval - time.Since(lastUpdate)
	if due < 0 {
		due = 0
	}
	t := time.NewTimer(due)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.updateBlocklist(); err != nil {
				s.log.Errorln("cannot update blocklist:", err)
			}
			t.Reset(s.config.BlocklistUpdateInterval)
		case <-s.closeC:
			return
		}
	}
}

func (s *Session) updateBlocklist() error {
	resp, err := http.Get(s.config.BlocklistURL) // nolint: gosec
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	n, err := s.blocklist.Reload(io.TeeReader(resp.Body, &buf))
	if err != nil {
		return err
	}
	s.log.Infof("loaded %d rules from blocklist", n)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if err := b.Put(blocklistKey, buf.Bytes()); err != nil {
			return err
		}
		return b.Put(blocklistTimestampKey, []byte(strconv.FormatInt(time.Now().Unix(), 10)))
	})
}
