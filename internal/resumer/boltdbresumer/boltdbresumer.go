// Package boltdbresumer implements resumer.Resumer on top of a BoltDB
// bucket, storing one torrent's resume state as a single JSON-encoded blob.
package boltdbresumer

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cenkalti/rain/internal/resumer"
)

// Spec is the persisted state of one torrent.
type Spec struct {
	InfoHash        []byte    `json:"info_hash"`
	Dest            string    `json:"dest"`
	Port            int       `json:"port"`
	Name            string    `json:"name"`
	Trackers        []string  `json:"trackers"`
	Info            []byte    `json:"info,omitempty"`
	Bitfield        []byte    `json:"bitfield,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	BytesUploaded   int64     `json:"bytes_uploaded"`
	BytesWasted     int64     `json:"bytes_wasted"`
	SeededFor       time.Duration `json:"seeded_for"`
	Started         bool      `json:"started"`
}

var specKey = []byte("spec")

// Resumer persists a single torrent's Spec in db, under parent/id.
type Resumer struct {
	db     *bolt.DB
	parent []byte
	id     []byte
}

// New opens (creating if necessary) the sub-bucket parent/id for torrent id.
func New(db *bolt.DB, parent []byte, id []byte) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		pb, err := tx.CreateBucketIfNotExists(parent)
		if err != nil {
			return err
		}
		_, err = pb.CreateBucketIfNotExists(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{db: db, parent: parent, id: id}, nil
}

func (r *Resumer) bucket(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(r.parent).Bucket(r.id)
}

// Read returns the currently persisted Spec.
func (r *Resumer) Read() (*Spec, error) {
	var spec Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b := r.bucket(tx).Get(specKey)
		if b == nil {
			return nil
		}
		return json.Unmarshal(b, &spec)
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// Write persists spec, replacing any previous state.
func (r *Resumer) Write(spec *Spec) error {
	return r.update(func(s *Spec) { *s = *spec })
}

func (r *Resumer) update(f func(*Spec)) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := r.bucket(tx)
		var spec Spec
		if raw := b.Get(specKey); raw != nil {
			if err := json.Unmarshal(raw, &spec); err != nil {
				return err
			}
		}
		f(&spec)
		raw, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		return b.Put(specKey, raw)
	})
}

// WriteBitfield updates only the bitfield field.
func (r *Resumer) WriteBitfield(bf []byte) error {
	return r.update(func(s *Spec) { s.Bitfield = append([]byte(nil), bf...) })
}

// WriteStats updates the cumulative byte/duration counters.
func (r *Resumer) WriteStats(stats resumer.Stats) error {
	return r.update(func(s *Spec) {
		s.BytesDownloaded = stats.BytesDownloaded
		s.BytesUploaded = stats.BytesUploaded
		s.BytesWasted = stats.BytesWasted
		s.SeededFor = stats.SeededFor
	})
}

// WriteStarted updates the started flag.
func (r *Resumer) WriteStarted(started bool) error {
	return r.update(func(s *Spec) { s.Started = started })
}
