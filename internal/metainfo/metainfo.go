// Package metainfo implements parsing, validation and serialization of the
// ".torrent" manifest: files, piece hashes, trackers and the info-hash
// identity derived from the canonical bencode of the info dictionary.
package metainfo

import (
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// MetaInfo is the top-level torrent file dictionary.
type MetaInfo struct {
	Info         *Info              `bencode:"-"`
	RawInfo      bencode.RawMessage `bencode:"info" json:"-"`
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	CreationDate int64              `bencode:"creation date"`
	Comment      string             `bencode:"comment"`
	CreatedBy    string             `bencode:"created by"`
	Encoding     string             `bencode:"encoding"`
	URLList      []string           `bencode:"url-list"`

	raw []byte
}

// New parses a torrent file from a bencoded stream.
func New(r io.Reader) (*MetaInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var t MetaInfo
	if err = bencode.DecodeBytes(b, &t); err != nil {
		return nil, err
	}
	if len(t.RawInfo) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	t.raw = b
	t.Info, err = NewInfo(t.RawInfo)
	return &t, err
}

// Bytes returns the whole manifest exactly as it was parsed (nil for a
// manifest built by Create). Encode does not reproduce these bytes in
// general: it rebuilds the manifest from the struct fields, so top-level
// keys that MetaInfo does not model are not carried over and an
// "announce" key is always written.
func (m *MetaInfo) Bytes() []byte { return m.raw }

// GetTrackers returns all tracker URLs, flattening the multi-tier
// announce-list if present, else falling back to the single Announce URL.
func (m *MetaInfo) GetTrackers() []string {
	if len(m.AnnounceList) > 0 {
		var trackers []string
		seen := make(map[string]struct{})
		for _, tier := range m.AnnounceList {
			for _, u := range tier {
				if _, ok := seen[u]; ok {
					continue
				}
				seen[u] = struct{}{}
				trackers = append(trackers, u)
			}
		}
		return trackers
	}
	if m.Announce != "" {
		return []string{m.Announce}
	}
	return nil
}

// Tiers returns the multi-tier announce-list, synthesizing a single tier
// from Announce when no explicit announce-list is present.
func (m *MetaInfo) Tiers() [][]string {
	if len(m.AnnounceList) > 0 {
		return m.AnnounceList
	}
	if m.Announce != "" {
		return [][]string{{m.Announce}}
	}
	return nil
}

// AddTrackerToTier adds url to tier index tierIdx, or to a new tier if
// tierIdx == NextTier().
func (m *MetaInfo) AddTrackerToTier(tierIdx int, url string) {
	for tierIdx >= len(m.AnnounceList) {
		m.AnnounceList = append(m.AnnounceList, nil)
	}
	m.AnnounceList[tierIdx] = append(m.AnnounceList[tierIdx], url)
}

// NextTier returns a fresh tier index suitable for AddTrackerToTier.
func (m *MetaInfo) NextTier() int { return len(m.AnnounceList) }

// RemoveTracker removes every occurrence of url from the announce-list.
func (m *MetaInfo) RemoveTracker(url string) {
	for i, tier := range m.AnnounceList {
		out := tier[:0]
		for _, u := range tier {
			if u != url {
				out = append(out, u)
			}
		}
		m.AnnounceList[i] = out
	}
	if m.Announce == url {
		m.Announce = ""
	}
}

// ReplaceTracker replaces every occurrence of the substring old with new
// across all tracker URLs.
func (m *MetaInfo) ReplaceTracker(old, new string) {
	replace := func(s string) string {
		return stringsReplaceAll(s, old, new)
	}
	for i, tier := range m.AnnounceList {
		for j, u := range tier {
			m.AnnounceList[i][j] = replace(u)
		}
	}
	m.Announce = replace(m.Announce)
}

func stringsReplaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	var out []byte
	for {
		i := indexOf(s, old)
		if i < 0 {
			out = append(out, s...)
			break
		}
		out = append(out, s[:i]...)
		out = append(out, new...)
		s = s[i+len(old):]
	}
	return string(out)
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
