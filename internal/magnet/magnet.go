// Package magnet parses magnet URIs (BEP 9), which encode at minimum an
// info-hash; the full manifest is fetched later from peers via the
// metadata extension.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

// Magnet is a parsed magnet link.
type Magnet struct {
	InfoHash [20]byte
	Name     string
	Trackers []string
}

// New parses a "magnet:?xt=urn:btih:..." URI.
func New(link string) (*Magnet, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "magnet" {
		return nil, errors.New("not a magnet link")
	}
	q := u.Query()
	xt := q.Get("xt")
	const prefix = "urn:btih:"
	if !strings.HasPrefix(xt, prefix) {
		return nil, errors.New("magnet link has no btih info-hash")
	}
	hashStr := xt[len(prefix):]

	var ih [20]byte
	switch len(hashStr) {
	case 40:
		b, err2 := hex.DecodeString(hashStr)
		if err2 != nil {
			return nil, err2
		}
		copy(ih[:], b)
	case 32:
		b, err2 := base32.StdEncoding.DecodeString(strings.ToUpper(hashStr))
		if err2 != nil {
			return nil, err2
		}
		copy(ih[:], b)
	default:
		return nil, errors.New("invalid info-hash length in magnet link")
	}

	m := &Magnet{
		InfoHash: ih,
		Name:     q.Get("dn"),
		Trackers: q["tr"],
	}
	return m, nil
}
