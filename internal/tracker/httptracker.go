package tracker

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/zeebo/bencode"
)

// HTTPTracker implements Tracker over BEP 3's HTTP announce protocol.
type HTTPTracker struct {
	rawURL    string
	http      *http.Client
	userAgent string
}

// NewHTTPTracker returns a tracker client for the given announce URL.
func NewHTTPTracker(rawURL string, timeout time.Duration, userAgent string) *HTTPTracker {
	return &HTTPTracker{
		rawURL:    rawURL,
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
	}
}

// URL returns the tracker's announce URL.
func (t *HTTPTracker) URL() string { return t.rawURL }

type httpAnnounceResponse struct {
	FailureReason string      `bencode:"failure reason"`
	Interval      int32       `bencode:"interval"`
	Peers         bencode.RawMessage `bencode:"peers"`
}

// Announce sends a GET request to the tracker and parses its bencoded reply.
func (t *HTTPTracker) Announce(req *AnnounceRequest) (*AnnounceResponse, error) {
	u, err := url.Parse(t.rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("info_hash", string(req.Torrent.InfoHash[:]))
	q.Set("peer_id", string(req.Torrent.PeerID[:]))
	q.Set("port", fmt.Sprintf("%d", req.Torrent.Port))
	q.Set("uploaded", fmt.Sprintf("%d", req.Torrent.BytesUploaded))
	q.Set("downloaded", fmt.Sprintf("%d", req.Torrent.BytesDownloaded))
	q.Set("left", fmt.Sprintf("%d", req.Torrent.BytesLeft))
	q.Set("compact", "1")
	if req.NumWant > 0 {
		q.Set("numwant", fmt.Sprintf("%d", req.NumWant))
	}
	if s := req.Event.String(); s != "" {
		q.Set("event", s)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var ar httpAnnounceResponse
	if err = bencode.DecodeBytes(b, &ar); err != nil {
		return nil, fmt.Errorf("cannot decode tracker response: %w", err)
	}
	if ar.FailureReason != "" {
		return nil, fmt.Errorf("tracker error: %s", ar.FailureReason)
	}
	peers, err := decodePeers(ar.Peers)
	if err != nil {
		return nil, err
	}
	return &AnnounceResponse{
		Interval: time.Duration(ar.Interval) * time.Second,
		Peers:    peers,
	}, nil
}

func decodePeers(raw bencode.RawMessage) ([]*net.TCPAddr, error) {
	var compact string
	if err := bencode.DecodeBytes(raw, &compact); err == nil {
		return unpackCompactPeers([]byte(compact)), nil
	}
	var dicts []struct {
		IP   string `bencode:"ip"`
		Port int    `bencode:"port"`
	}
	if err := bencode.DecodeBytes(raw, &dicts); err != nil {
		return nil, fmt.Errorf("cannot decode peers: %w", err)
	}
	addrs := make([]*net.TCPAddr, 0, len(dicts))
	for _, d := range dicts {
		ip := net.ParseIP(d.IP)
		if ip == nil {
			continue
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: d.Port})
	}
	return addrs, nil
}

func unpackCompactPeers(b []byte) []*net.TCPAddr {
	var addrs []*net.TCPAddr
	for len(b) >= 6 {
		ip := net.IPv4(b[0], b[1], b[2], b[3])
		port := int(b[4])<<8 | int(b[5])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: port})
		b = b[6:]
	}
	return addrs
}
