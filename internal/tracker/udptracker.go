package tracker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"
)

const (
	udpProtocolMagic  uint64 = 0x41727101980
	udpActionConnect  int32  = 0
	udpActionAnnounce int32  = 1
	udpActionError    int32  = 3
)

// UDPTracker implements Tracker over BEP 15's UDP announce protocol.
type UDPTracker struct {
	rawURL  string
	addr    string
	timeout time.Duration
}

// NewUDPTracker returns a tracker client for a "udp://host:port/announce" URL.
func NewUDPTracker(rawURL, addr string, timeout time.Duration) *UDPTracker {
	return &UDPTracker{rawURL: rawURL, addr: addr, timeout: timeout}
}

// URL returns the tracker's announce URL.
func (t *UDPTracker) URL() string { return t.rawURL }

// Announce performs the connect+announce handshake over a single UDP socket.
func (t *UDPTracker) Announce(req *AnnounceRequest) (*AnnounceResponse, error) {
	conn, err := net.DialTimeout("udp", t.addr, t.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(t.timeout))

	connID, err := t.connect(conn)
	if err != nil {
		return nil, err
	}
	return t.announce(conn, connID, req)
}

func (t *UDPTracker) connect(conn net.Conn) (uint64, error) {
	txID := rand.Uint32()
	var req [16]byte
	binary.BigEndian.PutUint64(req[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(req[8:12], uint32(udpActionConnect))
	binary.BigEndian.PutUint32(req[12:16], txID)
	if _, err := conn.Write(req[:]); err != nil {
		return 0, err
	}
	var resp [16]byte
	n, err := conn.Read(resp[:])
	if err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, errors.New("udp tracker: short connect response")
	}
	action := int32(binary.BigEndian.Uint32(resp[0:4]))
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != txID {
		return 0, errors.New("udp tracker: transaction id mismatch")
	}
	if action != udpActionConnect {
		return 0, fmt.Errorf("udp tracker: unexpected action %d", action)
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func (t *UDPTracker) announce(conn net.Conn, connID uint64, req *AnnounceRequest) (*AnnounceResponse, error) {
	txID := rand.Uint32()
	var key uint32 = rand.Uint32()
	buf := make([]byte, 98)
	binary.BigEndian.PutUint64(buf[0:8], connID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(udpActionAnnounce))
	binary.BigEndian.PutUint32(buf[12:16], txID)
	copy(buf[16:36], req.Torrent.InfoHash[:])
	copy(buf[36:56], req.Torrent.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], uint64(req.Torrent.BytesDownloaded))
	binary.BigEndian.PutUint64(buf[64:72], uint64(req.Torrent.BytesLeft))
	binary.BigEndian.PutUint64(buf[72:80], uint64(req.Torrent.BytesUploaded))
	binary.BigEndian.PutUint32(buf[80:84], uint32(req.Event))
	binary.BigEndian.PutUint32(buf[84:88], 0) // IP, 0 = tracker decides
	binary.BigEndian.PutUint32(buf[88:92], key)
	numWant := int32(-1)
	if req.NumWant > 0 {
		numWant = int32(req.NumWant)
	}
	binary.BigEndian.PutUint32(buf[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(buf[96:98], uint16(req.Torrent.Port))

	if _, err := conn.Write(buf); err != nil {
		return nil, err
	}
	resp := make([]byte, 20+6*200)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, errors.New("udp tracker: short announce response")
	}
	action := int32(binary.BigEndian.Uint32(resp[0:4]))
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != txID {
		return nil, errors.New("udp tracker: transaction id mismatch")
	}
	if action == udpActionError {
		return nil, fmt.Errorf("udp tracker error: %s", string(resp[8:n]))
	}
	if action != udpActionAnnounce {
		return nil, fmt.Errorf("udp tracker: unexpected action %d", action)
	}
	interval := binary.BigEndian.Uint32(resp[8:12])
	leechers := binary.BigEndian.Uint32(resp[12:16])
	seeders := binary.BigEndian.Uint32(resp[16:20])
	peers := unpackCompactPeers(resp[20:n])
	return &AnnounceResponse{
		Interval: time.Duration(interval) * time.Second,
		Leechers: int32(leechers),
		Seeders:  int32(seeders),
		Peers:    peers,
	}, nil
}
