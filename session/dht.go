package session

import (
	"net"
	"sync"

	"github.com/nictuku/dht"
)

// dhtAnnouncer bridges one torrent to the session-wide DHT node: it
// registers/unregisters the torrent's info-hash in the session's pending
// peer-request set and forwards discovered peers to the torrent's event
// loop over peersC.
type dhtAnnouncer struct {
	node     *dht.DHT
	infoHash dht.InfoHash
	port     int
	peersC   chan []*net.TCPAddr

	session *Session

	mu      sync.Mutex
	wanting bool
}

// newDHTAnnouncer returns a dhtAnnouncer for infoHash, not yet requesting
// peers until NeedMorePeers(true) is called.
func newDHTAnnouncer(node *dht.DHT, infoHash []byte, port int) *dhtAnnouncer {
	return &dhtAnnouncer{
		node:     node,
		infoHash: dht.InfoHash(infoHash),
		port:     port,
		peersC:   make(chan []*net.TCPAddr),
	}
}

// NeedMorePeers registers (val=true) or unregisters (val=false) this
// torrent's info-hash as wanting a DHT peer lookup on the next tick.
func (d *dhtAnnouncer) NeedMorePeers(val bool) {
	if d == nil || d.session == nil {
		return
	}
	d.mu.Lock()
	d.wanting = val
	d.mu.Unlock()

	d.session.mPeerRequests.Lock()
	defer d.session.mPeerRequests.Unlock()
	if val {
		d.session.dhtPeerRequests[d.infoHash] = struct{}{}
	} else {
		delete(d.session.dhtPeerRequests, d.infoHash)
	}
}
