// Package pex tracks the peer addresses to announce to one connected peer
// over the ut_pex extension (BEP 11).
package pex

import (
	"net"

	"github.com/cenkalti/rain/internal/peerprotocol"
)

// PEX accumulates peer addresses added to and dropped from the swarm since
// the last Flush, for inclusion in the next message sent to one peer.
type PEX struct {
	added   map[string]*net.TCPAddr
	dropped map[string]*net.TCPAddr
}

// New returns an empty accumulator.
func New() *PEX {
	return &PEX{
		added:   make(map[string]*net.TCPAddr),
		dropped: make(map[string]*net.TCPAddr),
	}
}

// Add records that addr joined the swarm.
func (p *PEX) Add(addr interface{}) {
	a, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	key := a.String()
	delete(p.dropped, key)
	p.added[key] = a
}

// Drop records that addr left the swarm.
func (p *PEX) Drop(addr interface{}) {
	a, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	key := a.String()
	delete(p.added, key)
	p.dropped[key] = a
}

// Flush builds the ut_pex message for everything accumulated since the
// previous call and resets the accumulator. ok is false when there is
// nothing new to report.
func (p *PEX) Flush() (m peerprotocol.ExtensionPEXMessage, ok bool) {
	if len(p.added) == 0 && len(p.dropped) == 0 {
		return m, false
	}
	m.Added = peerprotocol.PackPeerAddrs(addrs(p.added))
	m.Dropped = peerprotocol.PackPeerAddrs(addrs(p.dropped))
	p.added = make(map[string]*net.TCPAddr)
	p.dropped = make(map[string]*net.TCPAddr)
	return m, true
}

func addrs(m map[string]*net.TCPAddr) []*net.TCPAddr {
	out := make([]*net.TCPAddr, 0, len(m))
	for _, a := range m {
		if len(out) >= peerprotocol.PEXMaxPeers {
			break
		}
		out = append(out, a)
	}
	return out
}
