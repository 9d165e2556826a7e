package pex

import (
	"net"
	"testing"

	"github.com/cenkalti/rain/internal/peerprotocol"
	"github.com/stretchr/testify/require"
)

func addr(s string) *net.TCPAddr {
	a, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestFlushEmpty(t *testing.T) {
	p := New()
	_, ok := p.Flush()
	require.False(t, ok)
}

func TestFlushAddedAndDropped(t *testing.T) {
	r := require.New(t)
	p := New()
	p.Add(addr("1.2.3.4:1000"))
	p.Add(addr("5.6.7.8:2000"))
	p.Drop(addr("9.9.9.9:3000"))

	msg, ok := p.Flush()
	r.True(ok)

	added := peerprotocol.UnpackPeerAddrs(msg.Added)
	r.Len(added, 2)
	dropped := peerprotocol.UnpackPeerAddrs(msg.Dropped)
	r.Len(dropped, 1)
	r.Equal("9.9.9.9", dropped[0].IP.String())

	// State resets after a flush.
	_, ok = p.Flush()
	r.False(ok)
}

func TestDropCancelsPendingAdd(t *testing.T) {
	r := require.New(t)
	p := New()
	a := addr("1.2.3.4:1000")
	p.Add(a)
	p.Drop(a)

	msg, ok := p.Flush()
	r.True(ok)
	r.Empty(peerprotocol.UnpackPeerAddrs(msg.Added))
	r.Len(peerprotocol.UnpackPeerAddrs(msg.Dropped), 1)
}

func TestAddIgnoresNonTCPAddr(t *testing.T) {
	p := New()
	p.Add("not a tcp addr")
	_, ok := p.Flush()
	require.False(t, ok)
}
