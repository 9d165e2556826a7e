package peerprotocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func TestNewExtensionHandshake(t *testing.T) {
	r := require.New(t)

	h := NewExtensionHandshake(12345, "rain/test", net.ParseIP("1.2.3.4"))
	r.EqualValues(ExtensionIDMetadata, h.M[ExtensionKeyMetadata])
	r.EqualValues(ExtensionIDPEX, h.M[ExtensionKeyPEX])
	r.EqualValues(12345, h.MetadataSize)
	r.Equal("rain/test", h.V)
	r.Equal(net.ParseIP("1.2.3.4").To4(), net.IP(h.YourIP))
}

func TestNewExtensionHandshakeNoYourIP(t *testing.T) {
	h := NewExtensionHandshake(0, "rain/test", nil)
	require.Empty(t, h.YourIP)
}

func TestExtensionHandshakeRoundTrip(t *testing.T) {
	r := require.New(t)

	h := NewExtensionHandshake(42, "rain/test", nil)
	b, err := bencode.EncodeBytes(h)
	r.NoError(err)

	var h2 ExtensionHandshakeMessage
	r.NoError(bencode.DecodeBytes(b, &h2))
	r.Equal(*h, h2)
}

func TestExtensionMessagePayloadBytes(t *testing.T) {
	r := require.New(t)

	msg := ExtensionMessage{
		ExtendedMessageID: ExtensionIDHandshake,
		Payload:           NewExtensionHandshake(7, "x", nil),
	}
	p := msg.Payload()
	r.NotEmpty(p)
	r.EqualValues(ExtensionIDHandshake, p[0])

	var h ExtensionHandshakeMessage
	r.NoError(bencode.DecodeBytes(p[1:], &h))
	r.EqualValues(7, h.MetadataSize)
}

func TestExtensionMetadataDataMessagePayload(t *testing.T) {
	r := require.New(t)

	data := []byte("some raw metadata piece bytes")
	m := ExtensionMetadataDataMessage{
		ExtendedMessageID: 5,
		Header: ExtensionMetadataMessage{
			Type:      ExtensionMetadataMessageTypeData,
			Piece:     3,
			TotalSize: 1000,
		},
		Data: data,
	}
	p := m.Payload()
	r.EqualValues(5, p[0])

	// The trailing len(data) bytes are the raw piece, untouched by bencode.
	r.Equal(data, p[len(p)-len(data):])

	// The leading bytes up to there decode as the header dict.
	var hdr ExtensionMetadataMessage
	r.NoError(bencode.DecodeBytes(p[1:len(p)-len(data)], &hdr))
	r.Equal(m.Header, hdr)
}

func TestExtensionPEXMessageRoundTrip(t *testing.T) {
	r := require.New(t)

	addrs := []*net.TCPAddr{
		{IP: net.ParseIP("10.0.0.1"), Port: 6881},
		{IP: net.ParseIP("10.0.0.2"), Port: 6882},
	}
	msg := ExtensionPEXMessage{
		Added:   PackPeerAddrs(addrs),
		Dropped: PackPeerAddrs(addrs[:1]),
	}
	b, err := bencode.EncodeBytes(&msg)
	r.NoError(err)

	var msg2 ExtensionPEXMessage
	r.NoError(bencode.DecodeBytes(b, &msg2))

	added := UnpackPeerAddrs(msg2.Added)
	r.Len(added, 2)
	r.Equal("10.0.0.1", added[0].IP.String())
	r.Equal(6881, added[0].Port)

	dropped := UnpackPeerAddrs(msg2.Dropped)
	r.Len(dropped, 1)
}

func TestPackUnpackPeerAddrsIgnoresNonIPv4(t *testing.T) {
	addrs := []*net.TCPAddr{
		{IP: net.ParseIP("::1"), Port: 1},
		{IP: net.ParseIP("192.168.1.1"), Port: 2},
	}
	packed := PackPeerAddrs(addrs)
	unpacked := UnpackPeerAddrs(packed)
	require.Len(t, unpacked, 1)
	require.Equal(t, "192.168.1.1", unpacked[0].IP.String())
}

func TestUnpackPeerAddrsTruncated(t *testing.T) {
	require.Empty(t, UnpackPeerAddrs("abc"))
}
