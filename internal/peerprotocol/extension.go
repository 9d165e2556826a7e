package peerprotocol

import (
	"net"

	"github.com/zeebo/bencode"
)

// Reserved extension bit positions (within the 8 reserved handshake bytes,
// numbered as in internal/bitfield: bit 0 is the most significant bit of
// the first byte).
const (
	ExtensionBitFast = 61 // BEP 6
	ExtensionBitLTEP = 43 // BEP 10
	ExtensionBitDHT  = 63 // BEP 5
)

// Local extension IDs (sent in our own `m` dictionary); the peer echoes
// back whatever id it wants us to use for its messages.
const (
	ExtensionIDHandshake = 0
)

// IDs we assign to extensions in our own outgoing handshake. An incoming
// extended message's ExtendedMessageID is matched against these, not
// against the sender's handshake (that one only says what id to use when
// sending to them).
const (
	ExtensionIDMetadata = 1
	ExtensionIDPEX      = 2
)

// Extension names recognized by the core.
const (
	ExtensionKeyMetadata = "ut_metadata"
	ExtensionKeyPEX      = "ut_pex"
)

// ExtensionMessage is message ID 20 (LTEP): ExtendedMessageID selects the
// per-peer subtype and Payload is bencode-encoded.
type ExtensionMessage struct {
	ExtendedMessageID uint8
	Payload           interface{}
}

func (m ExtensionMessage) ID() MessageID { return Extension }

// PayloadBytes bencode-encodes the extension handshake/body and prefixes
// the per-message extended-id byte.
func (m ExtensionMessage) PayloadBytes() ([]byte, error) {
	b, err := bencode.EncodeBytes(m.Payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(b))
	out[0] = m.ExtendedMessageID
	copy(out[1:], b)
	return out, nil
}

func (m ExtensionMessage) Payload() []byte {
	b, err := m.PayloadBytes()
	if err != nil {
		return nil
	}
	return b
}

// ExtensionHandshakeMessage is the bencoded body of extended message 0.
type ExtensionHandshakeMessage struct {
	M            map[string]uint8 `bencode:"m"`
	V            string           `bencode:"v"`
	Port         uint16           `bencode:"p,omitempty"`
	MetadataSize uint32           `bencode:"metadata_size,omitempty"`
	YourIP       string           `bencode:"yourip,omitempty"`
}

// NewExtensionHandshake builds the extended handshake we send to every peer.
func NewExtensionHandshake(metadataSize uint32, clientVersion string, yourIP net.IP) *ExtensionHandshakeMessage {
	m := &ExtensionHandshakeMessage{
		M: map[string]uint8{
			ExtensionKeyMetadata: ExtensionIDMetadata,
			ExtensionKeyPEX:      ExtensionIDPEX,
		},
		V:            clientVersion,
		MetadataSize: metadataSize,
	}
	if yourIP != nil {
		m.YourIP = string(yourIP.To4())
	}
	return m
}

// Metadata extension (ut_metadata, BEP 9) message types.
const (
	ExtensionMetadataMessageTypeRequest = 0
	ExtensionMetadataMessageTypeData    = 1
	ExtensionMetadataMessageTypeReject  = 2
)

// ExtensionMetadataMessage is the bencoded dict preceding a metadata piece.
type ExtensionMetadataMessage struct {
	Type      int `bencode:"msg_type"`
	Piece     uint32 `bencode:"piece"`
	TotalSize int    `bencode:"total_size,omitempty"`
}

// ExtensionMetadataDataMessage is a ut_metadata "data" reply: the bencoded
// header immediately followed by the raw piece bytes, which are not part
// of the bencode structure itself.
type ExtensionMetadataDataMessage struct {
	ExtendedMessageID uint8
	Header            ExtensionMetadataMessage
	Data              []byte
}

func (m ExtensionMetadataDataMessage) ID() MessageID { return Extension }

func (m ExtensionMetadataDataMessage) Payload() []byte {
	hdr, err := bencode.EncodeBytes(&m.Header)
	if err != nil {
		return nil
	}
	out := make([]byte, 1+len(hdr)+len(m.Data))
	out[0] = m.ExtendedMessageID
	n := copy(out[1:], hdr)
	copy(out[1+n:], m.Data)
	return out
}

// ExtensionPEXMessage (ut_pex, BEP 11): added/dropped peers as packed
// 6-byte (IPv4+port) strings.
type ExtensionPEXMessage struct {
	Added   string `bencode:"added"`
	AddedF  string `bencode:"added.f,omitempty"`
	Dropped string `bencode:"dropped"`
}

// PEXMaxPeers is the cutoff past which we stop sending PEX additions.
const PEXMaxPeers = 50

// PackPeerAddrs encodes addrs as packed 6-byte compact peer strings.
func PackPeerAddrs(addrs []*net.TCPAddr) string {
	b := make([]byte, 0, 6*len(addrs))
	for _, a := range addrs {
		ip4 := a.IP.To4()
		if ip4 == nil {
			continue
		}
		b = append(b, ip4...)
		b = append(b, byte(a.Port>>8), byte(a.Port))
	}
	return string(b)
}

// UnpackPeerAddrs decodes a packed compact peer list (BEP 23).
func UnpackPeerAddrs(s string) []*net.TCPAddr {
	var addrs []*net.TCPAddr
	b := []byte(s)
	for len(b) >= 6 {
		ip := net.IPv4(b[0], b[1], b[2], b[3])
		port := int(b[4])<<8 | int(b[5])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: port})
		b = b[6:]
	}
	return addrs
}
