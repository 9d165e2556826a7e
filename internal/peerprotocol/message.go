// Package peerprotocol implements the BitTorrent peer wire message codec:
// handshake-following, length-prefixed frames (BEP 3), the Fast extension
// (BEP 6) and the extension protocol (BEP 10/11).
package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageID identifies the kind of a peer wire message.
type MessageID byte

// Message IDs used by the core, per BEP 3, BEP 6 and BEP 10.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
	SuggestPiece  MessageID = 13
	HaveAll       MessageID = 14
	HaveNone      MessageID = 15
	Reject        MessageID = 16
	AllowedFast   MessageID = 17
	Extension     MessageID = 20
)

// MaxMessageSize bounds a single frame; bigger frames fail the session.
const MaxMessageSize = 16*1024 + 9

// ErrProtocol marks a valid-but-rule-violating frame.
var ErrProtocol = errors.New("protocol error")

// Message is implemented by all wire messages; ID identifies the kind and
// Payload serializes to the bytes following the length+ID header.
type Message interface {
	ID() MessageID
	Payload() []byte
}

type simpleMessage struct{ id MessageID }

func (m simpleMessage) ID() MessageID   { return m.id }
func (m simpleMessage) Payload() []byte { return nil }

// ChokeMessage, UnchokeMessage, InterestedMessage, NotInterestedMessage,
// HaveAllMessage and HaveNoneMessage carry no payload.
type (
	ChokeMessage         struct{}
	UnchokeMessage       struct{}
	InterestedMessage    struct{}
	NotInterestedMessage struct{}
	HaveAllMessage       struct{}
	HaveNoneMessage      struct{}
)

func (ChokeMessage) ID() MessageID         { return Choke }
func (ChokeMessage) Payload() []byte       { return nil }
func (UnchokeMessage) ID() MessageID       { return Unchoke }
func (UnchokeMessage) Payload() []byte     { return nil }
func (InterestedMessage) ID() MessageID    { return Interested }
func (InterestedMessage) Payload() []byte  { return nil }
func (NotInterestedMessage) ID() MessageID { return NotInterested }
func (NotInterestedMessage) Payload() []byte { return nil }
func (HaveAllMessage) ID() MessageID       { return HaveAll }
func (HaveAllMessage) Payload() []byte     { return nil }
func (HaveNoneMessage) ID() MessageID      { return HaveNone }
func (HaveNoneMessage) Payload() []byte    { return nil }

// HaveMessage announces ownership of a single piece.
type HaveMessage struct{ Index uint32 }

func (m HaveMessage) ID() MessageID { return Have }
func (m HaveMessage) Payload() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b
}

// BitfieldMessage announces ownership of all pieces, as a bitfield.
type BitfieldMessage struct{ Data []byte }

func (m BitfieldMessage) ID() MessageID   { return Bitfield }
func (m BitfieldMessage) Payload() []byte { return m.Data }

// RequestMessage asks for a block of a piece.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (m RequestMessage) ID() MessageID { return Request }
func (m RequestMessage) Payload() []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return b
}

// CancelMessage cancels a previously sent RequestMessage.
type CancelMessage RequestMessage

func (m CancelMessage) ID() MessageID    { return Cancel }
func (m CancelMessage) Payload() []byte  { return RequestMessage(m).Payload() }

// RejectMessage rejects a request under the Fast extension (BEP 6).
type RejectMessage RequestMessage

func (m RejectMessage) ID() MessageID   { return Reject }
func (m RejectMessage) Payload() []byte { return RequestMessage(m).Payload() }

// AllowedFastMessage announces a piece allowed to be requested while
// choked, under the Fast extension (BEP 6).
type AllowedFastMessage struct{ Index uint32 }

func (m AllowedFastMessage) ID() MessageID { return AllowedFast }
func (m AllowedFastMessage) Payload() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b
}

// PieceMessage header; the block payload follows it on the wire
// (peerconn appends the block bytes to this header when sending a piece).
type PieceMessage struct {
	Index, Begin uint32
}

func (m PieceMessage) ID() MessageID { return Piece }
func (m PieceMessage) Payload() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	return b
}

// PortMessage announces a DHT node listening port (BEP 5).
type PortMessage struct{ Port uint16 }

func (m PortMessage) ID() MessageID { return Port }
func (m PortMessage) Payload() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, m.Port)
	return b
}

// WriteMessage writes a length-prefixed frame for msg to w.
func WriteMessage(w io.Writer, msg Message) error {
	payload := msg.Payload()
	length := uint32(1 + len(payload))
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], length)
	header[4] = byte(msg.ID())
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

// WriteKeepAlive writes a zero-length keep-alive frame.
func WriteKeepAlive(w io.Writer) error {
	_, err := w.Write([]byte{0, 0, 0, 0})
	return err
}

// ReadHeader reads the 4-byte length prefix. A return of (0, nil) is a
// keep-alive.
func ReadHeader(r io.Reader) (length uint32, err error) {
	var b [4]byte
	if _, err = io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	length = binary.BigEndian.Uint32(b[:])
	if length > MaxMessageSize {
		return 0, fmt.Errorf("%w: message too large (%d bytes)", ErrProtocol, length)
	}
	return length, nil
}
