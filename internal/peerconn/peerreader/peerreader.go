// Package peerreader decodes length-prefixed peer wire frames from a
// net.Conn into peerprotocol messages, running in its own goroutine so the
// session event loop never blocks on peer I/O.
package peerreader

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/rain/internal/logger"
	"github.com/cenkalti/rain/internal/peerprotocol"
	"github.com/cenkalti/rain/internal/ratelimit"
)

// Piece is a decoded "piece" message: header plus the block bytes.
type Piece struct {
	peerprotocol.PieceMessage
	Data []byte
}

// PeerReader reads and decodes messages from conn until Run returns.
type PeerReader struct {
	conn              net.Conn
	log               logger.Logger
	fastExtension     bool
	extensionProtocol bool
	messages          chan interface{}
	pieceTimeout      time.Duration
	lastMessageAt     time.Time
	limiter           *ratelimit.Limiter
}

// New returns a PeerReader over conn. limiter may be nil for no cap.
func New(conn net.Conn, l logger.Logger, fastExtension, extensionProtocol bool, limiter *ratelimit.Limiter) *PeerReader {
	return &PeerReader{
		conn:              conn,
		log:               l,
		fastExtension:     fastExtension,
		extensionProtocol: extensionProtocol,
		messages:          make(chan interface{}),
		limiter:           limiter,
	}
}

// Messages returns the channel decoded messages are sent on. Values are one
// of: peerprotocol.{Choke,Unchoke,Interested,NotInterested,Have,Bitfield,
// Request,Cancel,Reject,Port,HaveAll,HaveNone,AllowedFast,Extension}Message
// or *Piece.
func (r *PeerReader) Messages() <-chan interface{} { return r.messages }

// LastMessageAt returns the time the most recent frame (including
// keep-alives) was fully read.
func (r *PeerReader) LastMessageAt() time.Time { return r.lastMessageAt }

// Run reads frames until closeC closes or an unrecoverable error occurs.
func (r *PeerReader) Run(closeC chan struct{}) {
	defer close(r.messages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-closeC:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		length, err := peerprotocol.ReadHeader(r.conn)
		if err != nil {
			return
		}
		r.lastMessageAt = time.Now()
		if length == 0 {
			continue // keep-alive
		}
		var idByte [1]byte
		if _, err = io.ReadFull(r.conn, idByte[:]); err != nil {
			return
		}
		id := peerprotocol.MessageID(idByte[0])
		payloadLen := int(length) - 1
		msg, err := r.readPayload(id, payloadLen)
		if err != nil {
			r.log.Errorln("cannot read peer message payload:", err)
			return
		}
		if msg == nil {
			continue
		}
		if p, ok := msg.(*Piece); ok && r.limiter != nil {
			if err := r.limiter.WaitN(ctx, len(p.Data)); err != nil {
				return
			}
		}
		select {
		case r.messages <- msg:
		case <-closeC:
			return
		}
	}
}

func (r *PeerReader) readPayload(id peerprotocol.MessageID, n int) (interface{}, error) {
	switch id {
	case peerprotocol.Choke:
		return peerprotocol.ChokeMessage{}, nil
	case peerprotocol.Unchoke:
		return peerprotocol.UnchokeMessage{}, nil
	case peerprotocol.Interested:
		return peerprotocol.InterestedMessage{}, nil
	case peerprotocol.NotInterested:
		return peerprotocol.NotInterestedMessage{}, nil
	case peerprotocol.HaveAll:
		return peerprotocol.HaveAllMessage{}, nil
	case peerprotocol.HaveNone:
		return peerprotocol.HaveNoneMessage{}, nil
	case peerprotocol.Have:
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		return peerprotocol.HaveMessage{Index: beUint32(b)}, nil
	case peerprotocol.Bitfield:
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		return peerprotocol.BitfieldMessage{Data: b}, nil
	case peerprotocol.Request:
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		return peerprotocol.RequestMessage{Index: beUint32(b[0:4]), Begin: beUint32(b[4:8]), Length: beUint32(b[8:12])}, nil
	case peerprotocol.Cancel:
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		return peerprotocol.CancelMessage{Index: beUint32(b[0:4]), Begin: beUint32(b[4:8]), Length: beUint32(b[8:12])}, nil
	case peerprotocol.Reject:
		if !r.fastExtension {
			return nil, fmt.Errorf("%w: reject without fast extension", peerprotocol.ErrProtocol)
		}
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		return peerprotocol.RejectMessage{Index: beUint32(b[0:4]), Begin: beUint32(b[4:8]), Length: beUint32(b[8:12])}, nil
	case peerprotocol.AllowedFast:
		if !r.fastExtension {
			return nil, fmt.Errorf("%w: allowed-fast without fast extension", peerprotocol.ErrProtocol)
		}
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		return peerprotocol.AllowedFastMessage{Index: beUint32(b)}, nil
	case peerprotocol.Port:
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		return peerprotocol.PortMessage{Port: uint16(b[0])<<8 | uint16(b[1])}, nil
	case peerprotocol.Piece:
		if n < 8 {
			return nil, fmt.Errorf("%w: piece message too short", peerprotocol.ErrProtocol)
		}
		hdr, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		data := make([]byte, n-8)
		if _, err = io.ReadFull(r.conn, data); err != nil {
			return nil, err
		}
		return &Piece{
			PieceMessage: peerprotocol.PieceMessage{Index: beUint32(hdr[0:4]), Begin: beUint32(hdr[4:8])},
			Data:         data,
		}, nil
	case peerprotocol.Extension:
		if !r.extensionProtocol {
			return nil, fmt.Errorf("%w: extension message without LTEP", peerprotocol.ErrProtocol)
		}
		b, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		if len(b) < 1 {
			return nil, fmt.Errorf("%w: empty extension message", peerprotocol.ErrProtocol)
		}
		return peerprotocol.ExtensionMessage{ExtendedMessageID: b[0], Payload: b[1:]}, nil
	default:
		// unknown IDs are dropped per spec
		_, err := r.readN(n)
		return nil, err
	}
}

func (r *PeerReader) readN(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(r.conn, b)
	return b, err
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
