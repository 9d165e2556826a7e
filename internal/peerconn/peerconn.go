// Package peerconn wires a PeerReader and PeerWriter around one peer's
// net.Conn, exposing a single decoded-message channel and a send queue.
package peerconn

import (
	"net"
	"time"

	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/logger"
	"github.com/cenkalti/rain/internal/peerconn/peerreader"
	"github.com/cenkalti/rain/internal/peerconn/peerwriter"
	"github.com/cenkalti/rain/internal/peerprotocol"
	"github.com/cenkalti/rain/internal/ratelimit"
)

// Conn is a connected peer's framed message transport.
type Conn struct {
	conn          net.Conn
	id            [20]byte
	FastExtension bool
	LTEP          bool
	reader        *peerreader.PeerReader
	writer        *peerwriter.PeerWriter
	log           logger.Logger
	pieceTimeout  time.Duration
	closeC        chan struct{}
	closedC       chan struct{}
}

// New wraps conn, already past the handshake, with the negotiated
// extension bitfield (bit 61 = Fast, bit 43 = LTEP). downloadLimiter and
// uploadLimiter cap piece-data reads/writes; either may be nil for no cap.
func New(conn net.Conn, id [20]byte, extensions *bitfield.Bitfield, l logger.Logger, pieceTimeout time.Duration, readBufferSize int, downloadLimiter, uploadLimiter *ratelimit.Limiter) *Conn {
	fastExtension := extensions != nil && extensions.Test(peerprotocol.ExtensionBitFast)
	ltep := extensions != nil && extensions.Test(peerprotocol.ExtensionBitLTEP)
	return &Conn{
		conn:          conn,
		id:            id,
		FastExtension: fastExtension,
		LTEP:          ltep,
		reader:        peerreader.New(conn, l, fastExtension, ltep, downloadLimiter),
		writer:        peerwriter.New(conn, l, uploadLimiter),
		log:           l,
		pieceTimeout:  pieceTimeout,
		closeC:        make(chan struct{}),
		closedC:       make(chan struct{}),
	}
}

// ID returns the remote peer-id from the handshake.
func (c *Conn) ID() [20]byte { return c.id }

// Addr returns the remote TCP address.
func (c *Conn) Addr() *net.TCPAddr {
	if a, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return a
	}
	return nil
}

// IP returns the remote address as a string, used as a dedup key.
func (c *Conn) IP() string { return c.conn.RemoteAddr().String() }

func (c *Conn) String() string { return c.conn.RemoteAddr().String() }

// Logger returns this connection's logger.
func (c *Conn) Logger() logger.Logger { return c.log }

// Messages returns the channel of decoded messages (see peerreader.PeerReader.Messages).
func (c *Conn) Messages() <-chan interface{} { return c.reader.Messages() }

// SendMessage enqueues msg for writing.
func (c *Conn) SendMessage(msg peerprotocol.Message) { c.writer.SendMessage(msg) }

// SendPiece sends a piece message with the given block of data.
func (c *Conn) SendPiece(index, begin uint32, data []byte) {
	c.writer.SendMessage(pieceMessage{index: index, begin: begin, data: data})
}

type pieceMessage struct {
	index, begin uint32
	data         []byte
}

func (m pieceMessage) ID() peerprotocol.MessageID { return peerprotocol.Piece }
func (m pieceMessage) Payload() []byte {
	hdr := peerprotocol.PieceMessage{Index: m.index, Begin: m.begin}.Payload()
	out := make([]byte, len(hdr)+len(m.data))
	copy(out, hdr)
	copy(out[len(hdr):], m.data)
	return out
}

// CloseConn closes the underlying connection without waiting for the
// reader/writer goroutines (used when the handshake detects a duplicate
// before Run has started).
func (c *Conn) CloseConn() { c.conn.Close() }

// Close stops the reader/writer goroutines and closes the connection.
func (c *Conn) Close() {
	close(c.closeC)
	<-c.closedC
}

// Run starts the reader/writer goroutines and blocks until the connection
// closes, by any cause.
func (c *Conn) Run() {
	defer close(c.closedC)

	readerDone := make(chan struct{})
	go func() {
		c.reader.Run(c.closeC)
		close(readerDone)
	}()

	writerDone := make(chan struct{})
	go func() {
		c.writer.Run(c.closeC)
		close(writerDone)
	}()

	select {
	case <-c.closeC:
		c.conn.Close()
		<-readerDone
		<-writerDone
	case <-readerDone:
		c.conn.Close()
		<-writerDone
	case <-writerDone:
		c.conn.Close()
		<-readerDone
	}
}
