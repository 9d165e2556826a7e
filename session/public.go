package session

import (
	"crypto/rand"
	"crypto/sha1" // nolint: gosec
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/rain/internal/acceptor"
	"github.com/cenkalti/rain/internal/addrlist"
	"github.com/cenkalti/rain/internal/allocator"
	"github.com/cenkalti/rain/internal/announcer"
	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/blocklist"
	"github.com/cenkalti/rain/internal/handshaker/incominghandshaker"
	"github.com/cenkalti/rain/internal/handshaker/outgoinghandshaker"
	"github.com/cenkalti/rain/internal/infodownloader"
	"github.com/cenkalti/rain/internal/logger"
	"github.com/cenkalti/rain/internal/metainfo"
	"github.com/cenkalti/rain/internal/peer"
	"github.com/cenkalti/rain/internal/piecedownloader"
	"github.com/cenkalti/rain/internal/piececache"
	"github.com/cenkalti/rain/internal/piecewriter"
	"github.com/cenkalti/rain/internal/ratelimit"
	"github.com/cenkalti/rain/internal/resumer"
	"github.com/cenkalti/rain/internal/storage"
	"github.com/cenkalti/rain/internal/tracker"
	"github.com/cenkalti/rain/internal/verifier"
	metrics "github.com/rcrowley/go-metrics"
)

var errInvalidInfoHash = errors.New("invalid info hash length")

type statsRequest struct {
	Response chan Stats
}

type trackersRequest struct {
	Response chan []Tracker
}

type peersRequest struct {
	Response chan []Peer
}

type notifyErrorCommand struct {
	errCC chan chan error
}

type notifyListenCommand struct {
	portCC chan chan int
}

type verifyRequestCmd struct{}

type setPriorityCommand struct {
	fileIndices []int
	priority    Priority
	Response    chan error
}

type setWantedCommand struct {
	fileIndices []int
	wanted      bool
	Response    chan error
}

type moveDataCommand struct {
	path     string
	Response chan error
}

// options collects everything needed to build a running *torrent: trackers,
// resume state, encryption policy and the optional DHT/info/bitfield a
// caller already knows (resumed torrents, or torrents added by magnet link).
type options struct {
	Name        string
	Port        int
	Trackers    []tracker.Tracker
	Resumer     resumer.Resumer
	Blocklist   *blocklist.Blocklist
	Config      *Config
	Stats       resumer.Stats
	Info        *metainfo.Info
	Bitfield    *bitfield.Bitfield
	DHT         *dhtAnnouncer
	VerifyQueue *verifyQueue
}

// NewTorrent wires up a *torrent: every channel, map and sub-worker the
// event loop in run() expects, then starts the loop in its own goroutine.
// The torrent starts paused; the caller must call Start() to begin dialing
// peers and allocating files.
func (o *options) NewTorrent(infoHash []byte, sto storage.Storage) (*torrent, error) {
	if len(infoHash) != 20 {
		return nil, errInvalidInfoHash
	}
	var peerID [20]byte
	copy(peerID[:], "-RA0001-")
	if _, err := rand.Read(peerID[8:]); err != nil {
		return nil, err
	}

	t := &torrent{
		config:   *o.Config,
		name:     o.Name,
		storage:  sto,
		port:     o.Port,
		resume:   o.Resumer,
		info:     o.Info,
		bitfield: o.Bitfield,
		trackers: o.Trackers,
		peerID:   peerID,

		verifyQueue: o.VerifyQueue,

		peerDisconnectedC:         make(chan *peer.Peer),
		pieceMessages:             make(chan peer.PieceMessage),
		messages:                  make(chan peer.Message),
		peers:                     make(map[*peer.Peer]struct{}),
		incomingPeers:             make(map[*peer.Peer]struct{}),
		outgoingPeers:             make(map[*peer.Peer]struct{}),
		peersSnubbed:              make(map[*peer.Peer]struct{}),
		pieceDownloaders:          make(map[*peer.Peer]*piecedownloader.PieceDownloader),
		pieceDownloadersSnubbed:   make(map[*peer.Peer]*piecedownloader.PieceDownloader),
		pieceDownloadersChoked:    make(map[*peer.Peer]*piecedownloader.PieceDownloader),
		peerSnubbedC:              make(chan *peer.Peer),
		infoDownloaders:           make(map[*peer.Peer]*infodownloader.InfoDownloader),
		infoDownloadersSnubbed:    make(map[*peer.Peer]*infodownloader.InfoDownloader),
		pieceWriterResultC:        make(chan *piecewriter.PieceWriter),
		completeC:                 make(chan struct{}),
		errC:                      make(chan error),
		portC:                     make(chan int, 1),
		closeC:                    make(chan chan struct{}),
		statsCommandC:             make(chan statsRequest),
		trackersCommandC:          make(chan trackersRequest),
		peersCommandC:             make(chan peersRequest),
		startCommandC:             make(chan struct{}),
		stopCommandC:              make(chan struct{}),
		notifyErrorCommandC:       make(chan notifyErrorCommand),
		notifyListenCommandC:      make(chan notifyListenCommand),
		addPeersCommandC:          make(chan []*net.TCPAddr),
		verifyCommandC:            make(chan verifyRequestCmd),
		setPriorityCommandC:       make(chan setPriorityCommand),
		setWantedCommandC:         make(chan setWantedCommand),
		moveDataCommandC:          make(chan moveDataCommand),
		addrsFromTrackers:         make(chan []*net.TCPAddr),
		addrList:                  addrlist.New(200),
		incomingConnC:             make(chan net.Conn),
		peerIDs:                  make(map[[20]byte]struct{}),
		incomingHandshakers:       make(map[*incominghandshaker.IncomingHandshaker]struct{}),
		outgoingHandshakers:       make(map[*outgoinghandshaker.OutgoingHandshaker]struct{}),
		incomingHandshakerResultC: make(chan *incominghandshaker.IncomingHandshaker),
		outgoingHandshakerResultC: make(chan *outgoinghandshaker.OutgoingHandshaker),
		announcerRequestC:         make(chan *announcer.Request),
		allocatorProgressC:        make(chan allocator.Progress),
		allocatorResultC:          make(chan *allocator.Allocator),
		verifierProgressC:         make(chan verifier.Progress),
		verifierResultC:           make(chan *verifier.Verifier),
		resumerStats:              o.Stats,
		connectedPeerIPs:          make(map[string]struct{}),
		announcersStoppedC:        make(chan struct{}),
		pieceCache:                piececache.New(64 * 1024 * 1024),
		blocklist:                 o.Blocklist,
		downloadSpeed:             metrics.NewEWMA1(),
		uploadSpeed:               metrics.NewEWMA1(),
		downloadLimiter:           ratelimit.New(o.Config.MaxPeerDownloadSpeed),
		uploadLimiter:             ratelimit.New(o.Config.MaxPeerUploadSpeed),
		dhtPeersC:                 make(chan []*net.TCPAddr),
		piecePool:                 sync.Pool{},
		log:                       logger.New("torrent " + o.Name),
	}
	copy(t.infoHash[:], infoHash)
	t.sKeyHash = sha1.Sum(infoHash) //nolint:gosec

	if o.DHT != nil {
		t.dhtAnnouncer = o.DHT
		t.dhtPeersC = o.DHT.peersC
	}

	for _, tr := range o.Trackers {
		an := announcer.New(tr, 50, time.Minute, t.announcerRequestC, t.addrsFromTrackers, t.log)
		t.announcers = append(t.announcers, an)
	}

	t.unchokeTimer = time.NewTicker(10 * time.Second)
	t.unchokeTimerC = t.unchokeTimer.C
	t.optimisticUnchokeTimer = time.NewTicker(30 * time.Second)
	t.optimisticUnchokeTimerC = t.optimisticUnchokeTimer.C
	t.statsWriteTicker = time.NewTicker(o.Config.StatsWriteInterval)
	t.statsWriteTickerC = t.statsWriteTicker.C
	t.speedCounterTicker = time.NewTicker(o.Config.SpeedCounterTickInterval)
	t.speedCounterTickerC = t.speedCounterTicker.C
	if o.Config.PEXEnabled {
		t.pexTimer = time.NewTicker(1 * time.Minute)
		t.pexTimerC = t.pexTimer.C
	}

	if o.Config.PortBegin != 0 {
		a, err := acceptor.New(net.JoinHostPort("", strconv.Itoa(o.Port)), t.incomingConnC, t.log)
		if err != nil {
			return nil, err
		}
		t.acceptor = a
		go t.acceptor.Run()
		t.portC <- a.Port()
	}

	go t.run()
	return t, nil
}

// Start begins dialing peers, announcing to trackers/DHT and allocating
// files, asynchronously.
func (t *torrent) Start() error {
	t.startCommandC <- struct{}{}
	return nil
}

// Stop halts announcing and disconnects peers, without closing the torrent
// for good; it may be Start()ed again.
func (t *torrent) Stop() error {
	t.stopCommandC <- struct{}{}
	return nil
}

// Close stops the torrent for good and waits for its event loop to exit.
func (t *torrent) Close() error {
	doneC := make(chan struct{})
	t.closeC <- doneC
	<-doneC
	return nil
}

// NotifyError returns a channel that receives at most one error: the
// reason the torrent stopped, or nil if it was a clean Stop().
func (t *torrent) NotifyError() chan error {
	errCC := make(chan chan error)
	t.notifyErrorCommandC <- notifyErrorCommand{errCC: errCC}
	return <-errCC
}

// NotifyListen returns a channel that receives the listening port once the
// acceptor has started, or nil if the torrent isn't listening.
func (t *torrent) NotifyListen() chan int {
	portCC := make(chan chan int)
	t.notifyListenCommandC <- notifyListenCommand{portCC: portCC}
	return <-portCC
}

// AddPeers manually seeds the dial queue with addrs.
func (t *torrent) AddPeers(addrs []*net.TCPAddr) {
	t.addPeersCommandC <- addrs
}

// Stats returns a snapshot of the torrent's current progress.
func (t *torrent) Stats() Stats {
	req := statsRequest{Response: make(chan Stats, 1)}
	t.statsCommandC <- req
	return <-req.Response
}

// Trackers returns the torrent's configured trackers.
func (t *torrent) Trackers() []Tracker {
	req := trackersRequest{Response: make(chan []Tracker, 1)}
	t.trackersCommandC <- req
	return <-req.Response
}

// Peers returns the torrent's currently connected peers.
func (t *torrent) Peers() []Peer {
	req := peersRequest{Response: make(chan []Peer, 1)}
	t.peersCommandC <- req
	return <-req.Response
}

// Verify schedules a fresh hash-check of every piece against the data
// already on disk, re-syncing the have-bitfield with reality.
func (t *torrent) Verify() {
	t.verifyCommandC <- verifyRequestCmd{}
}

// SetPriority sets the download priority of the given files, identified by
// their index into the manifest's file list.
func (t *torrent) SetPriority(fileIndices []int, priority Priority) error {
	req := setPriorityCommand{fileIndices: fileIndices, priority: priority, Response: make(chan error, 1)}
	t.setPriorityCommandC <- req
	return <-req.Response
}

// SetWanted marks the given files, identified by their index into the
// manifest's file list, as wanted or not wanted.
func (t *torrent) SetWanted(fileIndices []int, wanted bool) error {
	req := setWantedCommand{fileIndices: fileIndices, wanted: wanted, Response: make(chan error, 1)}
	t.setWantedCommandC <- req
	return <-req.Response
}

// MoveData relocates the torrent's on-disk files to newPath.
func (t *torrent) MoveData(newPath string) error {
	req := moveDataCommand{path: newPath, Response: make(chan error, 1)}
	t.moveDataCommandC <- req
	return <-req.Response
}

// Torrent is the public handle returned by Session for a torrent under
// management: it pairs the internal event-loop-driven *torrent with the
// session-visible bookkeeping (assigned port, resume-db id, DHT bridge).
type Torrent struct {
	session      *Session
	torrent      *torrent
	id           string
	port         uint16
	createdAt    time.Time
	dhtAnnouncer *dhtAnnouncer
	removed      chan struct{}
}

// ID is the opaque identifier this torrent is stored under in the resume db.
func (t *Torrent) ID() string { return t.id }

// Name returns the torrent's name, as parsed from the manifest or magnet.
func (t *Torrent) Name() string { return t.torrent.Name() }

// InfoHash returns the 20-byte SHA-1 identity of the torrent's files.
func (t *Torrent) InfoHash() []byte { return t.torrent.InfoHash() }

// Port is the TCP port this torrent listens for incoming peers on.
func (t *Torrent) Port() int { return t.torrent.port }

// CreatedAt is when this torrent was added to the session.
func (t *Torrent) CreatedAt() time.Time { return t.createdAt }

// Start begins downloading/seeding.
func (t *Torrent) Start() error { return t.torrent.Start() }

// Stop pauses downloading/seeding without forgetting the torrent.
func (t *Torrent) Stop() error { return t.torrent.Stop() }

// Close stops the torrent for good.
func (t *Torrent) Close() error { return t.torrent.Close() }

// Stats returns a snapshot of current progress and rates.
func (t *Torrent) Stats() Stats { return t.torrent.Stats() }

// Trackers returns the torrent's trackers.
func (t *Torrent) Trackers() []Tracker { return t.torrent.Trackers() }

// Peers returns the torrent's currently connected peers.
func (t *Torrent) Peers() []Peer { return t.torrent.Peers() }

// NotifyError returns a channel that fires once with the torrent's
// terminal error, or nil on a clean stop.
func (t *Torrent) NotifyError() chan error { return t.torrent.NotifyError() }

// Verify schedules a fresh hash-check of the torrent's on-disk data.
func (t *Torrent) Verify() { t.torrent.Verify() }

// SetPriority sets the download priority of the given files, identified by
// their index into the manifest's file list.
func (t *Torrent) SetPriority(fileIndices []int, priority Priority) error {
	return t.torrent.SetPriority(fileIndices, priority)
}

// SetWanted marks the given files as wanted or not wanted for download.
func (t *Torrent) SetWanted(fileIndices []int, wanted bool) error {
	return t.torrent.SetWanted(fileIndices, wanted)
}

// MoveData (aka set_location) relocates the torrent's on-disk files.
func (t *Torrent) MoveData(newPath string) error { return t.torrent.MoveData(newPath) }

// SetLocation is an alias for MoveData, matching the control-interface
// naming used elsewhere in the spec.
func (t *Torrent) SetLocation(newPath string) error { return t.torrent.MoveData(newPath) }
