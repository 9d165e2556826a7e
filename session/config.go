package session

import "time"

// Config controls every tunable of the download engine: networking
// timeouts, choke algorithm parameters, encryption policy and the
// resolutions of the three ambiguous points the wire protocol leaves
// unspecified.
type Config struct {
	// Database is the path to the BoltDB file that stores resume state.
	Database string
	// DataDir is the directory new torrents' files are created under.
	DataDir string
	// MaxOpenFiles is the rlimit this process should request at startup.
	MaxOpenFiles uint64

	// PortBegin/PortEnd bound the range of listen ports handed out to torrents.
	PortBegin uint16
	PortEnd   uint16

	// MaxPeerAccept is the per-torrent cap on simultaneously handshaking
	// incoming connections plus already-accepted incoming peers.
	MaxPeerAccept int
	// MaxPeerDial is the per-torrent cap on simultaneously dialed/dialing outgoing peers.
	MaxPeerDial int

	PeerConnectTimeout   time.Duration
	PeerHandshakeTimeout time.Duration
	// PieceTimeout bounds how long a requested block may remain outstanding
	// before the peer is considered to have snubbed us.
	PieceTimeout time.Duration
	// RequestTimeout is the analogous bound used by piecedownloader/peer.Run.
	RequestTimeout time.Duration

	PeerReadBufferSize int

	DisableOutgoingEncryption bool
	ForceOutgoingEncryption   bool
	ForceIncomingEncryption   bool

	UnchokedPeers           int
	OptimisticUnchokedPeers int

	PEXEnabled bool

	ExtensionHandshakeClientVersion string

	// BitfieldWriteInterval throttles how often an in-progress bitfield is
	// flushed to the resume database.
	BitfieldWriteInterval time.Duration
	// StatsWriteInterval throttles how often cumulative stats are flushed.
	StatsWriteInterval time.Duration
	// SpeedCounterTickInterval is the resolution of the download/upload EWMA.
	SpeedCounterTickInterval time.Duration

	TrackerHTTPTimeout   time.Duration
	TrackerHTTPUserAgent string

	DHTEnabled bool
	DHTAddress string
	DHTPort    uint16

	RPCHost            string
	RPCPort             uint16
	RPCShutdownTimeout time.Duration

	// BlocklistURL, if set, is periodically fetched and reloaded into the blocklist.
	BlocklistURL             string
	BlocklistUpdateInterval  time.Duration

	// MaxPeerDownloadSpeed/MaxPeerUploadSpeed cap per-torrent bandwidth in
	// bytes/sec; zero means unlimited. See internal/ratelimit.
	MaxPeerDownloadSpeed int
	MaxPeerUploadSpeed   int

	// ResolveTrackerHostnames is not read by the tracker code: a UDP
	// tracker's hostname is resolved when each announce dials, and an entry
	// of a non-compact HTTP peer list whose ip is not an IP literal is
	// skipped, whatever this is set to.
	ResolveTrackerHostnames bool

	// PEXIncludesDHT is not read by the torrent: ut_pex advertises every
	// connected peer, whichever source (tracker, manual, DHT, PEX) it came
	// from, whatever this is set to.
	PEXIncludesDHT bool

	// FsyncOnPieceFlush calls fsync after every piece write instead of
	// relying on the OS page cache, trading throughput for durability.
	FsyncOnPieceFlush bool
}

// DefaultConfig mirrors typical BitTorrent client defaults.
var DefaultConfig = Config{
	MaxOpenFiles:                    1024 * 1024,
	PortBegin:                       50000,
	PortEnd:                         60000,
	MaxPeerAccept:                   50,
	MaxPeerDial:                     80,
	PeerConnectTimeout:              5 * time.Second,
	PeerHandshakeTimeout:            10 * time.Second,
	PieceTimeout:                    30 * time.Second,
	RequestTimeout:                  20 * time.Second,
	PeerReadBufferSize:              4096,
	UnchokedPeers:                   4,
	OptimisticUnchokedPeers:         1,
	PEXEnabled:                      true,
	ExtensionHandshakeClientVersion: "Rain",
	BitfieldWriteInterval:           30 * time.Second,
	StatsWriteInterval:              30 * time.Second,
	SpeedCounterTickInterval:        time.Second,
	TrackerHTTPTimeout:              10 * time.Second,
	TrackerHTTPUserAgent:            "Rain",
	DHTAddress:                      "0.0.0.0",
	DHTPort:                         7246,
	RPCShutdownTimeout:              5 * time.Second,
	BlocklistUpdateInterval:         24 * time.Hour,
	ResolveTrackerHostnames:         true,
	PEXIncludesDHT:                  false,
	FsyncOnPieceFlush:               false,
}
