package session

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/bencode"

	"github.com/cenkalti/rain/internal/addrlist"
	"github.com/cenkalti/rain/internal/allocator"
	"github.com/cenkalti/rain/internal/announcer"
	"github.com/cenkalti/rain/internal/bitfield"
	"github.com/cenkalti/rain/internal/infodownloader"
	"github.com/cenkalti/rain/internal/metainfo"
	"github.com/cenkalti/rain/internal/peer"
	"github.com/cenkalti/rain/internal/peerprotocol"
	"github.com/cenkalti/rain/internal/pex"
	"github.com/cenkalti/rain/internal/piece"
	"github.com/cenkalti/rain/internal/piecedownloader"
	"github.com/cenkalti/rain/internal/piecepicker"
	"github.com/cenkalti/rain/internal/piecewriter"
	"github.com/cenkalti/rain/internal/storage"
	"github.com/cenkalti/rain/internal/storage/filestorage"
	"github.com/cenkalti/rain/internal/tracker"
	"github.com/cenkalti/rain/internal/verifier"
)

// status reports the torrent's current high-level state.
func (t *torrent) status() Status {
	select {
	case <-t.completeC:
		if t.info == nil {
			return Stopped
		}
	default:
	}
	if t.errC == nil && t.portC == nil && t.info == nil && t.bitfield == nil {
		return Stopped
	}
	if t.stoppedEventAnnouncer != nil {
		return Stopping
	}
	if t.info == nil {
		return DownloadingMetadata
	}
	if t.allocator != nil {
		return Allocating
	}
	if t.verifier != nil {
		return Verifying
	}
	if t.completed {
		return Seeding
	}
	return Downloading
}

// Stats summarizes one torrent's progress and rates for display.
type Stats struct {
	Status           Status
	Error            error
	BytesTotal       int64
	BytesCompleted   int64
	BytesIncomplete  int64
	BytesDownloaded  int64
	BytesUploaded    int64
	BytesWasted      int64
	PeersConnected   int
	SeededFor        time.Duration
}

func (t *torrent) stats() Stats {
	s := Stats{
		Status:         t.status(),
		PeersConnected: len(t.peers),
		SeededFor:      t.seedDuration(),
	}
	if t.info != nil {
		s.BytesTotal = t.info.Length
	}
	if t.bitfield != nil {
		for i := uint32(0); i < t.bitfield.Len(); i++ {
			pieceLen := int64(piece.PieceLength(int(i), int(t.bitfield.Len()), t.info.PieceLength, t.info.Length))
			if t.bitfield.Test(i) {
				s.BytesCompleted += pieceLen
			} else {
				s.BytesIncomplete += pieceLen
			}
		}
	}
	return s
}

func (t *torrent) seedDuration() time.Duration {
	return t.resumerStats.SeededFor
}

func (t *torrent) updateSeedDuration() {
	now := time.Now()
	if t.completed && !t.seedDurationUpdatedAt.IsZero() {
		t.resumerStats.SeededFor += now.Sub(t.seedDurationUpdatedAt)
	}
	t.seedDurationUpdatedAt = now
}

// Tracker is the public view of one tracker's client and last known status.
type Tracker struct {
	URL string
}

func (t *torrent) getTrackers() []Tracker {
	out := make([]Tracker, 0, len(t.trackers))
	for _, tr := range t.trackers {
		out = append(out, Tracker{URL: tr.URL()})
	}
	return out
}

// Peer is the public view of a connected peer.
type Peer struct {
	Addr *net.TCPAddr
}

func (t *torrent) getPeers() []Peer {
	out := make([]Peer, 0, len(t.peers))
	for pe := range t.peers {
		out = append(out, Peer{Addr: pe.Addr()})
	}
	return out
}

func (t *torrent) announcerFields() tracker.Torrent {
	var left int64
	if t.info != nil {
		left = t.info.Length - t.stats().BytesCompleted
	}
	return tracker.Torrent{
		BytesUploaded:   t.resumerStats.BytesUploaded,
		BytesDownloaded: t.resumerStats.BytesDownloaded,
		BytesLeft:       left,
		InfoHash:        t.infoHash,
		PeerID:          t.peerID,
		Port:            t.port,
	}
}

// getSKey looks up the pre-hashed info-hash we expect, for MSE handshakes.
func (t *torrent) getSKey(sKeyHash [20]byte) []byte {
	if sKeyHash == t.sKeyHash {
		return t.infoHash[:]
	}
	return nil
}

func (t *torrent) checkInfoHash(ih [20]byte) bool {
	return ih == t.infoHash
}

// start kicks off the torrent: listener, trackers, DHT and, once storage is
// ready, dialing peers.
func (t *torrent) start() {
	if t.acceptor == nil {
		t.dialAddresses()
	}
	for _, an := range t.announcers {
		go an.Run()
	}
	if t.dhtAnnouncer != nil {
		t.dhtAnnouncer.NeedMorePeers(true)
	}
	if t.info != nil && t.files == nil && t.allocator == nil && t.verifier == nil {
		t.startAllocator()
	}
}

func (t *torrent) startAllocator() {
	specs := t.fileSpecs()
	t.allocator = allocator.New()
	go t.allocator.Run(t.storage, specs, t.allocatorProgressC, t.allocatorResultC)
}

func (t *torrent) fileSpecs() []allocator.FileSpec {
	if len(t.info.Files) == 0 {
		return []allocator.FileSpec{{Path: metainfo.Sanitize(t.info.Name), Length: t.info.Length}}
	}
	specs := make([]allocator.FileSpec, len(t.info.Files))
	for i, f := range t.info.Files {
		specs[i] = allocator.FileSpec{Path: filepath.Join(f.SanitizedPath()...), Length: f.Length}
	}
	return specs
}

func (t *torrent) handleAllocationDone(a *allocator.Allocator) {
	t.allocator = nil
	if a.Error != nil {
		t.stop(a.Error)
		return
	}
	t.files = a.Files
	t.pieces = piece.Blocks(t.info.PieceLength, t.info.Length, t.info.Hashes())
	if t.bitfield != nil {
		for i := range t.pieces {
			t.pieces[i].Done = t.bitfield.Test(uint32(i))
		}
		t.piecePicker = piecepicker.New(t.pieces, t.bitfield)
		t.applyUnwantedState()
		t.processQueuedMessages()
		return
	}
	t.startVerifier()
}

// applyUnwantedState re-blocks every not-wanted file's pieces in a freshly
// constructed piecePicker (allocation and verification each build a new one).
func (t *torrent) applyUnwantedState() {
	for fi, unwanted := range t.unwanted {
		if !unwanted {
			continue
		}
		from, to := t.info.PieceRange(fi)
		t.piecePicker.SetPriority(from, to, piecepicker.PriorityBlocked)
	}
}

// startVerifier submits this torrent's hash-check to the session-wide
// verify queue; the queue runs at most one torrent's verifier.Run at a
// time (spec §4.5).
func (t *torrent) startVerifier() {
	t.verifier = verifier.New()
	t.verifyQueue.Enqueue(t.verifier, t.infoHash, t.info.Length, 0, t.pieces, int64(t.info.PieceLength), multiReaderAt{t.files, t.info}, t.verifierProgressC, t.verifierResultC)
}

// handleVerifyCommand services the verify control operation: re-checks
// every piece's hash against what is actually on disk. A no-op if there is
// nothing to check yet (still allocating/downloading metadata) or a
// verification is already running.
func (t *torrent) handleVerifyCommand() {
	if t.info == nil || t.files == nil || t.verifier != nil {
		return
	}
	t.startVerifier()
}

func (t *torrent) handleVerificationDone(v *verifier.Verifier) {
	t.verifier = nil
	if v.Error != nil {
		t.stop(v.Error)
		return
	}
	t.bitfield = v.Bitfield
	for i := range t.pieces {
		t.pieces[i].Done = t.bitfield.Test(uint32(i))
	}
	t.piecePicker = piecepicker.New(t.pieces, t.bitfield)
	t.applyUnwantedState()
	t.writeBitfield(false)
	t.checkCompletion()
	t.processQueuedMessages()
}

// handleSetPriority services the set_priority control operation: sets the
// download priority of the pieces spanned by each given file index. A
// not-wanted file (SetWanted(false)) stays blocked regardless.
func (t *torrent) handleSetPriority(fileIndices []int, priority Priority) error {
	if t.info == nil {
		return errors.New("set_priority: torrent metadata not yet available")
	}
	if t.piecePicker == nil {
		return errors.New("set_priority: torrent is still allocating or verifying")
	}
	for _, fi := range fileIndices {
		if fi < 0 || fi >= len(t.info.Files) {
			return fmt.Errorf("set_priority: invalid file index %d", fi)
		}
		if t.unwanted[fi] {
			continue
		}
		from, to := t.info.PieceRange(fi)
		t.piecePicker.SetPriority(from, to, priority.internal())
	}
	return nil
}

// handleSetWanted services the set_wanted control operation: marks the
// given files as wanted or not, blocking a not-wanted file's pieces in the
// picker so they are never requested.
func (t *torrent) handleSetWanted(fileIndices []int, wanted bool) error {
	if t.info == nil {
		return errors.New("set_wanted: torrent metadata not yet available")
	}
	if t.unwanted == nil {
		t.unwanted = make(map[int]bool)
	}
	for _, fi := range fileIndices {
		if fi < 0 || fi >= len(t.info.Files) {
			return fmt.Errorf("set_wanted: invalid file index %d", fi)
		}
		t.unwanted[fi] = !wanted
		if t.piecePicker == nil {
			continue
		}
		from, to := t.info.PieceRange(fi)
		if wanted {
			t.piecePicker.SetPriority(from, to, piecepicker.PriorityNormal)
		} else {
			t.piecePicker.SetPriority(from, to, piecepicker.PriorityBlocked)
		}
	}
	return nil
}

// moveData (aka set_location) relocates the torrent's on-disk files to
// newPath, closing and reopening every open file handle in the process.
func (t *torrent) moveData(newPath string) error {
	fsto, ok := t.storage.(*filestorage.FileStorage)
	if !ok {
		return errors.New("move_data: storage implementation does not support relocation")
	}
	for _, f := range t.files {
		f.Close() // nolint: errcheck
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0750); err != nil {
		return err
	}
	if err := os.Rename(fsto.Dest(), newPath); err != nil {
		return err
	}
	newSto, err := filestorage.New(newPath)
	if err != nil {
		return err
	}
	t.storage = newSto
	if t.info == nil || t.files == nil {
		return nil
	}
	specs := t.fileSpecs()
	files := make([]storage.File, len(specs))
	for i, spec := range specs {
		f, err := newSto.Open(spec.Path, spec.Length)
		if err != nil {
			return err
		}
		files[i] = f
	}
	t.files = files
	return nil
}

// stop tears down peers and timers and starts the stopped-event announce.
func (t *torrent) stop(err error) {
	if err != nil {
		t.lastError = err
	}
	if t.verifier != nil {
		t.verifyQueue.Remove(t.infoHash)
		t.verifier = nil
	}
	for pe := range t.peers {
		t.closePeer(pe)
	}
	for h := range t.incomingHandshakers {
		h.Close()
	}
	for h := range t.outgoingHandshakers {
		h.Close()
	}
	for _, an := range t.announcers {
		an.Close()
	}
	t.announcers = nil
	if t.acceptor != nil {
		t.acceptor.Close()
		t.acceptor = nil
	}
	if len(t.trackers) > 0 && t.stoppedEventAnnouncer == nil {
		t.stoppedEventAnnouncer = announcer.NewStopAnnouncer(t.trackers, t.announcerFields(), 5*time.Second, t.announcersStoppedC)
	}
}

func (t *torrent) updateInterestedState(pe *peer.Peer) {
	if t.piecePicker == nil || t.bitfield == nil {
		return
	}
	interested := false
	for i := uint32(0); i < t.bitfield.Len(); i++ {
		if !t.bitfield.Test(i) && t.piecePicker.DoesHave(pe, i) {
			interested = true
			break
		}
	}
	if interested == pe.AmInterested {
		return
	}
	pe.AmInterested = interested
	if interested {
		pe.SendMessage(peerprotocol.InterestedMessage{})
	} else {
		pe.SendMessage(peerprotocol.NotInterestedMessage{})
	}
}

// requestQueueDepth is the adaptive pipeline depth: enough blocks in flight
// to cover one round-trip at the current download rate, clamped to [4, 512]
// (spec §4.3). There is no per-peer RTT sample yet, so a conservative fixed
// RTT estimate is used against the torrent's measured download rate.
func (t *torrent) requestQueueDepth() int {
	const minDepth = 4
	const maxDepth = 512
	const estimatedRTT = 1 * time.Second
	rate := t.downloadSpeed.Rate() // bytes/sec
	depth := int(rate * estimatedRTT.Seconds() / piece.BlockSize)
	switch {
	case depth < minDepth:
		return minDepth
	case depth > maxDepth:
		return maxDepth
	default:
		return depth
	}
}

func (t *torrent) startPieceDownloaders() {
	if t.piecePicker == nil {
		return
	}
	for pe := range t.peers {
		if pe.PeerChoking {
			continue
		}
		if _, ok := t.pieceDownloaders[pe]; ok {
			continue
		}
		pi, ok := t.piecePicker.Pick(pe)
		if !ok {
			continue
		}
		pd := piecedownloader.New(pi, pe)
		t.pieceDownloaders[pe] = pd
		pe.Downloading = true
		pd.RequestBlocks(t.requestQueueDepth())
	}
}

func (t *torrent) startInfoDownloaders() {
	for pe := range t.peers {
		if pe.ExtensionHandshake == nil {
			continue
		}
		if _, ok := pe.ExtensionHandshake.M[peerprotocol.ExtensionKeyMetadata]; !ok {
			continue
		}
		if _, ok := t.infoDownloaders[pe]; ok {
			continue
		}
		id := infodownloader.New(pe)
		t.infoDownloaders[pe] = id
		id.RequestBlocks(t.requestQueueDepth())
	}
}

func (t *torrent) handlePeerMessage(pm peer.Message) {
	pe := pm.Peer
	if t.piecePicker == nil && t.info == nil {
		pe.Messages = append(pe.Messages, pm.Message)
	}
	switch m := pm.Message.(type) {
	case peerprotocol.ChokeMessage:
		pe.PeerChoking = true
		if pd, ok := t.pieceDownloaders[pe]; ok {
			pd.HandleChoke()
		}
	case peerprotocol.UnchokeMessage:
		pe.PeerChoking = false
		t.startPieceDownloaders()
	case peerprotocol.InterestedMessage:
		pe.PeerInterested = true
	case peerprotocol.NotInterestedMessage:
		pe.PeerInterested = false
	case peerprotocol.HaveMessage:
		if t.piecePicker != nil {
			t.piecePicker.HandleHave(pe, m.Index)
			t.updateInterestedState(pe)
			t.startPieceDownloaders()
		}
	case peerprotocol.BitfieldMessage:
		if t.piecePicker != nil {
			bf, err := bitfield.NewBytes(m.Data, uint32(len(t.pieces)))
			if err == nil {
				t.piecePicker.HandleBitfield(pe, bf)
				t.updateInterestedState(pe)
				t.startPieceDownloaders()
			}
		}
	case peerprotocol.HaveAllMessage:
		if t.piecePicker != nil {
			t.piecePicker.HandleHaveAll(pe)
			t.updateInterestedState(pe)
			t.startPieceDownloaders()
		}
	case peerprotocol.HaveNoneMessage:
	case peerprotocol.RequestMessage:
		t.handleRequest(pe, m)
	case peerprotocol.RejectMessage:
		if pd, ok := t.pieceDownloaders[pe]; ok {
			_ = pd.HandleReject(m.Begin)
		}
	case peerprotocol.ExtensionMessage:
		t.handleExtensionMessage(pe, m)
	}
}

func (t *torrent) handleRequest(pe *peer.Peer, m peerprotocol.RequestMessage) {
	if t.bitfield == nil || !t.bitfield.Test(m.Index) {
		return
	}
	off := int64(m.Index)*int64(t.info.PieceLength) + int64(m.Begin)
	buf := make([]byte, m.Length)
	_, err := multiReaderAt{t.files, t.info}.ReadAt(buf, off)
	if err != nil {
		return
	}
	pe.SendPiece(m.Index, m.Begin, buf)
	t.resumerStats.BytesUploaded += int64(m.Length)
	t.uploadSpeed.Update(int64(m.Length))
	pe.BytesUploadedInChokePeriod += int64(m.Length)
}

// handleExtensionMessage dispatches a decoded LTEP (BEP 10) message. The
// ExtendedMessageID is one of the ids we advertised in our own outgoing
// handshake (see NewExtensionHandshake), not one the peer chose.
func (t *torrent) handleExtensionMessage(pe *peer.Peer, m peerprotocol.ExtensionMessage) {
	payload, ok := m.Payload.([]byte)
	if !ok {
		return
	}
	switch m.ExtendedMessageID {
	case peerprotocol.ExtensionIDHandshake:
		t.handleExtensionHandshake(pe, payload)
	case peerprotocol.ExtensionIDMetadata:
		t.handleMetadataExtensionMessage(pe, payload)
	case peerprotocol.ExtensionIDPEX:
		t.handlePEXExtensionMessage(pe, payload)
	}
}

func (t *torrent) handleExtensionHandshake(pe *peer.Peer, payload []byte) {
	var h peerprotocol.ExtensionHandshakeMessage
	if err := bencode.DecodeBytes(payload, &h); err != nil {
		t.log.Debugln("cannot decode extension handshake:", err)
		return
	}
	pe.ExtensionHandshake = &h
	if ip := net.IP(h.YourIP); len(ip) == net.IPv4len || len(ip) == net.IPv6len {
		t.externalIP = ip
	}
	if _, ok := h.M[peerprotocol.ExtensionKeyPEX]; ok && t.config.PEXEnabled && pe.PEX == nil {
		pe.PEX = pex.New()
	}
	if t.info == nil {
		t.startInfoDownloaders()
	}
}

// metadataBlockSize is the unit ut_metadata pieces are split into (BEP 9).
const metadataBlockSize = 16 * 1024

// metadataDataSize returns how many raw bytes follow the bencoded header of
// a "data" message for the given piece, derived from total_size rather than
// from the decoder's read position: a metadata message is a bencode dict
// with arbitrary trailing raw bytes glued on, and nothing here assumes the
// bencode decoder stops reading exactly at the dict's closing 'e'.
func metadataDataSize(totalSize int, piece uint32) int {
	rem := totalSize - int(piece)*metadataBlockSize
	switch {
	case rem > metadataBlockSize:
		return metadataBlockSize
	case rem < 0:
		return 0
	default:
		return rem
	}
}

// handleMetadataExtensionMessage decodes a ut_metadata (BEP 9) message. A
// "data" message is a bencoded dict immediately followed by the raw piece
// bytes; DecodeBytes parses the leading dict and the trailing bytes are
// located by size arithmetic (see metadataDataSize), not decoder position.
func (t *torrent) handleMetadataExtensionMessage(pe *peer.Peer, payload []byte) {
	var msg peerprotocol.ExtensionMetadataMessage
	if err := bencode.DecodeBytes(payload, &msg); err != nil {
		t.log.Debugln("cannot decode ut_metadata message:", err)
		return
	}

	switch msg.Type {
	case peerprotocol.ExtensionMetadataMessageTypeRequest:
		t.handleMetadataRequest(pe, msg.Piece)
	case peerprotocol.ExtensionMetadataMessageTypeData:
		id, ok := t.infoDownloaders[pe]
		if !ok {
			return
		}
		n := metadataDataSize(msg.TotalSize, msg.Piece)
		if n <= 0 || n > len(payload) {
			t.log.Debugln("peer sent ut_metadata data message with invalid size")
			t.closePeer(pe)
			return
		}
		if err := id.GotBlock(msg.Piece, payload[len(payload)-n:]); err != nil {
			t.log.Debugln("bad ut_metadata data message:", err)
			t.closePeer(pe)
			return
		}
		if id.Done() {
			t.handleInfoDownloaderDone(id)
			return
		}
		id.RequestBlocks(t.requestQueueDepth())
	case peerprotocol.ExtensionMetadataMessageTypeReject:
		if id, ok := t.infoDownloaders[pe]; ok {
			t.closeInfoDownloader(id)
		}
	}
}

func (t *torrent) handleMetadataRequest(pe *peer.Peer, piece uint32) {
	if pe.ExtensionHandshake == nil {
		return
	}
	extID, ok := pe.ExtensionHandshake.M[peerprotocol.ExtensionKeyMetadata]
	if !ok {
		return
	}
	begin := int(piece) * metadataBlockSize
	if t.info == nil || begin >= len(t.info.Bytes) {
		pe.SendMessage(peerprotocol.ExtensionMessage{
			ExtendedMessageID: extID,
			Payload: peerprotocol.ExtensionMetadataMessage{
				Type:  peerprotocol.ExtensionMetadataMessageTypeReject,
				Piece: piece,
			},
		})
		return
	}
	end := begin + metadataBlockSize
	if end > len(t.info.Bytes) {
		end = len(t.info.Bytes)
	}
	pe.SendMessage(peerprotocol.ExtensionMetadataDataMessage{
		ExtendedMessageID: extID,
		Header: peerprotocol.ExtensionMetadataMessage{
			Type:      peerprotocol.ExtensionMetadataMessageTypeData,
			Piece:     piece,
			TotalSize: len(t.info.Bytes),
		},
		Data: t.info.Bytes[begin:end],
	})
}

// handleInfoDownloaderDone builds the info dict from the fully downloaded
// metadata of a magnet torrent and moves on to allocation, mirroring what
// start() does once a .torrent file's info was parsed up front.
func (t *torrent) handleInfoDownloaderDone(id *infodownloader.InfoDownloader) {
	t.closeInfoDownloader(id)
	if t.info != nil {
		return
	}
	info, err := metainfo.NewInfo(id.Bytes)
	if err != nil {
		t.log.Errorln("cannot construct info from downloaded metadata, trying another peer:", err)
		t.startInfoDownloaders()
		return
	}
	if info.Hash != t.infoHash {
		t.log.Errorln("metadata from peer does not match info hash, trying another peer")
		t.startInfoDownloaders()
		return
	}
	t.info = info
	t.name = info.Name
	for _, pd := range t.infoDownloaders {
		t.closeInfoDownloader(pd)
	}
	if t.files == nil && t.allocator == nil && t.verifier == nil {
		t.startAllocator()
	}
}

func (t *torrent) handlePEXExtensionMessage(pe *peer.Peer, payload []byte) {
	if !t.config.PEXEnabled {
		return
	}
	var msg peerprotocol.ExtensionPEXMessage
	if err := bencode.DecodeBytes(payload, &msg); err != nil {
		t.log.Debugln("cannot decode ut_pex message:", err)
		return
	}
	addrs := peerprotocol.UnpackPeerAddrs(msg.Added)
	if len(addrs) > 0 {
		t.handleNewPeers(addrs, addrlist.PEX)
	}
}

func (t *torrent) handlePieceMessage(pm peer.PieceMessage) {
	pe := pm.Peer
	pd, ok := t.pieceDownloaders[pe]
	if !ok {
		return
	}
	if err := pd.GotBlock(pm.Piece.Begin, pm.Piece.Data); err != nil {
		return
	}
	t.resumerStats.BytesDownloaded += int64(len(pm.Piece.Data))
	t.downloadSpeed.Update(int64(len(pm.Piece.Data)))
	pe.BytesDownlaodedInChokePeriod += int64(len(pm.Piece.Data))
	if !pd.Done() {
		pd.RequestBlocks(t.requestQueueDepth())
		return
	}
	data := pd.Assemble()
	t.closePieceDownloader(pd)
	pi := &t.pieces[pm.Piece.Index]
	if sha1.Sum(data) != pi.Hash { // nolint: gosec
		t.resumerStats.BytesWasted += int64(len(data))
		t.startPieceDownloaders()
		return
	}
	pi.Writing = true
	t.blockPieceMessages = t.pieceMessages
	t.pieceMessages = nil
	pw := piecewriter.New(pi, data)
	go pw.Run(int64(t.info.PieceLength), multiReaderAt{t.files, t.info}, t.config.FsyncOnPieceFlush, t.pieceWriterResultC)
	t.startPieceDownloaders()
}

// multiReaderAt maps absolute torrent-wide byte offsets onto the file(s)
// that make up a multi-file (or single-file) torrent's storage, so the
// verifier and piece writer/reader never need to know about file boundaries.
type multiReaderAt struct {
	files []storage.File
	info  *metainfo.Info
}

func (m multiReaderAt) fileOffsets() []int64 {
	offs := make([]int64, len(m.info.Files))
	var cum int64
	for i, f := range m.info.Files {
		offs[i] = cum
		cum += f.Length
	}
	return offs
}

func (m multiReaderAt) do(p []byte, off int64, fn func(f storage.File, fOff int64, b []byte) (int, error)) (int, error) {
	offs := m.fileOffsets()
	var n int
	for i, f := range m.info.Files {
		fStart := offs[i]
		fEnd := fStart + f.Length
		if off >= fEnd || len(p) == 0 {
			continue
		}
		if off+int64(len(p)) <= fStart {
			break
		}
		start := off
		if start < fStart {
			start = fStart
		}
		end := off + int64(len(p))
		if end > fEnd {
			end = fEnd
		}
		if start >= end {
			continue
		}
		bufStart := start - off
		bufEnd := end - off
		wn, err := fn(m.files[i], start-fStart, p[bufStart:bufEnd])
		n += wn
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReadAt implements verifier.ReaderAt.
func (m multiReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return m.do(p, off, func(f storage.File, fOff int64, b []byte) (int, error) {
		return f.ReadAt(b, fOff)
	})
}

// WriteAt implements piecewriter.WriterAt.
func (m multiReaderAt) WriteAt(p []byte, off int64) (int, error) {
	return m.do(p, off, func(f storage.File, fOff int64, b []byte) (int, error) {
		return f.WriteAt(b, fOff)
	})
}

// Sync flushes every file that supports it; piecewriter calls it when
// FsyncOnPieceFlush is set.
func (m multiReaderAt) Sync() error {
	for _, f := range m.files {
		if s, ok := f.(interface{ Sync() error }); ok {
			if err := s.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}
