package session

import (
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/rain/internal/rpc"
)

var errTorrentNotFound = errors.New("torrent not found")

// rpcServer wraps an internal/rpc.Server bound to this session.
type rpcServer struct {
	inner *rpc.Server
}

func newRPCServer(s *Session) *rpcServer {
	return &rpcServer{inner: rpc.NewServer(&rpcAdapter{s: s})}
}

func (r *rpcServer) Start(host string, port uint16) error {
	return r.inner.Start(host, port)
}

func (r *rpcServer) Stop(timeout time.Duration) error {
	return r.inner.Stop(timeout)
}

// rpcAdapter implements rpc.Service over *Session, under names distinct
// from Session's own methods (ListTorrents, AddTorrent, ... already exist
// with different signatures for in-process callers).
type rpcAdapter struct {
	s *Session
}

func summarize(t *Torrent) rpc.TorrentSummary {
	return rpc.TorrentSummary{
		ID:        t.ID(),
		Name:      t.Name(),
		InfoHash:  hex.EncodeToString(t.InfoHash()),
		Port:      t.Port(),
		CreatedAt: t.CreatedAt(),
	}
}

func (a *rpcAdapter) ListTorrents() []rpc.TorrentSummary {
	ts := a.s.ListTorrents()
	out := make([]rpc.TorrentSummary, len(ts))
	for i, t := range ts {
		out[i] = summarize(t)
	}
	return out
}

func (a *rpcAdapter) AddTorrent(r io.Reader) (rpc.TorrentSummary, error) {
	t, err := a.s.AddTorrent(r)
	if err != nil {
		return rpc.TorrentSummary{}, err
	}
	return summarize(t), nil
}

func (a *rpcAdapter) AddURI(uri string) (rpc.TorrentSummary, error) {
	t, err := a.s.AddURI(uri)
	if err != nil {
		return rpc.TorrentSummary{}, err
	}
	return summarize(t), nil
}

func (a *rpcAdapter) RemoveTorrent(id string, trashData bool) error {
	return a.s.RemoveTorrent(id, trashData)
}

func (a *rpcAdapter) StartTorrent(id string) error {
	t := a.s.GetTorrent(id)
	if t == nil {
		return errTorrentNotFound
	}
	return t.Start()
}

func (a *rpcAdapter) StopTorrent(id string) error {
	t := a.s.GetTorrent(id)
	if t == nil {
		return errTorrentNotFound
	}
	return t.Stop()
}

func (a *rpcAdapter) VerifyTorrent(id string) error {
	t := a.s.GetTorrent(id)
	if t == nil {
		return errTorrentNotFound
	}
	t.Verify()
	return nil
}

func (a *rpcAdapter) SetPriority(id string, fileIndices []int, priority int) error {
	t := a.s.GetTorrent(id)
	if t == nil {
		return errTorrentNotFound
	}
	return t.SetPriority(fileIndices, Priority(priority))
}

func (a *rpcAdapter) SetWanted(id string, fileIndices []int, wanted bool) error {
	t := a.s.GetTorrent(id)
	if t == nil {
		return errTorrentNotFound
	}
	return t.SetWanted(fileIndices, wanted)
}

func (a *rpcAdapter) MoveTorrentData(id string, path string) error {
	t := a.s.GetTorrent(id)
	if t == nil {
		return errTorrentNotFound
	}
	return t.MoveData(path)
}

func (a *rpcAdapter) TorrentStats(id string) (rpc.Stats, error) {
	t := a.s.GetTorrent(id)
	if t == nil {
		return rpc.Stats{}, errTorrentNotFound
	}
	st := t.Stats()
	out := rpc.Stats{
		Status:          st.Status.String(),
		BytesTotal:      st.BytesTotal,
		BytesCompleted:  st.BytesCompleted,
		BytesDownloaded: st.BytesDownloaded,
		BytesUploaded:   st.BytesUploaded,
		PeersConnected:  st.PeersConnected,
	}
	if st.Error != nil {
		out.Error = st.Error.Error()
	}
	return out, nil
}
