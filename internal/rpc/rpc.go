// Package rpc exposes a running session over HTTP so a separate "rain"
// client process (or any external tool) can list, add, start, stop and
// remove torrents without linking against the session package directly.
package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// TorrentSummary is the JSON-serializable view of a managed torrent.
type TorrentSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	InfoHash  string    `json:"infoHash"`
	Port      int       `json:"port"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats is the JSON-serializable view of a torrent's progress.
type Stats struct {
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	BytesTotal      int64  `json:"bytesTotal"`
	BytesCompleted  int64  `json:"bytesCompleted"`
	BytesDownloaded int64  `json:"bytesDownloaded"`
	BytesUploaded   int64  `json:"bytesUploaded"`
	PeersConnected  int    `json:"peersConnected"`
}

// Service is the subset of session operations the RPC server exposes.
// Implemented by an adapter over *session.Session so this package never
// imports session (which imports rpc), avoiding an import cycle.
type Service interface {
	ListTorrents() []TorrentSummary
	AddTorrent(r io.Reader) (TorrentSummary, error)
	AddURI(uri string) (TorrentSummary, error)
	RemoveTorrent(id string, trashData bool) error
	StartTorrent(id string) error
	StopTorrent(id string) error
	TorrentStats(id string) (Stats, error)
	VerifyTorrent(id string) error
	SetPriority(id string, fileIndices []int, priority int) error
	SetWanted(id string, fileIndices []int, wanted bool) error
	MoveTorrentData(id string, path string) error
}

// Server serves Service over HTTP using a gorilla/mux router.
type Server struct {
	svc    Service
	router *mux.Router
	http   *http.Server
	ln     net.Listener
}

// NewServer returns a Server, not yet listening.
func NewServer(svc Service) *Server {
	s := &Server{svc: svc, router: mux.NewRouter()}
	s.router.HandleFunc("/torrents", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents", s.handleAdd).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/uri", s.handleAddURI).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}", s.handleRemove).Methods(http.MethodDelete)
	s.router.HandleFunc("/torrents/{id}/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents/{id}/verify", s.handleVerify).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/priority", s.handleSetPriority).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/wanted", s.handleSetWanted).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents/{id}/move", s.handleMoveData).Methods(http.MethodPost)
	return s
}

// Start begins serving on host:port in the background.
func (s *Server) Start(host string, port uint16) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	s.ln = ln
	s.http = &http.Server{Handler: s.router}
	go s.http.Serve(ln) // nolint: errcheck
	return nil
}

// Stop gracefully shuts the server down, waiting at most timeout.
func (s *Server) Stop(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListTorrents())
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.AddTorrent(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleAddURI(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.svc.AddURI(body.URI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trash, _ := strconv.ParseBool(r.URL.Query().Get("trash"))
	if err := s.svc.RemoveTorrent(id, trash); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.StartTorrent(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.StopTorrent(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.VerifyTorrent(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setPriorityBody is the JSON body of a set_priority/set_wanted request.
type setPriorityBody struct {
	FileIndices []int `json:"fileIndices"`
	Priority    int   `json:"priority"`
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body setPriorityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SetPriority(id, body.FileIndices, body.Priority); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setWantedBody struct {
	FileIndices []int `json:"fileIndices"`
	Wanted      bool  `json:"wanted"`
}

func (s *Server) handleSetWanted(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body setWantedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SetWanted(id, body.FileIndices, body.Wanted); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveDataBody struct {
	Path string `json:"path"`
}

func (s *Server) handleMoveData(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body moveDataBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.MoveTorrentData(id, body.Path); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stats, err := s.svc.TorrentStats(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) // nolint: errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{err.Error()})
}
