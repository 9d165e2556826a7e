// Package rpcclient is a thin HTTP client for a running session's rpc
// server, used by the command-line tool's "remote" subcommands.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/rain/internal/rpc"
)

// Client talks to one session's rpc server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for the server at baseURL, e.g. "http://127.0.0.1:7246".
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// ListTorrents returns every torrent under management.
func (c *Client) ListTorrents() ([]rpc.TorrentSummary, error) {
	var out []rpc.TorrentSummary
	err := c.do(http.MethodGet, "/torrents", nil, &out)
	return out, err
}

// AddTorrent uploads a ".torrent" manifest's raw bytes.
func (c *Client) AddTorrent(data []byte) (rpc.TorrentSummary, error) {
	var out rpc.TorrentSummary
	err := c.do(http.MethodPost, "/torrents", bytes.NewReader(data), &out)
	return out, err
}

// AddURI adds a torrent from an http(s) or magnet URI.
func (c *Client) AddURI(uri string) (rpc.TorrentSummary, error) {
	body, _ := json.Marshal(struct {
		URI string `json:"uri"`
	}{uri})
	var out rpc.TorrentSummary
	err := c.do(http.MethodPost, "/torrents/uri", bytes.NewReader(body), &out)
	return out, err
}

// RemoveTorrent removes a torrent by id. When trashData is true its
// downloaded files are deleted too; otherwise they are left on disk.
func (c *Client) RemoveTorrent(id string, trashData bool) error {
	path := "/torrents/" + id
	if trashData {
		path += "?trash=true"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// StartTorrent resumes downloading/seeding a torrent by id.
func (c *Client) StartTorrent(id string) error {
	return c.do(http.MethodPost, "/torrents/"+id+"/start", nil, nil)
}

// StopTorrent pauses a torrent by id.
func (c *Client) StopTorrent(id string) error {
	return c.do(http.MethodPost, "/torrents/"+id+"/stop", nil, nil)
}

// TorrentStats returns progress stats for a torrent by id.
func (c *Client) TorrentStats(id string) (rpc.Stats, error) {
	var out rpc.Stats
	err := c.do(http.MethodGet, "/torrents/"+id+"/stats", nil, &out)
	return out, err
}

// VerifyTorrent schedules a fresh hash-check of a torrent's on-disk data.
func (c *Client) VerifyTorrent(id string) error {
	return c.do(http.MethodPost, "/torrents/"+id+"/verify", nil, nil)
}

// SetPriority sets the download priority of the given files, identified by
// index into the manifest's file list.
func (c *Client) SetPriority(id string, fileIndices []int, priority int) error {
	body, _ := json.Marshal(struct {
		FileIndices []int `json:"fileIndices"`
		Priority    int   `json:"priority"`
	}{fileIndices, priority})
	return c.do(http.MethodPost, "/torrents/"+id+"/priority", bytes.NewReader(body), nil)
}

// SetWanted marks the given files as wanted or not wanted for download.
func (c *Client) SetWanted(id string, fileIndices []int, wanted bool) error {
	body, _ := json.Marshal(struct {
		FileIndices []int `json:"fileIndices"`
		Wanted      bool  `json:"wanted"`
	}{fileIndices, wanted})
	return c.do(http.MethodPost, "/torrents/"+id+"/wanted", bytes.NewReader(body), nil)
}

// MoveTorrentData relocates a torrent's on-disk files to path.
func (c *Client) MoveTorrentData(id string, path string) error {
	body, _ := json.Marshal(struct {
		Path string `json:"path"`
	}{path})
	return c.do(http.MethodPost, "/torrents/"+id+"/move", bytes.NewReader(body), nil)
}

func (c *Client) do(method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e) // nolint: errcheck
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("rpc: %s", e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
