package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cenkalti/rain/internal/rpc/rpcclient"
)

func runRemote(args []string) error {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:7246", "address of the daemon's RPC server")
	trash := fs.Bool("trash", false, "remove: also delete downloaded data")
	priority := fs.Int("priority", 0, "setpriority: -1=blocked, 0=low, 1=normal, 2=high")
	files := fs.String("files", "", "setpriority/setwanted: comma-separated file indices")
	if len(args) == 0 {
		return errors.New("usage: rain remote <list|add|addmagnet|start|stop|remove|verify|setpriority|setwanted|move|stats> [-addr url] [args]")
	}
	sub := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	c := rpcclient.New(*addr)
	switch sub {
	case "list":
		ts, err := c.ListTorrents()
		if err != nil {
			return err
		}
		for _, t := range ts {
			fmt.Printf("%s  %-30s  %s\n", t.ID, t.Name, t.InfoHash)
		}
		return nil
	case "add":
		if fs.NArg() != 1 {
			return errors.New("usage: rain remote add <torrent-file>")
		}
		b, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			return err
		}
		t, err := c.AddTorrent(b)
		if err != nil {
			return err
		}
		fmt.Println(t.ID)
		return nil
	case "addmagnet":
		if fs.NArg() != 1 {
			return errors.New("usage: rain remote addmagnet <uri>")
		}
		t, err := c.AddURI(fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Println(t.ID)
		return nil
	case "start":
		return withID(fs, c.StartTorrent)
	case "stop":
		return withID(fs, c.StopTorrent)
	case "remove":
		if fs.NArg() != 1 {
			return errors.New("expected a single torrent id")
		}
		return c.RemoveTorrent(fs.Arg(0), *trash)
	case "verify":
		return withID(fs, c.VerifyTorrent)
	case "setpriority":
		if fs.NArg() != 1 {
			return errors.New("usage: rain remote setpriority -files 0,1 -priority N <id>")
		}
		indices, err := parseFileIndices(*files)
		if err != nil {
			return err
		}
		return c.SetPriority(fs.Arg(0), indices, *priority)
	case "setwanted":
		if fs.NArg() != 2 {
			return errors.New("usage: rain remote setwanted -files 0,1 <id> <true|false>")
		}
		indices, err := parseFileIndices(*files)
		if err != nil {
			return err
		}
		wanted, err := strconv.ParseBool(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid wanted value %q: %w", fs.Arg(1), err)
		}
		return c.SetWanted(fs.Arg(0), indices, wanted)
	case "move":
		if fs.NArg() != 2 {
			return errors.New("usage: rain remote move <id> <new-path>")
		}
		return c.MoveTorrentData(fs.Arg(0), fs.Arg(1))
	case "stats":
		if fs.NArg() != 1 {
			return errors.New("usage: rain remote stats <id>")
		}
		st, err := c.TorrentStats(fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Printf("status:           %s\n", st.Status)
		fmt.Printf("bytes completed:  %d/%d\n", st.BytesCompleted, st.BytesTotal)
		fmt.Printf("peers connected:  %d\n", st.PeersConnected)
		if st.Error != "" {
			fmt.Printf("error:            %s\n", st.Error)
		}
		return nil
	default:
		return fmt.Errorf("unknown remote subcommand %q", sub)
	}
}

func withID(fs *flag.FlagSet, fn func(string) error) error {
	if fs.NArg() != 1 {
		return errors.New("expected a single torrent id")
	}
	return fn(fs.Arg(0))
}

// parseFileIndices parses a comma-separated list of file indices, e.g. "0,2,3".
func parseFileIndices(s string) ([]int, error) {
	if s == "" {
		return nil, errors.New("-files is required")
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid file index %q: %w", p, err)
		}
		out[i] = n
	}
	return out, nil
}
