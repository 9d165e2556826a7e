package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/cenkalti/rain/internal/metainfo"
)

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: rain show <torrent-file>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	m, err := metainfo.New(f)
	if err != nil {
		return err
	}

	fmt.Printf("Name:          %s\n", m.Info.Name)
	fmt.Printf("Info hash:     %s\n", hex.EncodeToString(m.Info.Hash[:]))
	fmt.Printf("Piece length:  %d KiB\n", m.Info.PieceLength/1024)
	fmt.Printf("Pieces:        %d\n", m.Info.NumPieces)
	fmt.Printf("Total size:    %d bytes\n", m.Info.Length)
	fmt.Printf("Private:       %t\n", m.Info.Private != 0)
	if m.Comment != "" {
		fmt.Printf("Comment:       %s\n", m.Comment)
	}
	if len(m.Info.Files) > 1 {
		fmt.Printf("Files:\n")
		for _, file := range m.Info.Files {
			fmt.Printf("  %10d  %s\n", file.Length, joinPath(file.Path))
		}
	}
	trackers := m.GetTrackers()
	if len(trackers) > 0 {
		fmt.Printf("Trackers:\n")
		for _, t := range trackers {
			fmt.Printf("  %s\n", t)
		}
	}
	return nil
}

func joinPath(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
