package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cenkalti/rain/internal/metainfo"
)

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	private := fs.Bool("private", false, "allow this torrent to only be used with the specified tracker(s)")
	fs.BoolVar(private, "p", false, "shorthand for -private")
	source := fs.String("source", "", "set the source string for private trackers")
	fs.StringVar(source, "r", "", "shorthand for -source")
	outfile := fs.String("outfile", "", "save the generated .torrent to this filename")
	fs.StringVar(outfile, "o", "", "shorthand for -outfile")
	pieceSize := fs.String("piecesize", "", "piece size in KiB, overriding the default")
	fs.StringVar(pieceSize, "s", "", "shorthand for -piecesize")
	comment := fs.String("comment", "", "add a comment")
	fs.StringVar(comment, "c", "", "shorthand for -comment")
	anonymize := fs.Bool("anonymize", false, `omit "creation date" and "created by"`)
	fs.BoolVar(anonymize, "x", false, "shorthand for -anonymize")
	var trackers, webseeds stringList
	fs.Var(&trackers, "tracker", "add a tracker's announce URL (repeatable)")
	fs.Var(&trackers, "t", "shorthand for -tracker")
	fs.Var(&webseeds, "webseed", "add a webseed URL (repeatable)")
	fs.Var(&webseeds, "w", "shorthand for -webseed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: rain create [flags] <file|directory>")
	}
	infile := fs.Arg(0)

	if len(trackers) == 0 {
		if *private {
			return errors.New("no trackers specified for a private torrent")
		}
		fmt.Fprintln(os.Stderr, "WARNING: no trackers specified")
	}

	opts := metainfo.CreateOptions{
		Private:   *private,
		Source:    *source,
		Comment:   *comment,
		Trackers:  trackers,
		WebSeeds:  webseeds,
		Anonymize: *anonymize,
	}
	if *pieceSize != "" {
		kib, err := strconv.ParseUint(strings.TrimSuffix(*pieceSize, "M"), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid -piecesize: %w", err)
		}
		opts.PieceLength = uint32(kib) * 1024
		if strings.HasSuffix(*pieceSize, "M") {
			opts.PieceLength *= 1024
		}
	}

	m, err := metainfo.Create(infile, opts)
	if err != nil {
		return err
	}

	out := *outfile
	if out == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		out = filepath.Join(cwd, filepath.Base(filepath.Clean(infile))+".torrent")
	}
	b, err := m.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

// stringList accumulates repeated -flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
