package main

import (
	"errors"
	"flag"
	"os"

	"github.com/cenkalti/rain/internal/metainfo"
)

func runEdit(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	var adds, deletes stringList
	fs.Var(&adds, "add", "add a tracker URL (repeatable)")
	fs.Var(&adds, "a", "shorthand for -add")
	fs.Var(&deletes, "delete", "delete a tracker URL (repeatable)")
	fs.Var(&deletes, "d", "shorthand for -delete")
	replace := fs.String("replace", "", "replace <old> with the following -replace-with value")
	fs.StringVar(replace, "r", "", "shorthand for -replace")
	replaceWith := fs.String("replace-with", "", "new URL substring for -replace/-r")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: rain edit [flags] <torrent-file>")
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	m, err := metainfo.New(f)
	f.Close()
	if err != nil {
		return err
	}

	for _, u := range deletes {
		m.RemoveTracker(u)
	}
	for _, u := range adds {
		m.AddTrackerToTier(m.NextTier(), u)
	}
	if *replace != "" {
		m.ReplaceTracker(*replace, *replaceWith)
	}

	b, err := m.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
