// Command rain is a thin CLI wrapper around the engine: it can create and
// inspect .torrent manifests, and talk to a running daemon's RPC surface.
// The download engine itself lives in package session; this binary never
// runs a torrent directly.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "edit":
		err = runEdit(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "remote":
		err = runRemote(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "rain: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "rain:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: rain <command> [flags]

commands:
  create   build a .torrent manifest from a file or directory
  edit     add/delete/replace trackers in an existing manifest
  show     print a manifest's summary
  remote   talk to a running daemon over its RPC surface`)
}
