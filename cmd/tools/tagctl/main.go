// Command tagctl inspects and tunes a running tagpose daemon over its
// monitor HTTP API.
//
// Usage:
//
//	go run ./cmd/tools/tagctl <command> [flags]
//
// Commands:
//
//	status    Show daemon, pipeline and publisher counters
//	params    Show the live detector parameters
//	set       Apply parameter updates (key=value ...)
//	recent    List recent accepted detections
//	health    Check the daemon health endpoint
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/banshee-data/tagpose/internal/httputil"
	"github.com/banshee-data/tagpose/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "status":
		handleStatus(args)
	case "params":
		handleParams(args)
	case "set":
		handleSet(args)
	case "recent":
		handleRecent(args)
	case "health":
		handleHealth(args)
	case "version":
		fmt.Printf("tagctl version %s (%s)\n", version.Version, version.GitSHA)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tagctl - Control a running tagpose daemon

Usage: tagctl <command> [options]

Commands:
  status     Show daemon, pipeline and publisher counters
  params     Show the live detector parameters
  set        Apply parameter updates, e.g. tagctl set decimate=1.0 threads=4
  recent     List recent accepted detections (--limit N)
  health     Check the daemon health endpoint
  version    Show tagctl version
  help       Show this help message

Common Flags:
  --addr <url>    Monitor address (default: http://localhost:8080)

Settable parameters:
` + settableParamHelp() + `
Examples:
  # Show pipeline counters of the local daemon
  tagctl status

  # Drop decimation for full-resolution detection
  tagctl set decimate=1.0

  # Pause detection on a remote unit
  tagctl --addr http://tagpose-7:8080 set enabled=false

  # Show the last five detections with poses
  tagctl recent --limit 5`)
}

// newAPIClient builds the production client for a subcommand.
func newAPIClient(addr string) *apiClient {
	hc := httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
	return newClient(addr, hc)
}

func addrFlag(fs *flag.FlagSet) *string {
	return fs.String("addr", "http://localhost:8080", "Monitor address of the tagpose daemon")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	st, err := newAPIClient(*addr).fetchStatus()
	if err != nil {
		fatal(err)
	}
	printStatus(os.Stdout, st)
}

func handleParams(args []string) {
	fs := flag.NewFlagSet("params", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	params, err := newAPIClient(*addr).fetchParams()
	if err != nil {
		fatal(err)
	}
	printParams(os.Stdout, params)
}

func handleSet(args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: set requires at least one key=value argument")
		os.Exit(1)
	}

	update, err := parseAssignments(fs.Args())
	if err != nil {
		fatal(err)
	}

	applied, err := newAPIClient(*addr).applyParams(update)
	if err != nil {
		fatal(err)
	}
	printParams(os.Stdout, applied)
}

func handleRecent(args []string) {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	addr := addrFlag(fs)
	limit := fs.Int("limit", 20, "Maximum number of detections to list")
	fs.Parse(args)

	dets, err := newAPIClient(*addr).fetchRecent(*limit)
	if err != nil {
		fatal(err)
	}
	printRecent(os.Stdout, dets)
}

func handleHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := addrFlag(fs)
	fs.Parse(args)

	body, err := newAPIClient(*addr).fetchHealth()
	if err != nil {
		fatal(err)
	}
	fmt.Println(body)
}
