// crumbeez - keystroke breadcrumb logger
//
// crumbeez reads classified keystroke events, keeps a bounded durable log of
// them and periodically folds the log into per-kind summaries:
//
//	crumbeez init            Write a default configuration file
//	crumbeez ingest [file]   Apply an event stream (NDJSON) and save
//	crumbeez status          Show the saved event log
//	crumbeez summarize       Summarize the unconsumed events now
//	crumbeez compact         Drop summarized events from the log
//	crumbeez dump            Print logged events
//	crumbeez activity [file] Render the activity view for a stream
//	crumbeez history         Show stored summaries
//	crumbeez metrics [file]  Replay a stream and print its metrics
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(c.run(os.Args[1:]))
}

func (c *cli) run(args []string) int {
	if len(args) < 1 {
		c.usage(c.stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "init":
		err = c.cmdInit(args[1:])
	case "ingest":
		err = c.cmdIngest(args[1:])
	case "status":
		err = c.cmdStatus(args[1:])
	case "summarize":
		err = c.cmdSummarize(args[1:])
	case "compact":
		err = c.cmdCompact(args[1:])
	case "dump":
		err = c.cmdDump(args[1:])
	case "activity":
		err = c.cmdActivity(args[1:])
	case "history":
		err = c.cmdHistory(args[1:])
	case "metrics":
		err = c.cmdMetrics(args[1:])
	case "version":
		fmt.Fprintf(c.stdout, "crumbeez %s\n", version)
	case "help", "-h", "--help":
		c.usage(c.stdout)
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n\n", args[0])
		c.usage(c.stderr)
		return 2
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
}

var errUsage = errors.New("usage")

func (c *cli) usage(w io.Writer) {
	fmt.Fprint(w, `crumbeez - keystroke breadcrumb logger

USAGE:
    crumbeez <command> [options]

COMMANDS:
    init                Write a default configuration file and data directories
    ingest [file|-]     Apply an NDJSON event stream, summarize and save
    status              Show the saved event log and summary totals
    summarize           Summarize unconsumed events now
    compact             Drop summarized events from the saved log
    dump                Print logged events
    activity [file|-]   Render the activity view for an event stream
    history             Show recent summaries
    metrics [file|-]    Replay an event stream and print its metrics
    version             Show version
    help                Show this help message

Every command accepts -config <file>. Without it crumbeez looks for
config.{toml,json,yaml} in the data directory (.crumbeez, or
$CRUMBEEZ_DATA_DIR) and then in the user config directory.

EXAMPLES:
    crumbeez ingest events.ndjson
    crumbeez ingest -follow /tmp/zellij-keys.ndjson
    crumbeez dump -json > replay.ndjson
    crumbeez history -n 5
`)
}

// newFlagSet returns a flag set that reports to stderr and has the common
// -config flag.
func (c *cli) newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configPath := fs.String("config", "", "configuration file")
	return fs, configPath
}

func (c *cli) parse(fs *flag.FlagSet, args []string, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > maxArgs {
		fmt.Fprintf(c.stderr, "%s: unexpected arguments: %v\n", fs.Name(), fs.Args()[maxArgs:])
		fs.Usage()
		return errUsage
	}
	return nil
}
