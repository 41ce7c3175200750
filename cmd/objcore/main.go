// objcore CLI - runs the object runtime demo scenario
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/objcore/config"
	"github.com/chazu/objcore/journal"
	"github.com/chazu/objcore/snapshot"
	"github.com/chazu/objcore/vm"
)

func main() {
	configDir := flag.String("c", ".", "Directory to search upward from for objcore.toml")
	journalPath := flag.String("journal", "", "SQLite journal file (overrides [journal] path)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	showSnapshot := flag.Bool("snapshot", false, "Print a CBOR snapshot of the demo object graph")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: objcore [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a scripted scenario against the object runtime: lifecycle,\n")
		fmt.Fprintf(os.Stderr, "magic accessors, clone, comparison and array projection.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  objcore -v 2                    # Debug logging\n")
		fmt.Fprintf(os.Stderr, "  objcore -journal events.db      # Record lifecycle events\n")
		fmt.Fprintf(os.Stderr, "  objcore -snapshot               # Dump the demo graph as CBOR\n")
	}
	flag.Parse()

	if err := run(*configDir, *journalPath, *verbosity, *showSnapshot); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the scenario. Deferred cleanup (the journal) happens here so
// that it is not skipped by os.Exit in main.
func run(configDir, journalPath string, verbosity int, showSnapshot bool) error {
	cfg, err := config.FindAndLoad(configDir)
	if err != nil {
		return err
	}
	if verbosity >= 0 {
		cfg.Log.Verbosity = verbosity
	}
	if journalPath != "" {
		cfg.Journal.Path = journalPath
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	rt := vm.NewRuntime(cfg.RuntimeOptions())

	var jr *journal.Journal
	var rec *journal.Recorder
	if cfg.Journal.Path != "" {
		jr, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jr.Close()
		rec = jr.Observer(rt.ID)
		rt.SetObserver(rec)
	}

	fmt.Printf("task %s\n", rt.ID)
	root, err := runScenario(rt, os.Stdout)
	if err != nil {
		return err
	}

	if showSnapshot {
		if err := printSnapshot(rt, root); err != nil {
			root.DecRef()
			return err
		}
	}
	root.DecRef()

	stats := rt.Shutdown()
	fmt.Printf("shutdown: destructed=%d freed=%d bytes=%d\n", stats.Destructed, stats.Freed, stats.BytesFreed)

	if jr != nil {
		if err := rec.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: journal incomplete: %v\n", err)
		}
		printSummary(jr, rt)
	}
	return nil
}

func printSnapshot(rt *vm.Runtime, root *vm.Object) error {
	snap, err := snapshot.Capture(rt, root)
	if err != nil {
		return err
	}
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	digest, err := snapshot.Digest(snap)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot: %d objects, %d bytes, digest %s\n", len(snap.Objects), len(data), hex.EncodeToString(digest[:8]))
	fmt.Println(hex.EncodeToString(data))
	return nil
}

func printSummary(jr *journal.Journal, rt *vm.Runtime) {
	sum, err := jr.Summary(rt.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	kinds := make([]string, 0, len(sum))
	for k := range sum {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Printf("journal %s:\n", jr.Path())
	for _, k := range kinds {
		fmt.Printf("  %-16s %d\n", k, sum[k])
	}
}
