// race-cli is a small interactive shell over a single in-process
// racekv.Index, for exploring the directory/subtable behavior by hand.
//
// Usage:
//
//	race-cli [flags]
//
// Flags:
//
//	-b, --bucket-groups  Bucket groups, B (default: config/default)
//	-s, --slots          Slots per bucket, S (default: config/default)
//	-e, --max-entries    Directory capacity (default: config/default)
//	-c, --config         Explicit config file path
//
// Commands (in the REPL):
//
//	insert <key> <value>   Insert a new key
//	update <key> <value>   Overwrite an existing key's value
//	search <key>           Look up a key
//	delete <key>           Remove a key
//	stats                  Show directory depth, bucket-group count, and live slot count
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/race-kv/racekv/internal/config"
	"github.com/race-kv/racekv/pkg/racekv"
)

func main() {
	var (
		bucketGroups = pflag.IntP("bucket-groups", "b", 0, "number of bucket groups (B)")
		slots        = pflag.IntP("slots", "s", 0, "slots per bucket (S)")
		maxEntries   = pflag.IntP("max-entries", "e", 0, "directory capacity")
		configPath   = pflag.StringP("config", "c", "", "explicit config file path")
	)

	pflag.Parse()

	overrideSet := make(map[string]bool, 3)

	var cliOverrides racekv.Config

	if *bucketGroups != 0 {
		cliOverrides.BucketGroups = *bucketGroups
		overrideSet["bucket_groups"] = true
	}

	if *slots != 0 {
		cliOverrides.SlotsPerBucket = *slots
		overrideSet["slots_per_bucket"] = true
	}

	if *maxEntries != 0 {
		cliOverrides.MaxEntries = *maxEntries
		overrideSet["max_entries"] = true
	}

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "race-cli:", err)
		os.Exit(1)
	}

	cfg, _, err := config.Load(workDir, *configPath, cliOverrides, overrideSet, os.Environ())
	if err != nil {
		fmt.Fprintln(os.Stderr, "race-cli:", err)
		os.Exit(1)
	}

	idx, err := racekv.NewIndex(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "race-cli:", err)
		os.Exit(1)
	}

	defer idx.Close()

	r := &REPL{idx: idx, client: idx.NewClient(), cfg: cfg}
	if err := r.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "race-cli:", err)
		os.Exit(1)
	}
}

// REPL is the interactive command loop, one Client bound to one Index.
type REPL struct {
	idx    *racekv.Index
	client *racekv.Client
	cfg    racekv.Config
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".race-cli_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("race-cli (bucket_groups=%d, slots_per_bucket=%d, max_entries=%d)\n",
		r.cfg.BucketGroups, r.cfg.SlotsPerBucket, r.cfg.MaxEntries)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("race-cli> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "insert":
			r.cmdInsert(args)

		case "update":
			r.cmdUpdate(args)

		case "search", "get":
			r.cmdSearch(args)

		case "delete", "del":
			r.cmdDelete(args)

		case "stats":
			r.cmdStats()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"insert", "update", "search", "delete", "stats", "help", "exit"}

	var matches []string

	for _, c := range commands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			matches = append(matches, c)
		}
	}

	return matches
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  insert <key> <value>   Insert a new key
  update <key> <value>   Overwrite an existing key's value
  search <key>           Look up a key
  delete <key>           Remove a key
  stats                  Show directory depth, bucket-group count, and live slot count
  help                   Show this help
  exit / quit / q        Exit`)
}

func (r *REPL) cmdInsert(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: insert <key> <value>")

		return
	}

	if err := r.client.Insert([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdUpdate(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: update <key> <value>")

		return
	}

	if err := r.client.Update([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdSearch(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: search <key>")

		return
	}

	value, err := r.client.Search([]byte(args[0]))
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Printf("%q\n", value)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delete <key>")

		return
	}

	if err := r.client.Delete([]byte(args[0])); err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdStats() {
	stats := r.idx.Stats()

	fmt.Printf("global_depth=%d bucket_groups=%d slots_per_bucket=%d max_entries=%d live_slots=%d\n",
		stats.GlobalDepth, stats.BucketGroups, r.cfg.SlotsPerBucket, r.cfg.MaxEntries, stats.LiveSlots)
}
