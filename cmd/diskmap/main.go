// diskmap is a simple CLI for interacting with diskmap directories.
//
// Usage:
//
//	diskmap [flags] <dir>
//
// Flags:
//
//	--initial-buckets   Initial bucket count (default: 16)
//	--load-threshold    Load factor that triggers a rehash (default: 0.75)
//	--stripes           Lock stripe count, must be a power of two (default: 256)
//	--config            Path to a JWCC (JSON-with-comments) config file
//	                    supplying defaults for the flags above
//
// Commands (in REPL):
//
//	put <key> <value>     Insert or overwrite an entry
//	get <key>              Retrieve an entry by key
//	del <key>              Delete an entry
//	iterate [limit]        List all entries
//	len                    Count live entries
//	info                   Show map configuration
//	bulk <count>           Insert N random entries
//	bench <count>          Benchmark put+get performance
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/diskmap/pkg/diskmap"
)

// fileConfig is the shape of the optional --config JWCC file. Any field
// left as its zero value does not override the corresponding flag.
type fileConfig struct {
	InitialBuckets  uint64  `json:"initialBuckets"`
	LoadThreshold   float64 `json:"loadThreshold"`
	LockStripeCount int     `json:"lockStripeCount"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("diskmap: %v", err)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("diskmap", pflag.ContinueOnError)

	initialBuckets := flags.Uint64("initial-buckets", 16, "initial bucket count")
	loadThreshold := flags.Float64("load-threshold", 0.75, "load factor that triggers a rehash")
	stripes := flags.Int("stripes", 256, "lock stripe count, must be a power of two")
	configPath := flags.String("config", "", "path to a JWCC config file supplying defaults")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: diskmap [flags] <dir>\n\nFlags:\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *configPath != "" {
		cfg, err := loadFileConfig(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if !flags.Changed("initial-buckets") && cfg.InitialBuckets != 0 {
			*initialBuckets = cfg.InitialBuckets
		}

		if !flags.Changed("load-threshold") && cfg.LoadThreshold != 0 {
			*loadThreshold = cfg.LoadThreshold
		}

		if !flags.Changed("stripes") && cfg.LockStripeCount != 0 {
			*stripes = cfg.LockStripeCount
		}
	}

	if flags.NArg() < 1 {
		flags.Usage()
		return errors.New("missing directory argument")
	}

	dir := flags.Arg(0)

	opts := diskmap.Options{
		Dir:                 dir,
		InitialBucketCount:  *initialBuckets,
		LoadRehashThreshold: *loadThreshold,
		LockStripeCount:     *stripes,
	}

	m, err := openOrCreate(opts)
	if err != nil {
		return fmt.Errorf("opening %q: %w", dir, err)
	}
	defer m.Close()

	repl := &REPL{m: m, dir: dir}

	return repl.Run()
}

// loadFileConfig reads a JWCC (JSON-with-comments) config file: hujson
// first standardizes it to plain JSON, then encoding/json decodes it.
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return cfg, fmt.Errorf("parsing JWCC: %w", err)
	}

	if err := json.Unmarshal(std, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	return cfg, nil
}

// openOrCreate opens an existing map directory, or creates a fresh one if
// the primary file is absent.
func openOrCreate(opts diskmap.Options) (*diskmap.Map, error) {
	if _, err := os.Stat(filepath.Join(opts.Dir, "primary")); err == nil {
		return diskmap.Open(opts)
	}

	return diskmap.Create(opts)
}

// REPL is the interactive command loop.
type REPL struct {
	m     *diskmap.Map
	dir   string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".diskmap_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("diskmap - %s\n", r.dir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("diskmap> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
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
		case "put":
			r.cmdPut(args)
		case "get":
			r.cmdGet(args)
		case "del", "delete":
			r.cmdDelete(args)
		case "iterate", "scan", "ls":
			r.cmdIterate(args)
		case "len", "count":
			r.cmdLen()
		case "info":
			r.cmdInfo()
		case "bulk":
			r.cmdBulk(args)
		case "bench":
			r.cmdBench(args)
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
			_, _ = r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"put", "get", "del", "delete", "iterate", "scan", "ls",
		"len", "count", "info", "bulk", "bench", "clear", "cls",
		"help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>   Insert or overwrite an entry")
	fmt.Println("  get <key>           Retrieve an entry by key")
	fmt.Println("  del <key>           Delete an entry")
	fmt.Println("  iterate [limit]     List all entries")
	fmt.Println("  len                 Count live entries")
	fmt.Println("  info                Show map configuration")
	fmt.Println("  bulk <count>        Insert N random entries")
	fmt.Println("  bench <count>       Benchmark put+get performance")
	fmt.Println("  help                Show this help")
	fmt.Println("  exit / quit / q     Exit")
	fmt.Println()
	fmt.Println("Keys and values: hex (e.g., 'deadbeef') or plain text (e.g., 'foo').")
}

// parseBytes tries hex decoding first, falling back to the literal text.
func parseBytes(s string) []byte {
	if raw, err := hex.DecodeString(s); err == nil && len(s)%2 == 0 {
		return raw
	}

	return []byte(s)
}

func formatBytes(b []byte) string {
	printable := true

	for _, c := range b {
		if c < 32 || c > 126 {
			printable = false
			break
		}
	}

	if printable {
		return fmt.Sprintf("%q", string(b))
	}

	return hex.EncodeToString(b)
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: put <key> <value>")
		return
	}

	key := parseBytes(args[0])
	val := parseBytes(strings.Join(args[1:], " "))

	_, existed, err := r.m.Put(key, val)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if existed {
		fmt.Printf("OK: updated %s\n", formatBytes(key))
	} else {
		fmt.Printf("OK: inserted %s\n", formatBytes(key))
	}
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <key>")
		return
	}

	key := parseBytes(args[0])

	val, found, err := r.m.Get(key)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if !found {
		fmt.Println("(not found)")
		return
	}

	fmt.Printf("%s\n", formatBytes(val))
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: del <key>")
		return
	}

	key := parseBytes(args[0])

	_, found, err := r.m.Remove(key)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if !found {
		fmt.Println("(not found)")
		return
	}

	fmt.Printf("OK: deleted %s\n", formatBytes(key))
}

func (r *REPL) cmdIterate(args []string) {
	limit := -1

	if len(args) >= 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("Error parsing limit: %v\n", err)
			return
		}

		limit = n
	}

	it, err := r.m.Iterator()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	count := 0

	for it.Next() {
		if limit >= 0 && count >= limit {
			break
		}

		fmt.Printf("%s => %s\n", formatBytes(it.Key()), formatBytes(it.Value()))
		count++
	}

	if err := it.Err(); err != nil {
		fmt.Printf("Error during iteration: %v\n", err)
		return
	}

	fmt.Printf("(%d entries shown)\n", count)
}

func (r *REPL) cmdLen() {
	fmt.Printf("%d entries\n", r.m.Size())
}

func (r *REPL) cmdInfo() {
	fmt.Printf("dir:  %s\n", r.dir)
	fmt.Printf("size: %d entries\n", r.m.Size())
}

func (r *REPL) cmdBulk(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: bulk <count>")
		return
	}

	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Error parsing count: %v\n", err)
		return
	}

	start := time.Now()

	for i := 0; i < n; i++ {
		key := make([]byte, 16)
		val := make([]byte, 32)

		if _, err := rand.Read(key); err != nil {
			fmt.Printf("Error generating key: %v\n", err)
			return
		}

		if _, err := rand.Read(val); err != nil {
			fmt.Printf("Error generating value: %v\n", err)
			return
		}

		if _, _, err := r.m.Put(key, val); err != nil {
			fmt.Printf("Error at entry %d: %v\n", i, err)
			return
		}
	}

	fmt.Printf("OK: inserted %d entries in %s\n", n, time.Since(start))
}

func (r *REPL) cmdBench(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: bench <count>")
		return
	}

	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Error parsing count: %v\n", err)
		return
	}

	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("bench-key-%d", i))
	}

	val := []byte("benchmark value payload")

	putStart := time.Now()

	for _, k := range keys {
		if _, _, err := r.m.Put(k, val); err != nil {
			fmt.Printf("Error during put: %v\n", err)
			return
		}
	}

	putElapsed := time.Since(putStart)

	getStart := time.Now()

	for _, k := range keys {
		if _, _, err := r.m.Get(k); err != nil {
			fmt.Printf("Error during get: %v\n", err)
			return
		}
	}

	getElapsed := time.Since(getStart)

	fmt.Printf("put: %d ops in %s (%.0f ops/sec)\n", n, putElapsed, float64(n)/putElapsed.Seconds())
	fmt.Printf("get: %d ops in %s (%.0f ops/sec)\n", n, getElapsed, float64(n)/getElapsed.Seconds())
}
