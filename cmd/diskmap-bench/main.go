// diskmap-bench seeds a diskmap directory with a random workload and
// reports put/get throughput, exercising the incremental rehash path
// across a range of entry counts.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/calvinalkan/diskmap/pkg/diskmap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "diskmap-bench: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("diskmap-bench", pflag.ContinueOnError)

	root := flags.String("root", filepath.Join(os.TempDir(), "diskmap-bench"), "benchmark data root directory")
	countsStr := flags.IntSlice("counts", []int{1_000, 100_000, 1_000_000}, "entry counts to benchmark")
	keySize := flags.Int("key-size", 16, "random key size in bytes")
	valSize := flags.Int("val-size", 64, "random value size in bytes")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: diskmap-bench [flags]\n\nFlags:\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}

	for _, count := range *countsStr {
		if err := benchOne(*root, count, *keySize, *valSize); err != nil {
			return fmt.Errorf("count=%d: %w", count, err)
		}
	}

	return nil
}

func benchOne(root string, count, keySize, valSize int) error {
	dir := filepath.Join(root, fmt.Sprintf("%d", count))

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing %q: %w", dir, err)
	}

	m, err := diskmap.Create(diskmap.Options{Dir: dir})
	if err != nil {
		return fmt.Errorf("creating map: %w", err)
	}
	defer m.Close()

	keys := make([][]byte, count)
	vals := make([][]byte, count)

	for i := range keys {
		keys[i] = randomBytes(keySize)
		vals[i] = randomBytes(valSize)
	}

	putStart := time.Now()

	for i := range keys {
		if _, _, err := m.Put(keys[i], vals[i]); err != nil {
			return fmt.Errorf("put entry %d: %w", i, err)
		}
	}

	putElapsed := time.Since(putStart)

	getStart := time.Now()

	for i := range keys {
		if _, _, err := m.Get(keys[i]); err != nil {
			return fmt.Errorf("get entry %d: %w", i, err)
		}
	}

	getElapsed := time.Since(getStart)

	fmt.Printf("count=%-9d put=%-12s (%9.0f ops/sec)  get=%-12s (%9.0f ops/sec)  size=%d\n",
		count, putElapsed, float64(count)/putElapsed.Seconds(),
		getElapsed, float64(count)/getElapsed.Seconds(), m.Size())

	return nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand.Read on Linux only fails if the kernel CSPRNG is broken
	}

	return b
}
