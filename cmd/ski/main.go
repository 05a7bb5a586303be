// ski reduces an SKI combinator program read from standard input, printing
// every intermediate form until no rewrite applies.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/ski/compiler"
	"github.com/chazu/ski/manifest"
	"github.com/chazu/ski/vm"

	_ "github.com/tliron/commonlog/simple"
)

// chunkSize is the read granularity for standard input.
const chunkSize = 256

func main() {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ski: %v\n", err)
		os.Exit(1)
	}
	m.ConfigureLogging()

	if err := run(context.Background(), m, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ski: %v\n", err)
		os.Exit(1)
	}
}

// run parses the whole of in and reduces it, writing two lines per step to
// out. A parse error writes nothing.
func run(ctx context.Context, m *manifest.Manifest, in io.Reader, out io.Writer) error {
	src, err := readInput(in)
	if err != nil {
		return err
	}

	store := vm.NewStore(m.StoreOptions()...)
	if _, err := compiler.Parse(store, string(src)); err != nil {
		return err
	}

	w := bufio.NewWriter(out)
	_, runErr := vm.Run(ctx, store, vm.RunOptions{
		Style:    m.Style(),
		MaxSteps: m.Run.MaxSteps,
		Emit:     vm.WriterEmitter(w),
	})
	if err := w.Flush(); err != nil && runErr == nil {
		runErr = err
	}

	return errors.Join(runErr, shutdown(store, m.Run.Dump))
}

// readInput reads in to the end in fixed-size chunks appended to a growing
// buffer.
func readInput(in io.Reader) ([]byte, error) {
	r := bufio.NewReaderSize(in, chunkSize)
	var buf []byte
	chunk := make([]byte, chunkSize)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return buf, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
	}
}

// shutdown releases the heap, writing a heap image to path if one is set.
func shutdown(store *vm.Store, path string) error {
	if path == "" {
		return store.Shutdown(nil)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heap dump: %w", err)
	}
	err = store.Shutdown(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
