// skitool runs and serves SKI combinator programs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/ski/compiler"
	"github.com/chazu/ski/manifest"
	"github.com/chazu/ski/server"
	"github.com/chazu/ski/vm"

	_ "github.com/tliron/commonlog/simple"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: skitool <command> [options] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run [file]       Reduce a program (stdin if no file) and print every step\n")
	fmt.Fprintf(os.Stderr, "  serve            Start the reduction service (Connect + gRPC)\n")
	fmt.Fprintf(os.Stderr, "  lsp              Start the language server on stdio\n")
	fmt.Fprintf(os.Stderr, "  remote [file]    Reduce a program on a running reduction service\n")
	fmt.Fprintf(os.Stderr, "  dump <image>     Summarize a heap image written by run -dump\n")
	fmt.Fprintf(os.Stderr, "\nRun 'skitool <command> -h' for command options.\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  echo 'S K K a' | skitool run         # Reduce from stdin\n")
	fmt.Fprintf(os.Stderr, "  skitool run -steps 100 omega.ski     # Stop after 100 rewrites\n")
	fmt.Fprintf(os.Stderr, "  skitool serve -addr :8080            # Serve on :8080\n")
	fmt.Fprintf(os.Stderr, "  skitool remote -grpc -trace prog.ski # Stream steps over gRPC\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		err = runCommand(args)
	case "serve":
		err = serveCommand(args)
	case "lsp":
		err = lspCommand(args)
	case "remote":
		err = remoteCommand(args)
	case "dump":
		err = dumpCommand(args, os.Stdout)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "skitool %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadManifest reads an explicit configuration file, or looks for ski.toml
// from the working directory upward, and applies its log section.
func loadManifest(path string) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	var err error
	if path != "" {
		m, err = manifest.LoadFile(path)
	} else {
		m, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	m.ConfigureLogging()
	return m, nil
}

// readSource reads the named file, or standard input when name is empty
// or "-".
func readSource(name string) (string, error) {
	if name == "" || name == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(name)
	return string(data), err
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	config := fs.String("config", "", "Configuration file (default: nearest ski.toml)")
	steps := fs.Int("steps", -1, "Maximum rewrites, 0 for unbounded (default: from config)")
	dump := fs.String("dump", "", "Write a heap image here at shutdown")
	style := fs.String("style", "", "Print style: spaced or compact (default: from config)")
	stats := fs.Bool("stats", false, "Print step and collection counts to stderr")
	fs.Parse(args)

	m, err := loadManifest(*config)
	if err != nil {
		return err
	}
	if *steps >= 0 {
		m.Run.MaxSteps = *steps
	}
	if *dump != "" {
		m.Run.Dump = *dump
	}
	if *style != "" {
		m.Print.Style = *style
	}
	if err := m.Validate(); err != nil {
		return err
	}

	src, err := readSource(fs.Arg(0))
	if err != nil {
		return err
	}

	return runProgram(context.Background(), m, src, os.Stdout, os.Stderr, *stats)
}

// runProgram parses and reduces src, writing every form to out and notices
// to errOut. Once the program has parsed, the heap is released (and dumped,
// if configured) even when the reduction fails.
func runProgram(ctx context.Context, m *manifest.Manifest, src string, out, errOut io.Writer, stats bool) error {
	store := vm.NewStore(m.StoreOptions()...)
	if _, err := compiler.Parse(store, src); err != nil {
		return err
	}

	res, runErr := vm.Run(ctx, store, vm.RunOptions{
		Style:    m.Style(),
		MaxSteps: m.Run.MaxSteps,
		Emit:     vm.WriterEmitter(out),
	})
	if runErr == nil {
		if stats {
			st := store.Stats()
			fmt.Fprintf(errOut, "%d steps (S=%d K=%d I=%d), %d collections, %d/%d cells\n",
				res.Steps, res.Rules[vm.RuleS], res.Rules[vm.RuleK], res.Rules[vm.RuleI],
				st.Collections, st.Used, st.Capacity)
		}
		if res.Truncated {
			fmt.Fprintf(errOut, "stopped after %d steps without reaching normal form\n", res.Steps)
		}
	}

	return errors.Join(runErr, shutdown(store, m.Run.Dump))
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

// ---------------------------------------------------------------------------
// serve / lsp
// ---------------------------------------------------------------------------

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	config := fs.String("config", "", "Configuration file (default: nearest ski.toml)")
	addr := fs.String("addr", "", "Listen address (default: from config, "+manifest.DefaultAddr+")")
	fs.Parse(args)

	m, err := loadManifest(*config)
	if err != nil {
		return err
	}
	if *addr != "" {
		m.Server.Addr = *addr
	}

	srv := server.New(server.WithManifest(m))
	defer srv.Stop()
	return srv.ListenAndServe(m.Server.Addr)
}

func lspCommand(args []string) error {
	fs := flag.NewFlagSet("lsp", flag.ExitOnError)
	config := fs.String("config", "", "Configuration file (default: nearest ski.toml)")
	fs.Parse(args)

	m, err := loadManifest(*config)
	if err != nil {
		return err
	}
	return server.NewLSP(server.WithManifest(m)).Run()
}
