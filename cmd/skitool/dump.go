package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/ski/vm"
)

// dumpCommand decodes a heap image and prints its bookkeeping and program.
func dumpCommand(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	cells := fs.Bool("cells", false, "List every used cell")
	compact := fs.Bool("compact", false, "Print the program in compact style")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: skitool dump [-cells] [-compact] <image>")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	return describeImage(w, data, *cells, *compact)
}

func describeImage(w io.Writer, data []byte, cells, compact bool) error {
	img, err := vm.UnmarshalImage(data)
	if err != nil {
		return err
	}
	store, err := vm.LoadImage(img)
	if err != nil {
		return err
	}

	style := vm.StyleSpaced
	if compact {
		style = vm.StyleCompact
	}

	fmt.Fprintf(w, "Version:      %d\n", img.Version)
	fmt.Fprintf(w, "Capacity:     %d (next %d)\n", img.Capacity, img.NextCapacity)
	fmt.Fprintf(w, "Used cells:   %d\n", img.Used)
	fmt.Fprintf(w, "Collections:  %d\n", img.Collections)
	fmt.Fprintf(w, "Program:      %s\n", vm.FormatRoot(store, style))

	if cells {
		for i := 0; i <= img.Used; i++ {
			ref := vm.FromPair(i)
			fmt.Fprintf(w, "%4d={%v, %v}\n", i, store.Head(ref), store.Tail(ref))
		}
	}
	return nil
}
