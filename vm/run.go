package vm

import (
	"context"
	"fmt"
	"io"
)

// Emitter receives each printed form of the program.
type Emitter func(line string) error

// WriterEmitter returns an Emitter that writes one line per form to w.
func WriterEmitter(w io.Writer) Emitter {
	return func(line string) error {
		_, err := io.WriteString(w, line+"\n")
		return err
	}
}

// RunOptions configures Run.
type RunOptions struct {
	Style Style
	// MaxSteps bounds the number of rewrites. Zero means no bound: a term
	// without a normal form runs forever.
	MaxSteps int
	// Emit receives two lines per step: the form right after the rewrite
	// and the form after normalization. Nil discards them.
	Emit Emitter
}

// RunResult summarizes a reduction.
type RunResult struct {
	Steps      int
	Rules      map[Rule]int
	NormalForm string
	// Truncated is set when MaxSteps stopped the reduction early.
	Truncated bool
}

// Run reduces the program held by s until no rule applies. The context is
// checked between steps. An allocation failure is returned as an error
// wrapping ErrHeapExhausted.
func Run(ctx context.Context, s *Store, opts RunOptions) (RunResult, error) {
	res := RunResult{Rules: make(map[Rule]int)}
	emit := opts.Emit
	if emit == nil {
		emit = func(string) error { return nil }
	}

	err := Guard(func() error {
		Normalize(s, RootSlot)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if opts.MaxSteps > 0 && res.Steps >= opts.MaxSteps {
				if _, more := peekRedex(s); more {
					res.Truncated = true
				}
				return nil
			}

			rule, ok := Step(s)
			if !ok {
				return nil
			}
			res.Steps++
			res.Rules[rule]++
			reduceLog.Debugf("step %d: %s", res.Steps, rule)

			if err := emit(FormatRoot(s, opts.Style)); err != nil {
				return fmt.Errorf("vm: emit step %d: %w", res.Steps, err)
			}
			Normalize(s, RootSlot)
			if err := emit(FormatRoot(s, opts.Style)); err != nil {
				return fmt.Errorf("vm: emit step %d: %w", res.Steps, err)
			}
		}
	})

	if s.cells != nil {
		res.NormalForm = FormatRoot(s, opts.Style)
	}
	return res, err
}

// peekRedex reports whether a rewrite is available without performing it.
func peekRedex(s *Store) (Rule, bool) {
	rx, ok := findRedex(s, RootSlot)
	return rx.rule, ok
}
