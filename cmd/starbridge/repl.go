package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.starlark.net/syntax"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/wippyai/starbridge/runtime"
)

func newReplCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Read and evaluate Starlark interactively",
		Long: `Start a read-eval-print loop over the __main__ module.

Expressions print their value. Statements ending in ':' open a block that
runs after an empty line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			a, err := g.newApp(ctx, out)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close(ctx)) }()

			s := &replSession{rt: a.rt, out: out}
			return s.Run(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), isTerminal(cmd.InOrStdin()))
		},
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// replSession feeds source lines to the __main__ module.
type replSession struct {
	rt      *runtime.Runtime
	out     io.Writer
	pending []string
}

// Feed consumes one input line. It reports more when the line opened or
// continued a block that is not complete yet.
func (s *replSession) Feed(ctx context.Context, line string) (more bool, err error) {
	blank := strings.TrimSpace(line) == ""
	if len(s.pending) == 0 {
		if blank {
			return false, nil
		}
		s.pending = append(s.pending, line)
		if strings.HasSuffix(strings.TrimSpace(line), ":") {
			return true, nil
		}
	} else if !blank {
		s.pending = append(s.pending, line)
		return true, nil
	}

	src := strings.Join(s.pending, "\n")
	s.pending = nil
	return false, s.eval(ctx, src)
}

func (s *replSession) eval(ctx context.Context, src string) error {
	if _, err := syntax.ParseExpr("<stdin>", src, 0); err != nil {
		return s.rt.Exec(ctx, "<stdin>", src+"\n")
	}
	v, err := s.rt.Eval(ctx, src)
	if err != nil {
		return err
	}
	if p, ok := v.(*runtime.Proxy); ok {
		defer p.Release()
	}
	if v != nil {
		fmt.Fprintln(s.out, formatValue(v))
	}
	return nil
}

// Run reads lines from in until EOF. Errors are reported on errOut and do
// not stop the loop.
func (s *replSession) Run(ctx context.Context, in io.Reader, errOut io.Writer, prompt bool) error {
	sc := bufio.NewScanner(in)
	more := false
	for {
		if prompt {
			if more {
				fmt.Fprint(s.out, "... ")
			} else {
				fmt.Fprint(s.out, ">>> ")
			}
		}
		if !sc.Scan() {
			break
		}
		var err error
		more, err = s.Feed(ctx, sc.Text())
		if err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
	if more {
		if _, err := s.Feed(ctx, ""); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
	if prompt {
		fmt.Fprintln(s.out)
	}
	return sc.Err()
}
