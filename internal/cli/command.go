// Package cli implements the textgo command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/hupe1980/textgo"
)

// Command is one subcommand. Exec receives the opened database.
type Command struct {
	Flags *flag.FlagSet

	// Usage is shown after "textgo" in help, starting with the command name.
	Usage string
	Short string

	Exec func(ctx context.Context, db *textgo.DB, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "textgo <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: textgo", c.Usage)
	o.Println()
	o.Println(c.Short)
	if c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// parse parses args. It returns done when help was printed.
func (c *Command) parse(o *IO, args []string) (done bool, err error) {
	c.Flags.SetOutput(io.Discard)
	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// IO collects command output.
type IO struct {
	out    io.Writer
	errOut io.Writer
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

func (o *IO) Println(a ...any) { _, _ = fmt.Fprintln(o.out, a...) }

func (o *IO) Printf(format string, a ...any) { _, _ = fmt.Fprintf(o.out, format, a...) }

func (o *IO) ErrPrintln(a ...any) { _, _ = fmt.Fprintln(o.errOut, a...) }
