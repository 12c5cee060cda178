package cli

import (
	"context"
	"io"
	"log/slog"

	flag "github.com/spf13/pflag"

	"github.com/hupe1980/textgo"
)

// Commands returns every subcommand in help order.
func Commands() []*Command {
	return []*Command{
		AddCmd(),
		DeleteCmd(),
		GetCmd(),
		SearchCmd(),
		StatsCmd(),
		HealthCmd(),
		CompactCmd(),
		BackupCmd(),
	}
}

type globalFlags struct {
	dir      string
	config   string
	logLevel string
}

// Run is the main entry point. args excludes the program name. It returns
// the exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string) int {
	o := NewIO(out, errOut)

	var g globalFlags
	fs := flag.NewFlagSet("textgo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVarP(&g.dir, "dir", "d", "", "data directory (overrides the config file)")
	fs.StringVarP(&g.config, "config", "c", "", "YAML config file")
	fs.StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		o.ErrPrintln("error:", err)
		printUsage(o, fs)
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printUsage(o, fs)
		return 0
	}

	var cmd *Command
	for _, c := range Commands() {
		if c.Name() == rest[0] {
			cmd = c
			break
		}
	}
	if cmd == nil {
		o.ErrPrintln("error: unknown command:", rest[0])
		printUsage(o, fs)
		return 1
	}

	done, err := cmd.parse(o, rest[1:])
	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		cmd.PrintHelp(o)
		return 1
	}
	if done {
		return 0
	}

	db, err := open(g)
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	err = cmd.Exec(ctx, db, o, cmd.Flags.Args())
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	return 0
}

func open(g globalFlags) (*textgo.DB, error) {
	cfg, err := textgo.LoadConfig(g.config)
	if err != nil {
		return nil, err
	}
	if g.dir != "" {
		cfg.DataDir = g.dir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, err
	}
	// One-shot invocations do not wait for background merges.
	cfg.CompactionInterval = 0
	return textgo.OpenConfig(cfg, textgo.WithLogLevel(level))
}

func printUsage(o *IO, fs *flag.FlagSet) {
	o.Println("Usage: textgo [global flags] <command> [flags] [args]")
	o.Println()
	o.Println("Commands:")
	for _, c := range Commands() {
		o.Println(c.HelpLine())
	}
	o.Println()
	o.Println("Global flags:")
	o.Printf("%s", fs.FlagUsages())
}
