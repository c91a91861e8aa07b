package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/syssam/porter/internal/config"
)

// app holds the state shared by the commands.
type app struct {
	in          io.Reader
	out, errOut io.Writer
	// interactive reports if the confirmation prompt can be answered.
	interactive func() bool

	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	a := &app{in: in, out: out, errOut: errOut}
	a.interactive = func() bool {
		f, ok := a.in.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	}
	return a
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "porter",
		Short: "Plan and run dependency-ordered row migrations between databases",
		Long: `porter copies the rows of a relational database into another one.

It reads the tables and foreign keys of the source (inspect), computes the
order in which tables can be loaded without violating foreign keys (analyze),
and copies the rows stage by stage (migrate).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "porter.yaml", "Configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: text or json")
	root.AddCommand(a.inspectCommand(), a.analyzeCommand(), a.migrateCommand())
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	logger, err := newLogger(a.errOut, cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, c config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}
