// Command moji is a command line client for a tracker-based replicated file
// store. It also runs a development storage node.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/config"
)

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	configPath   string
	domain       string
	storageClass string
	logLevel     string
}

// env carries everything a command needs.
type env struct {
	cfg     *config.Config
	opts    globalOptions
	metrics *config.MetricsResult
	stdin   io.Reader
	stdout  io.Writer
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"exists": {"exists <key>", "Report whether a key exists", runExists},
	"length": {"length <key>", "Print the content length of a key", runLength},
	"get":    {"get <key> [file]", "Download a key to file, or to stdout", runGet},
	"put":    {"put [--stream] <key> <file|->", "Upload a file, or stdin with -", runPut},
	"delete": {"delete <key>", "Delete a key", runDelete},
	"rename": {"rename <key> <new-key>", "Rename a key", runRename},
	"class":  {"class <key> <storage-class>", "Change the storage class of a key", runClass},
	"attrs":  {"attrs <key>", "Print the tracker attributes of a key", runAttrs},
	"paths":  {"paths <key>", "Print the replica URLs of a key", runPaths},
	"list":   {"list [--limit n] [prefix]", "List keys of the domain", runList},
	"node":   {"node [--listen addr] [--root dir]", "Run a development storage node", runNode},
	"init":   {"init [--force] [--path file]", "Write a default configuration file", runInit},
}

// errUsage is returned for invalid command lines.
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(os.Stderr, "moji: %v\n", err)
		}
		os.Exit(1)
	}
}

// run parses the command line and executes one command.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts globalOptions
	fs := pflag.NewFlagSet("moji", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/moji/config.yaml)")
	fs.StringVarP(&opts.domain, "domain", "d", "", "Domain (overrides client.domain)")
	fs.StringVar(&opts.storageClass, "class", "", "Storage class (overrides client.storage_class)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	if fs.NArg() == 0 {
		printUsage(stderr, fs)
		return errUsage
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "moji: unknown command %q\n\n", name)
		printUsage(stderr, fs)
		return errUsage
	}

	// init must work without a valid configuration
	if name == "init" {
		err := cmd.run(ctx, &env{opts: opts, stdout: stdout}, fs.Args()[1:])
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "usage: moji %s\n", cmd.usage)
		}
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.domain != "" {
		cfg.Client.Domain = opts.domain
	}
	if opts.storageClass != "" {
		cfg.Client.StorageClass = opts.storageClass
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	if err := configureLogger(&cfg.Logging); err != nil {
		return err
	}

	// Start the metrics server for the lifetime of the command
	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		metricsCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := m.Server.Start(metricsCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	e := &env{cfg: cfg, opts: opts, metrics: m, stdin: stdin, stdout: stdout}
	err = cmd.run(ctx, e, fs.Args()[1:])
	if errors.Is(err, errUsage) {
		_, _ = fmt.Fprintf(stderr, "usage: moji %s\n", cmd.usage)
	}
	return err
}

func configureLogger(cfg *config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutputPath(cfg.Output)
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(w, "Usage: moji [flags] <command> [args]\n\nCommands:\n")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %-36s %s\n", commands[name].usage, commands[name].help)
	}

	_, _ = fmt.Fprintf(w, "\nFlags:\n%s", fs.FlagUsages())
}
