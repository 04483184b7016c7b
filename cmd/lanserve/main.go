// Command lanserve shares a directory read-only over HTTP with machines on
// the local network.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"

	"example.com/lanserve/internal/config"
	"example.com/lanserve/internal/logger"
	"example.com/lanserve/internal/server"
)

const version = "1.0.2"

// startServer runs a constructed server until it stops. Tests replace it.
var startServer = func(s *server.Server) error { return s.Start() }

type options struct {
	directory   string
	port        string
	private     bool
	allowParent bool
	prettyPrint bool
	logFile     string
	configPath  string
	metrics     string
	version     bool
	help        bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("lanserve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.directory, "directory", "", "directory to share")
	fs.StringVar(&opts.directory, "d", "", "shorthand for --directory")
	fs.StringVar(&opts.port, "port", "", "port to listen on (default 80)")
	fs.StringVar(&opts.port, "p", "", "shorthand for --port")
	fs.BoolVar(&opts.private, "private", false, "only accept connections on 127.0.0.1 and ::1")
	fs.BoolVar(&opts.allowParent, "allow-parent-directories", false, "allow sharing a directory that contains this program")
	fs.BoolVar(&opts.prettyPrint, "pretty-print", false, "human readable log output")
	fs.StringVar(&opts.logFile, "log-file", "", "also append log records to this file")
	fs.StringVar(&opts.logFile, "l", "", "shorthand for --log-file")
	fs.StringVar(&opts.configPath, "config", "", "optional configuration file (JSON, TOML or YAML)")
	fs.StringVar(&opts.metrics, "metrics", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	fs.BoolVar(&opts.version, "v", false, "shorthand for --version")
	fs.BoolVar(&opts.help, "help", false, "print this help and exit")
	fs.BoolVar(&opts.help, "h", false, "shorthand for --help")
	fs.BoolVar(&opts.help, "usage", false, "same as --help")
	fs.Usage = func() { printUsage(fs.Output(), fs) }
	return fs
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage:\n    %s directory [port] <flags>\n\nAvailable flags:\n", fs.Name())
	out := fs.Output()
	fs.SetOutput(w)
	fs.PrintDefaults()
	fs.SetOutput(out)
}

// parseArgs accepts flags before, between and after the positional
// directory and port arguments.
func parseArgs(fs *flag.FlagSet, args []string) (positional []string, err error) {
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func fail(w io.Writer, format string, a ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(w, "Error: ")
	fmt.Fprintf(w, format+"\n", a...)
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	positional, err := parseArgs(fs, args)
	if err != nil {
		return server.ExitUsage
	}
	if opts.version {
		fmt.Fprintf(stdout, "Version %s\n", version)
		return server.ExitOK
	}
	if opts.help {
		printUsage(stdout, fs)
		return server.ExitOK
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if len(positional) > 0 && opts.directory == "" {
		opts.directory = positional[0]
		set["directory"] = true
	}
	if len(positional) > 1 && opts.port == "" {
		opts.port = positional[1]
		set["port"] = true
	}
	if len(positional) > 2 {
		fail(stderr, "unexpected arguments: %v", positional[2:])
		fs.Usage()
		return server.ExitUsage
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fail(stderr, "%v", err)
		return server.ExitUsage
	}
	applyFlags(cfg, &opts, set)
	if err := config.Validate(cfg); err != nil {
		fail(stderr, "%v", err)
		return server.ExitUsage
	}

	if cfg.Server.Directory == nil || *cfg.Server.Directory == "" {
		fail(stderr, "a directory to share is required")
		fs.Usage()
		return server.ExitDirectory
	}
	exeDir, err := config.ExecutableDir()
	if err != nil {
		exeDir = ""
	}
	dir, err := config.CheckDirectory(*cfg.Server.Directory, *cfg.Server.AllowParentDirectories, exeDir)
	if err != nil {
		switch {
		case errors.Is(err, config.ErrDirectoryMissing):
			fail(stderr, "Directory does not exist: %s", *cfg.Server.Directory)
		case errors.Is(err, config.ErrNotDirectory):
			fail(stderr, "Directory path does not point to a directory: %s", *cfg.Server.Directory)
		default:
			fail(stderr, "%v", err)
		}
		return server.ExitDirectory
	}
	cfg.Server.Directory = &dir

	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fail(stderr, "%v", err)
		return server.ExitUsage
	}
	defer lg.CloseLogFiles()

	srv, err := server.NewServer(cfg, lg)
	if err != nil {
		lg.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		return server.ExitUsage
	}
	err = startServer(srv)
	if err != nil {
		lg.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
	}
	return server.ExitCode(err)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

// applyFlags copies explicitly set flags over the configuration. A port that
// is not a number in 0..65535 is ignored.
func applyFlags(cfg *config.Config, opts *options, set map[string]bool) {
	if set["directory"] || set["d"] {
		cfg.Server.Directory = &opts.directory
	}
	if set["port"] || set["p"] {
		if n, err := strconv.Atoi(opts.port); err == nil && n >= 0 && n <= 65535 {
			cfg.Server.Port = &n
		}
	}
	if set["private"] {
		cfg.Server.Private = &opts.private
	}
	if set["allow-parent-directories"] {
		cfg.Server.AllowParentDirectories = &opts.allowParent
	}
	if set["pretty-print"] && opts.prettyPrint {
		cfg.Logging.Format = config.LogFormatConsole
	}
	if set["log-file"] || set["l"] {
		cfg.Logging.File = &opts.logFile
	}
	if set["metrics"] {
		cfg.Metrics.Address = &opts.metrics
	}
}
