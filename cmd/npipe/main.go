// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// npipe é um canivete para plumbing de streams de linha: um journal
// segmentado append-only, uma ponte de processo com quota de linhas e um
// hub TCP (merge, broadcast, gateway HTTP).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/n-pipe/internal/archive"
	"github.com/nishisan-dev/n-pipe/internal/bridge"
	"github.com/nishisan-dev/n-pipe/internal/config"
	"github.com/nishisan-dev/n-pipe/internal/hub"
	"github.com/nishisan-dev/n-pipe/internal/journal"
	"github.com/nishisan-dev/n-pipe/internal/logging"
)

// Version é a versão do npipe, preenchida via ldflags no build (-X main.Version=x.y.z).
var Version = "dev"

const usageText = `usage: npipe <command> [options]

commands:
  log <path> write   [--max-segment SIZE]
  log <path> read    [--cursor N] [--follow] [--track]
  log <path> archive --config FILE [--once]
  exec [--max-lines N] -- <command> [args...]
  stream --port P [--limit SIZE] [--stats-interval D] <http|merge|broadcast> [mode options]
  version

logging options (log write, log read, exec, stream): --log-level, --log-format, --log-file
(log archive takes its logging settings from the config file)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "log":
		runLog(os.Args[2:])
	case "exec":
		runExec(os.Args[2:])
	case "stream":
		runStream(os.Args[2:])
	case "version":
		fmt.Println(Version)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usageText)
		os.Exit(2)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loggingFlags registra as flags de logging comuns em um FlagSet.
func loggingFlags(fs *flag.FlagSet) *config.LoggingInfo {
	info := &config.LoggingInfo{}
	fs.StringVar(&info.Level, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&info.Format, "log-format", "json", "log format (json, text)")
	fs.StringVar(&info.File, "log-file", "", "also append logs to this file")
	return info
}

func buildLogger(info *config.LoggingInfo) (*slog.Logger, io.Closer) {
	return logging.NewLogger(info.Level, info.Format, info.File)
}

func runLog(args []string) {
	if len(args) < 2 {
		fatal("log requires a path and a subcommand (write, read, archive)")
	}
	path, sub := args[0], args[1]
	rest := args[2:]

	switch sub {
	case "write":
		fs := flag.NewFlagSet("log write", flag.ExitOnError)
		maxSegment := fs.String("max-segment", "100mb", "maximum size for each segment")
		logInfo := loggingFlags(fs)
		fs.Parse(rest)

		opts := config.LogOptions{Dir: path, MaxSegment: *maxSegment}
		if err := opts.Validate(); err != nil {
			fatal("%v", err)
		}

		logger, closer := buildLogger(logInfo)
		defer closer.Close()

		w, err := journal.NewWriter(opts.Dir, opts.MaxSegmentBytes, logger)
		if err != nil {
			fatal("opening journal: %v", err)
		}
		if err := w.Consume(os.Stdin); err != nil {
			w.Close()
			fatal("writing journal: %v", err)
		}
		if err := w.Close(); err != nil {
			fatal("closing journal: %v", err)
		}

	case "read":
		fs := flag.NewFlagSet("log read", flag.ExitOnError)
		cursor := fs.Int64("cursor", 0, "byte cursor to read from")
		follow := fs.Bool("follow", false, "wait for additional data to be appended")
		track := fs.Bool("track", false, "write the post-line cursor of each line to stderr")
		logInfo := loggingFlags(fs)
		fs.Parse(rest)

		opts := config.LogOptions{Dir: path, Cursor: *cursor, Follow: *follow, Track: *track}
		if err := opts.Validate(); err != nil {
			fatal("%v", err)
		}

		logger, closer := buildLogger(logInfo)
		defer closer.Close()

		ropts := journal.ReaderOptions{Cursor: opts.Cursor, Follow: opts.Follow}
		if opts.Track {
			ropts.Track = os.Stderr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r := journal.NewReader(opts.Dir, ropts, logger)
		if err := r.Run(ctx, os.Stdout); err != nil && ctx.Err() == nil {
			fatal("reading journal: %v", err)
		}

	case "archive":
		fs := flag.NewFlagSet("log archive", flag.ExitOnError)
		configPath := fs.String("config", "", "path to archive config file (required)")
		once := fs.Bool("once", false, "run a single archive pass and exit")
		fs.Parse(rest)

		if *configPath == "" {
			fatal("log archive: --config is required")
		}
		cfg, err := config.LoadArchiveConfig(*configPath)
		if err != nil {
			fatal("loading config: %v", err)
		}

		logger, closer := buildLogger(&cfg.Logging)
		defer closer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		uploader, err := archive.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			fatal("creating uploader: %v", err)
		}
		archiver := archive.NewArchiver(path, cfg.Compress.Level, uploader, logger)

		if *once {
			if _, err := archiver.RunOnce(ctx); err != nil {
				fatal("archive pass: %v", err)
			}
			return
		}

		sched, err := archive.NewScheduler(cfg.Schedule, archiver, logger)
		if err != nil {
			fatal("%v", err)
		}
		sched.Start()
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sched.Stop(stopCtx)

	default:
		fatal("unknown log subcommand %q (want write, read or archive)", sub)
	}
}

func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	maxLines := fs.Int64("max-lines", 0, "lines sent to the child before restarting it (0 = never)")
	logInfo := loggingFlags(fs)
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		fatal("exec requires a command (npipe exec [--max-lines N] -- <command> [args...])")
	}

	opts := config.ExecOptions{Command: rest[0], Args: rest[1:], MaxLines: *maxLines}
	if err := opts.Validate(); err != nil {
		fatal("%v", err)
	}

	logger, closer := buildLogger(logInfo)

	b := bridge.New(opts.Command, opts.Args, opts.MaxLines, os.Stdin, os.Stdout, os.Stderr, logger)
	status, err := b.Run()
	closer.Close()
	if err != nil {
		fatal("%v", err)
	}
	os.Exit(status)
}

func runStream(args []string) {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	port := fs.Int("port", 0, "TCP port to listen on (required)")
	limit := fs.String("limit", "", "per-subscriber write rate limit, e.g. 1mb (broadcast)")
	statsInterval := fs.Duration("stats-interval", 5*time.Minute, "interval between stats reports")
	logInfo := loggingFlags(fs)
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		fatal("stream requires a mode (http, merge or broadcast)")
	}
	mode := rest[0]

	opts := config.StreamOptions{
		Port:          *port,
		Mode:          mode,
		Limit:         *limit,
		StatsInterval: *statsInterval,
	}

	switch mode {
	case config.StreamBroadcast:
		mfs := flag.NewFlagSet("stream broadcast", flag.ExitOnError)
		history := mfs.Int("history", 0, "lines kept in memory to be sent immediately to new connections")
		mfs.Parse(rest[1:])
		opts.History = *history
	case config.StreamHTTP:
		mfs := flag.NewFlagSet("stream http", flag.ExitOnError)
		responseTimeout := mfs.Duration("response-timeout", 0, "maximum wait for a response line (0 = forever)")
		mfs.Parse(rest[1:])
		opts.ResponseTimeout = *responseTimeout
	}

	if err := opts.Validate(); err != nil {
		fatal("%v", err)
	}

	logger, closer := buildLogger(logInfo)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := hub.Run(ctx, &opts, os.Stdin, os.Stdout, logger); err != nil && ctx.Err() == nil {
		fatal("%v", err)
	}
}
