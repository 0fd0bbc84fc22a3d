// fluentcat forwards lines of text to a Fluentd collector, one log event per
// line, using the same wire format as the fluentd package.
//
// Lines are read from the files named on the command line, or from stdin when
// there are none. Every event carries the properties Line, File, LineNumber
// and RunId, where RunId is a fresh UUID per invocation.
//
//	tail -F app.log | fluentcat --tag app.raw --host collector.internal
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	fluentd "github.com/ersintarhan/fluentd-logstash"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		flagCfg    Config
	)

	flagSet := pflag.NewFlagSet("fluentcat", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVarP(&flagCfg.Tag, "tag", "t", "", "tag attached to every record")
	flagSet.StringVar(&flagCfg.Host, "host", "", "collector host (default localhost)")
	flagSet.IntVarP(&flagCfg.Port, "port", "p", 0, "collector port (default 24224)")
	flagSet.StringVar(&flagCfg.Network, "network", "", "tcp or tls")
	flagSet.StringVar(&flagCfg.Codec, "codec", "", "json or msgpack")
	flagSet.IntVar(&flagCfg.SendTimeoutMs, "send-timeout-ms", 0, "connect and write timeout in milliseconds")
	flagSet.IntVar(&flagCfg.RetryAmount, "retry-amount", 0, "send attempts per event")
	flagSet.StringVarP(&flagCfg.Level, "level", "l", "", "level of forwarded events: debug, info, warn, error")
	flagSet.BoolVarP(&flagCfg.Verbose, "verbose", "v", false, "write debug output to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg := &Config{}
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	overlayFlags(cfg, &flagCfg, flagSet)

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating diagnostics logger: %w", err)
	}
	defer zlog.Sync()

	fwd, err := fluentd.NewForwarderCustom(settings, fluentd.ZapDiagnostics(zlog))
	if err != nil {
		return err
	}
	defer fwd.Close()

	batcher, err := fluentd.NewBatcher(fwd, settings)
	if err != nil {
		return err
	}

	handler := fluentd.NewHandlerCustom(batcher, &fluentd.HandlerOptions{
		Level:   slog.LevelDebug,
		Verbose: cfg.Verbose,
	})
	logger := slog.New(handler).With("RunId", uuid.NewString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// restore default handling after the first signal, so a second one kills
	// the process even if draining hangs
	go func() {
		<-ctx.Done()
		stop()
	}()

	inputs := flagSet.Args()
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	var readErr error
	for _, name := range inputs {
		if readErr = forwardFile(ctx, logger, level, name); readErr != nil {
			break
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("batcher did not drain before the deadline", zap.Error(err))
	}

	if cfg.Verbose {
		s := fwd.Stats()
		fmt.Fprintf(os.Stderr, "delivered=%d dropped=%d serialization_failures=%d failed_attempts=%d connects=%d\n",
			s.Delivered, s.Dropped, s.SerializationFailures, s.FailedAttempts, s.Connects)
	}

	return readErr
}

func forwardFile(ctx context.Context, logger *slog.Logger, level slog.Level, name string) error {
	if name == "-" {
		return forwardLines(ctx, logger, level, "stdin", os.Stdin)
	}

	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return forwardLines(ctx, logger, level, name, f)
}

// forwardLines logs every line of r until EOF or until ctx is done. Lines are
// read in their own goroutine, so a read blocked on a terminal does not delay
// cancellation.
func forwardLines(ctx context.Context, logger *slog.Logger, level slog.Level, display string, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return fmt.Errorf("reading %s: %w", display, err)
				}
				return nil
			}
			n++
			logger.Log(ctx, level, line,
				"Line", line,
				"File", display,
				"LineNumber", n,
			)
		}
	}
}

// overlayFlags copies every flag the user set explicitly over the file config.
func overlayFlags(cfg, flags *Config, fs *pflag.FlagSet) {
	if fs.Changed("tag") {
		cfg.Tag = flags.Tag
	}
	if fs.Changed("host") {
		cfg.Host = flags.Host
	}
	if fs.Changed("port") {
		cfg.Port = flags.Port
	}
	if fs.Changed("network") {
		cfg.Network = flags.Network
	}
	if fs.Changed("codec") {
		cfg.Codec = flags.Codec
	}
	if fs.Changed("send-timeout-ms") {
		cfg.SendTimeoutMs = flags.SendTimeoutMs
	}
	if fs.Changed("retry-amount") {
		cfg.RetryAmount = flags.RetryAmount
	}
	if fs.Changed("level") {
		cfg.Level = flags.Level
	}
	if fs.Changed("verbose") {
		cfg.Verbose = flags.Verbose
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func printHelp(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: fluentcat [flags] [file...]\n\n")
	fmt.Fprintf(os.Stderr, "Forward lines of text to a Fluentd collector, one event per line.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fs.PrintDefaults()
}
