package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/TFMV/blotter"
	"github.com/TFMV/blotter/auth"
	"github.com/TFMV/blotter/config"
	"github.com/TFMV/blotter/db"
	"github.com/TFMV/blotter/flight"
	"github.com/docopt/docopt.go"
	"go.uber.org/zap"
)

const version = "0.1.0"

const usage = `blotter: correlate arrest and crime records.

Usage:
  blotter run [--config=<file>] [--arrests=<path>] [--crimes=<path>] [--out=<dir>] [--top=<n>] [--threshold=<n>] [--workers=<n>] [--debug]
  blotter serve [--config=<file>] [--results=<dir>] [--addr=<addr>] [--debug]
  blotter (-h | --help)
  blotter --version

Options:
  -h --help           Show this screen.
  --version           Show version.
  --config=<file>     YAML configuration file.
  --arrests=<path>    Arrest records, a local path or gs://bucket/object.
  --crimes=<path>     Crime records, a local path or gs://bucket/object.
  --out=<dir>         Output directory.
  --top=<n>           Number of entries in the top-N rankings.
  --threshold=<n>     Minimum count for the filtered crime type chart.
  --workers=<n>       Worker pool size.
  --results=<dir>     Directory of a finished run to serve.
  --addr=<addr>       Flight listen address.
  --debug             Development logging.
`

func main() {
	arguments, err := docopt.ParseArgs(usage, os.Args[1:], "blotter version "+version)
	if err != nil {
		fail(err)
	}

	logger, err := newLogger(arguments)
	if err != nil {
		fail(fmt.Errorf("failed to initialize logger: %w", err))
	}
	defer logger.Sync()

	cfg, err := config.Load(str(arguments, "--config"))
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serve, _ := arguments.Bool("serve"); serve {
		err = runServe(ctx, cfg, arguments, logger)
	} else {
		err = runBatch(ctx, cfg, arguments, logger)
	}
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		_ = logger.Sync()
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func newLogger(arguments docopt.Opts) (*zap.Logger, error) {
	if debug, _ := arguments.Bool("--debug"); debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// str returns an optional string argument, or "" when it was not given.
func str(arguments docopt.Opts, key string) string {
	s, _ := arguments[key].(string)
	return s
}

// ---------------------------------------------------------------------
// run
// ---------------------------------------------------------------------

func runBatch(ctx context.Context, cfg *config.Config, arguments docopt.Opts, logger *zap.Logger) error {
	if v := str(arguments, "--arrests"); v != "" {
		cfg.Arrests = v
	}
	if v := str(arguments, "--crimes"); v != "" {
		cfg.Crimes = v
	}
	if v := str(arguments, "--out"); v != "" {
		cfg.OutDir = v
	}
	if v := str(arguments, "--top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--top: %w", err)
		}
		cfg.TopN = n
	}
	if v := str(arguments, "--threshold"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("--threshold: %w", err)
		}
		cfg.Threshold = n
	}
	if v := str(arguments, "--workers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--workers: %w", err)
		}
		cfg.Workers = n
	}

	res, err := blotter.Run(ctx, cfg, logger)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %d correlated rows, %d artifacts in %s\n",
		res.RunID, res.Rows["correlated"], len(res.Artifacts), res.OutDir)
	return nil
}

// ---------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------

func runServe(ctx context.Context, cfg *config.Config, arguments docopt.Opts, logger *zap.Logger) error {
	dir := cfg.OutDir
	if v := str(arguments, "--results"); v != "" {
		dir = v
	}
	addr := cfg.FlightAddr
	if v := str(arguments, "--addr"); v != "" {
		addr = v
	}

	catalog := db.New()
	defer catalog.Close()
	n, err := catalog.Restore(dir)
	if err != nil {
		return err
	}
	logger.Info("catalog restored", zap.String("dir", dir), zap.Int("tables", n))

	// A nil Authenticator disables authorization.
	var (
		authn auth.Authenticator
		roles auth.RoleManager
	)
	if len(cfg.FlightTokens) > 0 {
		static, err := auth.ParseTokens(cfg.FlightTokens)
		if err != nil {
			return err
		}
		authn, roles = static, static
		logger.Info("flight authorization enabled", zap.Int("tokens", static.Len()))
	}

	srv := flight.NewServer(flight.NewBlotterFlightService(catalog, authn, roles, logger))
	if err := srv.Init(addr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()
	logger.Info("flight server started", zap.String("addr", srv.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.Error(ctx.Err()))
		srv.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}
