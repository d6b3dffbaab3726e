// Package blotter correlates arrest records with crime records and reports
// on the result. Run executes one batch pass over the two inputs.
package blotter

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/TFMV/blotter/config"
	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/TFMV/blotter/report"
	"github.com/TFMV/blotter/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Result summarizes a finished run.
type Result struct {
	RunID     string
	OutDir    string
	Rows      map[string]int64
	Artifacts []string
	Skipped   []string
}

// aggregates holds the grouped counts the reporter and results database
// consume.
type aggregates struct {
	byAreaName  *query.Counts
	byAreaID    *query.Counts
	byCrimeType *query.Counts
	byDate      *query.Counts
}

// Run loads both inputs, correlates them, aggregates and scales the result
// and writes every artifact into cfg.OutDir. Artifacts appear only when the
// whole report succeeded.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	spec, err := cfg.JoinSpec()
	if err != nil {
		return nil, err
	}
	snapshotCodec, err := storage.ParseCodec(cfg.SnapshotCodec)
	if err != nil {
		return nil, err
	}
	parquetCodec, err := storage.ParseCodec(cfg.ParquetCodec)
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	res := &Result{
		RunID:  uuid.NewString(),
		OutDir: cfg.OutDir,
		Rows:   make(map[string]int64),
	}
	logger = logger.With(zap.String("run_id", res.RunID))
	logger.Info("run started",
		zap.String("arrests", cfg.Arrests),
		zap.String("crimes", cfg.Crimes),
		zap.String("out_dir", cfg.OutDir))

	var gcsOpts []option.ClientOption
	if cfg.GoogleCredentials != "" {
		gcsOpts = append(gcsOpts, option.WithCredentialsFile(cfg.GoogleCredentials))
	}

	engine := query.NewEngine(query.EngineOptions{
		Workers:     cfg.Workers,
		BatchSize:   cfg.BatchSize,
		Index:       cfg.Index,
		BloomFPRate: cfg.BloomFPRate,
		Logger:      logger,
	})
	defer engine.Close()

	// ---------------------------------------------------------------------
	// Load and project
	// ---------------------------------------------------------------------

	loadOpts := dataset.LoadOptions{
		Delimiter:     cfg.DelimiterRune(),
		BatchSize:     cfg.BatchSize,
		DateCacheSize: cfg.DateCacheSize,
	}
	arrests, err := loadProjected(ctx, cfg.Arrests, cfg.DropArrests, loadOpts, logger, gcsOpts)
	if err != nil {
		return nil, err
	}
	defer arrests.Release()
	crimes, err := loadProjected(ctx, cfg.Crimes, cfg.DropCrimes, loadOpts, logger, gcsOpts)
	if err != nil {
		return nil, err
	}
	defer crimes.Release()
	res.Rows["arrests"] = arrests.NumRows()
	res.Rows["crimes"] = crimes.NumRows()

	// ---------------------------------------------------------------------
	// Correlate, aggregate, scale
	// ---------------------------------------------------------------------

	correlated, err := engine.Join(ctx, arrests, crimes, spec)
	if err != nil {
		return nil, fmt.Errorf("correlate: %w", err)
	}
	defer correlated.Release()
	res.Rows["correlated"] = correlated.NumRows()

	aggs, err := aggregate(ctx, engine, correlated, cfg)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scaled, _, err := engine.Normalize(ctx, correlated, cfg.ScaleColumns)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	defer scaled.Release()
	res.Rows["scaled"] = scaled.NumRows()

	// ---------------------------------------------------------------------
	// Report into a staging directory, then commit
	// ---------------------------------------------------------------------

	stage, err := storage.Stage(cfg.OutDir)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := stage.Abort(); err != nil {
				logger.Warn("failed to remove staging directory", zap.Error(err))
			}
		}
	}()

	rep := report.New(parquetCodec, int64(cfg.BatchSize), logger)
	res.Skipped, err = rep.Write(ctx, stage.Path, report.Inputs{
		Correlated:  correlated,
		Scaled:      scaled,
		ByAreaName:  aggs.byAreaName,
		ByAreaID:    aggs.byAreaID,
		ByCrimeType: aggs.byCrimeType,
		ByDate:      aggs.byDate,
		TopN:        cfg.TopN,
		Threshold:   cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	if err := storage.SaveTable(stage.Path(report.SnapshotFile), correlated, snapshotCodec); err != nil {
		return nil, err
	}
	if err := storage.SaveTable(stage.Path(report.ScaledSnapshot), scaled, snapshotCodec); err != nil {
		return nil, err
	}
	if err := report.WriteMetrics(stage.Path(report.MetricsFile)); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	manifest := &report.Manifest{
		RunID:     res.RunID,
		Started:   started,
		Finished:  time.Now().UTC(),
		Rows:      res.Rows,
		Artifacts: artifacts(res.Skipped),
		Skipped:   res.Skipped,
		Config:    cfg,
	}
	if err := report.WriteManifest(stage.Path(report.ManifestFile), manifest); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.Artifacts, err = stage.Commit(report.Artifacts()...); err != nil {
		return nil, err
	}
	committed = true
	logger.Info("artifacts committed",
		zap.String("out_dir", cfg.OutDir),
		zap.Int("artifacts", len(res.Artifacts)))

	// ---------------------------------------------------------------------
	// Optional results database and publishing
	// ---------------------------------------------------------------------

	if cfg.ResultsDriver != "" {
		if err := saveResults(ctx, cfg, res.RunID, aggs); err != nil {
			return nil, err
		}
		logger.Info("results stored", zap.String("driver", cfg.ResultsDriver))
	}
	if cfg.Publish != "" {
		pub, err := storage.NewPublisher(ctx, cfg.Publish, logger, gcsOpts...)
		if err != nil {
			return nil, err
		}
		defer pub.Close()
		if err := pub.Publish(ctx, cfg.OutDir, res.Artifacts); err != nil {
			return nil, err
		}
	}

	logger.Info("run finished",
		zap.Int64("correlated_rows", res.Rows["correlated"]),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

func loadProjected(ctx context.Context, path string, drop []string, opts dataset.LoadOptions, logger *zap.Logger, gcsOpts []option.ClientOption) (*dataset.Table, error) {
	start := time.Now()
	rc, err := storage.Open(ctx, path, gcsOpts...)
	if err != nil {
		return nil, &dataset.LoadError{Path: path, Err: err}
	}
	defer rc.Close()

	raw, err := dataset.Load(path, rc, opts)
	if err != nil {
		return nil, err
	}
	defer raw.Release()

	t, err := raw.Drop(drop...)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", path, err)
	}
	logger.Info("dataset loaded",
		zap.String("path", path),
		zap.Int64("rows", t.NumRows()),
		zap.Int("columns", t.NumCols()),
		zap.Duration("elapsed", time.Since(start)))
	return t, nil
}

func aggregate(ctx context.Context, engine *query.Engine, t *dataset.Table, cfg *config.Config) (*aggregates, error) {
	var (
		aggs aggregates
		err  error
	)
	targets := []struct {
		column string
		dst    **query.Counts
	}{
		{cfg.AreaNameColumn, &aggs.byAreaName},
		{cfg.AreaIDColumn, &aggs.byAreaID},
		{cfg.CrimeTypeColumn, &aggs.byCrimeType},
		{cfg.DateColumn, &aggs.byDate},
	}
	for _, tgt := range targets {
		if *tgt.dst, err = engine.GroupCount(ctx, t, tgt.column); err != nil {
			return nil, fmt.Errorf("aggregate by %s: %w", tgt.column, err)
		}
	}
	return &aggs, nil
}

// artifacts lists the files a run commits, in name order.
func artifacts(skipped []string) []string {
	all := report.Artifacts()
	out := make([]string, 0, len(all))
	for _, name := range all {
		if !slices.Contains(skipped, name) {
			out = append(out, name)
		}
	}
	return out
}

func saveResults(ctx context.Context, cfg *config.Config, runID string, aggs *aggregates) error {
	results, err := storage.OpenResults(ctx, cfg.ResultsDriver, cfg.ResultsDSN)
	if err != nil {
		return err
	}
	defer results.Close()

	rows := func(buckets []query.Bucket) []storage.CountRow {
		out := make([]storage.CountRow, len(buckets))
		for i, b := range buckets {
			out[i] = storage.CountRow{Key: b.Key.String(), Count: b.Count}
		}
		return out
	}
	return results.WriteAll(ctx, runID, map[string][]storage.CountRow{
		storage.AreaCounts:      rows(aggs.byAreaID.ByKey()),
		storage.CrimeTypeCounts: rows(aggs.byCrimeType.ByCount(true)),
		storage.DateTrends:      rows(aggs.byDate.ByKey()),
	})
}
