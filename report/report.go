// Package report renders the aggregates and tables of a run as charts,
// CSV and Parquet files and a text digest.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"go.uber.org/zap"
)

// Artifact names.
const (
	AreaChart         = "Number_of_Crimes_by_Area.png"
	CrimeTypeChart    = "Number_of_Arrests_by_Crime_Type.png"
	FilteredChart     = "Number_of_Arrests_by_Crime_Type_filtered.png"
	AreaPieChart      = "Number_of_Crimes_by_Area_MapReduce.png"
	SummaryFile       = "crime_and_arrest_summary_stats.csv"
	ScaledCSVFile     = "scaled_data.csv"
	ScaledParquetFile = "scaled_data.parquet"
	AreaCountsFile    = "crime_count_by_area.csv"
	InsightsFile      = "crime_insights.txt"
	SnapshotFile      = "correlated.arrow"
	ScaledSnapshot    = "scaled.arrow"
	ManifestFile      = "run.yaml"
	MetricsFile       = "metrics.prom"
)

// Artifacts returns the name of every file a run may produce, sorted.
func Artifacts() []string {
	names := []string{
		AreaChart, CrimeTypeChart, FilteredChart, AreaPieChart,
		SummaryFile, ScaledCSVFile, ScaledParquetFile, AreaCountsFile,
		InsightsFile, SnapshotFile, ScaledSnapshot, ManifestFile, MetricsFile,
	}
	sort.Strings(names)
	return names
}

// Inputs is everything the reporter draws from.
type Inputs struct {
	Correlated *dataset.Table
	Scaled     *dataset.Table

	ByAreaName  *query.Counts
	ByAreaID    *query.Counts
	ByCrimeType *query.Counts
	ByDate      *query.Counts

	TopN      int
	Threshold int64
}

// Reporter writes the report artifacts of one run.
type Reporter struct {
	codec    compress.Compression
	rowGroup int64
	logger   *zap.Logger
}

// New returns a Reporter writing Parquet with codec.
func New(codec compress.Compression, rowGroup int64, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{codec: codec, rowGroup: rowGroup, logger: logger}
}

// Write renders every artifact, placing each at path(name). Charts over an
// empty aggregate are skipped with a warning and returned as skipped.
func (r *Reporter) Write(ctx context.Context, path func(name string) string, in Inputs) (skipped []string, err error) {
	start := time.Now()

	charts := []struct {
		name string
		draw func() error
	}{
		{AreaChart, func() error {
			return BarChart(path(AreaChart), "Number of Crimes by Area", "Number of Crimes", in.ByAreaName.ByKey())
		}},
		{CrimeTypeChart, func() error {
			return BarChart(path(CrimeTypeChart), "Number of Arrests by Crime Type", "Number of Arrests", in.ByCrimeType.ByCount(false))
		}},
		{FilteredChart, func() error {
			title := fmt.Sprintf("Number of Arrests by Crime Type (more than %d)", in.Threshold)
			return BarChart(path(FilteredChart), title, "Number of Arrests", query.Threshold(in.ByCrimeType, in.Threshold).ByCount(false))
		}},
		{AreaPieChart, func() error {
			return PieChart(path(AreaPieChart), "Number of Crimes by Area", in.ByAreaName.Buckets())
		}},
	}
	for _, c := range charts {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		if err := c.draw(); err != nil {
			if errors.Is(err, ErrNoData) {
				r.logger.Warn("chart skipped, nothing to plot", zap.String("artifact", c.name))
				skipped = append(skipped, c.name)
				continue
			}
			return skipped, err
		}
	}

	files := []struct {
		name  string
		write func() error
	}{
		{SummaryFile, func() error { return WriteSummary(path(SummaryFile), in.Correlated) }},
		{ScaledCSVFile, func() error { return WriteCSV(path(ScaledCSVFile), in.Scaled) }},
		{ScaledParquetFile, func() error {
			return WriteParquet(path(ScaledParquetFile), in.Scaled, r.codec, r.rowGroup)
		}},
		{AreaCountsFile, func() error {
			return WriteCounts(path(AreaCountsFile), in.ByAreaID.Column, in.ByAreaID.ByKey())
		}},
		{InsightsFile, func() error {
			return WriteInsights(path(InsightsFile), Insights{
				TopAreas:      query.TopN(in.ByAreaID, in.TopN),
				AreaColumn:    in.ByAreaID.Column,
				TopCrimeTypes: query.TopN(in.ByCrimeType, in.TopN),
				CrimeColumn:   in.ByCrimeType.Column,
				Trend:         in.ByDate.ByKey(),
				DateColumn:    in.ByDate.Column,
			})
		}},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		if err := f.write(); err != nil {
			return skipped, err
		}
	}

	r.logger.Info("report written",
		zap.Int("skipped", len(skipped)),
		zap.Duration("elapsed", time.Since(start)))
	return skipped, nil
}
