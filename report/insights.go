package report

import (
	"bufio"
	"fmt"
	"os"

	"github.com/TFMV/blotter/query"
)

// Insights is the plain-text digest of a run.
type Insights struct {
	TopAreas      []query.Bucket
	AreaColumn    string
	TopCrimeTypes []query.Bucket
	CrimeColumn   string
	Trend         []query.Bucket
	DateColumn    string
}

// WriteInsights writes the digest to path as three tab-separated sections.
func WriteInsights(path string, in Insights) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("insights: create %q: %w", path, err)
	}
	w := bufio.NewWriter(f)
	section(w, "Top crime areas:", in.AreaColumn, in.TopAreas)
	section(w, "Most common crime types leading to arrests:", in.CrimeColumn, in.TopCrimeTypes)
	section(w, "Crime trends over time:", in.DateColumn, in.Trend)
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("insights: write %q: %w", path, err)
	}
	return f.Close()
}

func section(w *bufio.Writer, title, column string, buckets []query.Bucket) {
	fmt.Fprintln(w, title)
	fmt.Fprintf(w, "%s\tcount\n", column)
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%d\n", b.Key.String(), b.Count)
	}
	fmt.Fprintln(w)
}
