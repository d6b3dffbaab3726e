package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 5, c.TopN)
	assert.Equal(t, int64(1000), c.Threshold)
	assert.Equal(t, []string{"Age", "Vict Age", "LAT", "LON"}, c.ScaleColumns)
	assert.Equal(t, ',', c.DelimiterRune())

	spec, err := c.JoinSpec()
	require.NoError(t, err)
	assert.Equal(t, []query.KeyPair{
		{Left: "Area ID", Right: "AREA"},
		{Left: "Reporting District", Right: "Rpt Dist No"},
		{Left: "Arrest Date", Right: "DATE OCC"},
	}, spec.Keys)
	require.Len(t, spec.Output, 8)
	assert.Equal(t, query.OutputColumn{Name: "Area Name", Side: query.Right, Source: "AREA NAME"}, spec.Output[0])
}

// Header rows and one matching record of the Los Angeles open data exports.
const (
	arrestsExport = `Report ID,Report Type,Arrest Date,Time,Area ID,Area Name,Reporting District,Age,Sex Code,Descent Code,Charge Group Code,Charge Group Description,Arrest Type Code,Charge,Charge Description,Disposition Description,Address,Cross Street,LAT,LON,Location,Booking Date,Booking Time,Booking Location,Booking Location Code
5568617,BOOKING,03/09/2019 12:00:00 AM,2015,06,Hollywood,0646,29,M,O,03,Robbery,F,211PC,ROBBERY,,6300 HOLLYWOOD BLVD,,34.1016,-118.3267,POINT (-118.3267 34.1016),03/09/2019 12:00:00 AM,2343,HOLLYWOOD,4192
`
	crimesExport = `DR_NO,Date Rptd,DATE OCC,TIME OCC,AREA,AREA NAME,Rpt Dist No,Part 1-2,Crm Cd,Crm Cd Desc,Mocodes,Vict Age,Vict Sex,Vict Descent,Premis Cd,Premis Desc,Weapon Used Cd,Weapon Desc,Status,Status Desc,Crm Cd 1,Crm Cd 2,Crm Cd 3,Crm Cd 4,LOCATION,Cross Street,LAT,LON
190608010,03/10/2019 12:00:00 AM,03/09/2019 12:00:00 AM,2130,06,Hollywood,0646,1,210,ROBBERY,0416 0344,31,M,W,101,STREET,400,"STRONG-ARM (HANDS, FIST, FEET OR BODILY FORCE)",AO,Adult Other,210,,,,6300 HOLLYWOOD BL,,34.1016,-118.3267
`
)

func TestDefaultsFitPublishedHeaders(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	ctx := context.Background()

	project := func(name, body string, drop []string) *dataset.Table {
		raw, err := dataset.Load(name, strings.NewReader(body), dataset.LoadOptions{})
		require.NoError(t, err)
		defer raw.Release()
		tbl, err := raw.Drop(drop...)
		require.NoError(t, err, "default drop list of %s", name)
		t.Cleanup(tbl.Release)
		return tbl
	}
	arrests := project("arrests", arrestsExport, c.DropArrests)
	crimes := project("crimes", crimesExport, c.DropCrimes)

	spec, err := c.JoinSpec()
	require.NoError(t, err)
	e := query.NewEngine(query.EngineOptions{Workers: 2})
	defer e.Close()

	out, err := e.Join(ctx, arrests, crimes, spec)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, int64(1), out.NumRows())

	for _, col := range []string{c.AreaNameColumn, c.AreaIDColumn, c.CrimeTypeColumn, c.DateColumn} {
		_, err := out.ColumnIndex(col)
		assert.NoError(t, err, col)
	}
	scaled, _, err := e.Normalize(ctx, out, c.ScaleColumns)
	require.NoError(t, err)
	scaled.Release()
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blotter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
arrests: gs://lapd/arrests.csv
top_n: 3
join_keys:
  - arrests: Area ID
    crimes: AREA
results_driver: sqlite3
results_dsn: results.db
`), 0o644))
	t.Setenv("BLOTTER_THRESHOLD", "250")
	t.Setenv("BLOTTER_INDEX", "bloom")

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "gs://lapd/arrests.csv", c.Arrests)
	assert.Equal(t, 3, c.TopN)
	assert.Equal(t, int64(250), c.Threshold)
	assert.Equal(t, "bloom", c.Index)
	assert.Equal(t, []KeyPair{{Arrests: "Area ID", Crimes: "AREA"}}, c.JoinKeys)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"no inputs":          func(c *Config) { c.Arrests = "" },
		"zero batch":         func(c *Config) { c.BatchSize = 0 },
		"half key":           func(c *Config) { c.JoinKeys = []KeyPair{{Arrests: "Area ID"}} },
		"no keys":            func(c *Config) { c.JoinKeys = nil },
		"bad side":           func(c *Config) { c.Output[0].Side = "both" },
		"bad index":          func(c *Config) { c.Index = "sorted" },
		"bad codec":          func(c *Config) { c.ParquetCodec = "rar" },
		"bad publish":        func(c *Config) { c.Publish = "s3://bucket" },
		"driver without dsn": func(c *Config) { c.ResultsDriver = "postgres" },
		"unknown driver":     func(c *Config) { c.ResultsDriver = "mysql"; c.ResultsDSN = "x" },
		"long delimiter":     func(c *Config) { c.Delimiter = ";;" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			c.JoinKeys = append([]KeyPair(nil), base.JoinKeys...)
			c.Output = append([]Column(nil), base.Output...)
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	c.ResultsDSN = "postgres://user:secret@db/blotter"
	c.FlightTokens = []string{"s3cr3t=alice:reader"}

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, c.Save(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.NotContains(t, string(b), "s3cr3t")

	var back Config
	require.NoError(t, yaml.Unmarshal(b, &back))
	assert.Equal(t, c.ScaleColumns, back.ScaleColumns)
}
