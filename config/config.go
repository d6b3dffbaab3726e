// Package config loads the run configuration from defaults, an optional
// YAML file, a .env file and BLOTTER_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/TFMV/blotter/index"
	"github.com/TFMV/blotter/query"
	"github.com/TFMV/blotter/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// KeyPair equates an arrests column with a crimes column.
type KeyPair struct {
	Arrests string `mapstructure:"arrests" yaml:"arrests"`
	Crimes  string `mapstructure:"crimes" yaml:"crimes"`
}

// Column is one column of the correlated table.
type Column struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Side   string `mapstructure:"side" yaml:"side"`
	Source string `mapstructure:"source" yaml:"source"`
}

// Config is everything a run needs.
type Config struct {
	Arrests       string `mapstructure:"arrests" yaml:"arrests"`
	Crimes        string `mapstructure:"crimes" yaml:"crimes"`
	Delimiter     string `mapstructure:"delimiter" yaml:"delimiter"`
	DateCacheSize int    `mapstructure:"date_cache_size" yaml:"date_cache_size"`

	DropArrests []string  `mapstructure:"drop_arrests" yaml:"drop_arrests"`
	DropCrimes  []string  `mapstructure:"drop_crimes" yaml:"drop_crimes"`
	JoinKeys    []KeyPair `mapstructure:"join_keys" yaml:"join_keys"`
	Output      []Column  `mapstructure:"output" yaml:"output"`

	AreaNameColumn  string   `mapstructure:"area_name_column" yaml:"area_name_column"`
	AreaIDColumn    string   `mapstructure:"area_id_column" yaml:"area_id_column"`
	CrimeTypeColumn string   `mapstructure:"crime_type_column" yaml:"crime_type_column"`
	DateColumn      string   `mapstructure:"date_column" yaml:"date_column"`
	ScaleColumns    []string `mapstructure:"scale_columns" yaml:"scale_columns"`
	TopN            int      `mapstructure:"top_n" yaml:"top_n"`
	Threshold       int64    `mapstructure:"threshold" yaml:"threshold"`

	Workers     int     `mapstructure:"workers" yaml:"workers"`
	BatchSize   int     `mapstructure:"batch_size" yaml:"batch_size"`
	Index       string  `mapstructure:"index" yaml:"index"`
	BloomFPRate float64 `mapstructure:"bloom_fp_rate" yaml:"bloom_fp_rate"`

	OutDir            string   `mapstructure:"out_dir" yaml:"out_dir"`
	SnapshotCodec     string   `mapstructure:"snapshot_codec" yaml:"snapshot_codec"`
	ParquetCodec      string   `mapstructure:"parquet_codec" yaml:"parquet_codec"`
	Publish           string   `mapstructure:"publish" yaml:"publish"`
	ResultsDriver     string   `mapstructure:"results_driver" yaml:"results_driver"`
	ResultsDSN        string   `mapstructure:"results_dsn" yaml:"-"`
	GoogleCredentials string   `mapstructure:"google_credentials" yaml:"google_credentials"`
	FlightAddr        string   `mapstructure:"flight_addr" yaml:"flight_addr"`
	FlightTokens      []string `mapstructure:"flight_tokens" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("arrests", "Arrest_Data_from_2020_to_Present.csv")
	v.SetDefault("crimes", "Crime_Data_from_2020_to_Present.csv")
	v.SetDefault("delimiter", ",")
	v.SetDefault("date_cache_size", 4096)

	v.SetDefault("drop_arrests", []string{
		"Report ID", "Address", "Cross Street", "Location",
		"Charge Group Code", "Charge Group Description", "Charge Description", "Area Name",
	})
	v.SetDefault("drop_crimes", []string{
		"DR_NO", "Date Rptd", "TIME OCC", "Mocodes", "Premis Cd", "Premis Desc",
		"Weapon Used Cd", "Weapon Desc", "Status", "Status Desc", "LAT", "LON",
	})
	v.SetDefault("join_keys", []map[string]string{
		{"arrests": "Area ID", "crimes": "AREA"},
		{"arrests": "Reporting District", "crimes": "Rpt Dist No"},
		{"arrests": "Arrest Date", "crimes": "DATE OCC"},
	})
	v.SetDefault("output", []map[string]string{
		{"name": "Area Name", "side": "crimes", "source": "AREA NAME"},
		{"name": "Area ID", "side": "arrests", "source": "Area ID"},
		{"name": "Crm Cd Desc", "side": "crimes", "source": "Crm Cd Desc"},
		{"name": "Age", "side": "arrests", "source": "Age"},
		{"name": "Vict Age", "side": "crimes", "source": "Vict Age"},
		{"name": "LAT", "side": "arrests", "source": "LAT"},
		{"name": "LON", "side": "arrests", "source": "LON"},
		{"name": "DATE OCC", "side": "crimes", "source": "DATE OCC"},
	})

	v.SetDefault("area_name_column", "Area Name")
	v.SetDefault("area_id_column", "Area ID")
	v.SetDefault("crime_type_column", "Crm Cd Desc")
	v.SetDefault("date_column", "DATE OCC")
	v.SetDefault("scale_columns", []string{"Age", "Vict Age", "LAT", "LON"})
	v.SetDefault("top_n", 5)
	v.SetDefault("threshold", 1000)

	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("batch_size", 64*1024)
	v.SetDefault("index", "auto")
	v.SetDefault("bloom_fp_rate", 0.01)

	v.SetDefault("out_dir", "output")
	v.SetDefault("snapshot_codec", "zstd")
	v.SetDefault("parquet_codec", "snappy")
	v.SetDefault("publish", "")
	v.SetDefault("results_driver", "")
	v.SetDefault("results_dsn", "")
	v.SetDefault("google_credentials", "")
	v.SetDefault("flight_addr", "localhost:8815")
	v.SetDefault("flight_tokens", []string{})
}

// Load resolves the configuration. Precedence: environment > config file >
// defaults. A .env file in the working directory is loaded into the
// environment first when present. Load does not validate; callers apply
// their overrides and then call Validate.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BLOTTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Arrests == "" || c.Crimes == "" {
		errs = append(errs, errors.New("both input paths are required"))
	}
	if len([]rune(c.Delimiter)) != 1 {
		errs = append(errs, fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.TopN < 0 {
		errs = append(errs, fmt.Errorf("top_n must not be negative, got %d", c.TopN))
	}
	if len(c.ScaleColumns) == 0 {
		errs = append(errs, errors.New("scale_columns must name at least one column"))
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("out_dir is required"))
	}
	if _, err := c.JoinSpec(); err != nil {
		errs = append(errs, err)
	}
	if c.Index != "auto" {
		if _, err := index.ParseStrategy(c.Index); err != nil {
			errs = append(errs, err)
		}
	}
	for _, codec := range []string{c.SnapshotCodec, c.ParquetCodec} {
		if _, err := storage.ParseCodec(codec); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Publish != "" {
		if _, _, err := storage.ParseGCS(c.Publish); err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
	}
	switch c.ResultsDriver {
	case "":
	case "sqlite3", "postgres":
		if c.ResultsDSN == "" {
			errs = append(errs, errors.New("results_dsn is required with results_driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported results_driver %q", c.ResultsDriver))
	}
	return errors.Join(errs...)
}

// JoinSpec translates the key and output settings into a join description.
func (c *Config) JoinSpec() (query.JoinSpec, error) {
	var spec query.JoinSpec
	if len(c.JoinKeys) == 0 {
		return spec, errors.New("join_keys must name at least one key pair")
	}
	for i, k := range c.JoinKeys {
		if k.Arrests == "" || k.Crimes == "" {
			return spec, fmt.Errorf("join_keys[%d] must name both an arrests and a crimes column", i)
		}
		spec.Keys = append(spec.Keys, query.KeyPair{Left: k.Arrests, Right: k.Crimes})
	}
	if len(c.Output) == 0 {
		return spec, errors.New("output must name at least one column")
	}
	for i, col := range c.Output {
		side, err := query.ParseSide(col.Side)
		if err != nil {
			return spec, fmt.Errorf("output[%d]: %w", i, err)
		}
		if col.Source == "" {
			return spec, fmt.Errorf("output[%d] has no source column", i)
		}
		spec.Output = append(spec.Output, query.OutputColumn{Name: col.Name, Side: side, Source: col.Source})
	}
	return spec, nil
}

// DelimiterRune returns the field separator of the input files.
func (c *Config) DelimiterRune() rune {
	r := []rune(c.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

// Save writes c as YAML. Credentials and flight tokens are never written.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
