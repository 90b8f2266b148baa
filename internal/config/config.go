package config

import (
	"os"
	"strings"

	"mirage/internal/runinfo"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures all options of a generation run.
type Config struct {
	SchemaPath      string        `yaml:"schema_path"`
	ConstraintsPath string        `yaml:"constraints_path"`
	OutputDir       string        `yaml:"output_dir"`
	GeneratorID     int           `yaml:"generator_id"`
	GeneratorCount  int           `yaml:"generator_count"`
	StepSize        int           `yaml:"step_size"`
	Workers         int           `yaml:"workers"`
	ThresholdScale  int32         `yaml:"threshold_scale"`
	Seed            uint64        `yaml:"seed"`
	Compression     string        `yaml:"compression"`
	Stats           StatsConfig   `yaml:"stats"`
	Output          OutputConfig  `yaml:"output"`
	Storage         StorageConfig `yaml:"storage"`
	Logging         Logging       `yaml:"logging"`
	Metrics         MetricsConfig `yaml:"metrics"`
	RunInfo         *runinfo.Info `yaml:"-"`
}

// Compression codecs for output shards.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Statistics sources.
const (
	StatsFromSchema = "schema"
	StatsFromDump   = "dump"
	StatsFromTiDB   = "tidb"
)

// StatsConfig selects where column statistics come from.
type StatsConfig struct {
	Source   string `yaml:"source"`
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
	DumpDir  string `yaml:"dump_dir"`
}

// OutputConfig controls row rendering.
type OutputConfig struct {
	NullLiteral string `yaml:"null_literal"`
	Delimiter   string `yaml:"delimiter"`
}

// Logging controls stdout logging behavior.
type Logging struct {
	Verbose bool   `yaml:"verbose"`
	LogFile string `yaml:"log_file"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// StorageConfig holds external storage settings.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (legacy and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Load reads configuration from a YAML file. An empty path yields defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	normalizeConfig(&cfg)
	cfg.RunInfo = runinfo.FromEnv()
	return cfg, nil
}

// Validate reports settings that cannot run.
func (c Config) Validate() error {
	if c.SchemaPath == "" {
		return errors.New("schema_path is required")
	}
	if c.GeneratorID < 0 || c.GeneratorID >= c.GeneratorCount {
		return errors.Errorf("generator_id %d outside [0, %d)", c.GeneratorID, c.GeneratorCount)
	}
	switch c.Compression {
	case CompressionNone, CompressionZstd:
	default:
		return errors.Errorf("unknown compression %q", c.Compression)
	}
	switch c.Stats.Source {
	case StatsFromSchema:
	case StatsFromDump:
		if c.Stats.DumpDir == "" {
			return errors.New("stats.dump_dir is required for dump statistics")
		}
	case StatsFromTiDB:
		if c.Stats.DSN == "" {
			return errors.New("stats.dsn is required for tidb statistics")
		}
	default:
		return errors.Errorf("unknown stats source %q", c.Stats.Source)
	}
	return nil
}

func normalizeConfig(cfg *Config) {
	if cfg.GeneratorCount <= 0 {
		cfg.GeneratorCount = 1
	}
	if cfg.StepSize <= 0 {
		cfg.StepSize = 7_000_000
	}
	if cfg.ThresholdScale < 0 {
		cfg.ThresholdScale = 0
	}
	cfg.Compression = strings.ToLower(strings.TrimSpace(cfg.Compression))
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	cfg.Stats.Source = strings.ToLower(strings.TrimSpace(cfg.Stats.Source))
	if cfg.Stats.Source == "" {
		cfg.Stats.Source = StatsFromSchema
	}
	if cfg.Stats.Database != "" {
		cfg.Stats.DSN = ensureDatabaseInDSN(cfg.Stats.DSN, cfg.Stats.Database)
	}
	if cfg.Output.Delimiter == "" {
		cfg.Output.Delimiter = ","
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
}

func ensureDatabaseInDSN(dsn string, dbName string) string {
	if dsn == "" || dbName == "" {
		return dsn
	}
	slash := strings.Index(dsn, "/")
	if slash < 0 {
		return dsn
	}
	query := strings.Index(dsn[slash+1:], "?")
	if query >= 0 {
		query = slash + 1 + query
	}
	afterSlash := dsn[slash+1:]
	if query >= 0 {
		afterSlash = dsn[slash+1 : query]
	}
	if strings.TrimSpace(afterSlash) != "" {
		return dsn
	}
	if query >= 0 {
		return dsn[:slash+1] + dbName + dsn[query:]
	}
	return dsn + dbName
}

func defaultConfig() Config {
	return Config{
		OutputDir:      "output",
		GeneratorCount: 1,
		StepSize:       7_000_000,
		ThresholdScale: 2,
		Compression:    CompressionNone,
		Stats: StatsConfig{
			Source: StatsFromSchema,
			DSN:    "root:@tcp(127.0.0.1:4000)/",
		},
		Output: OutputConfig{
			Delimiter: ",",
		},
		Logging: Logging{
			LogFile: "logs/mirage.log",
		},
	}
}
