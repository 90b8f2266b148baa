package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"mirage/internal/config"
	"mirage/internal/constraint"
	"mirage/internal/db"
	"mirage/internal/generator"
	"mirage/internal/metrics"
	"mirage/internal/schema"
	"mirage/internal/stats"
	"mirage/internal/util"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// session is everything loaded before generation starts.
type session struct {
	cfg      config.Config
	reg      *schema.Registry
	workload *constraint.Workload
	recorder *metrics.Recorder
	gen      *generator.Generator
	logFile  io.Closer
}

func loadConfig(flags *rootFlags, overrides func(*config.Config)) (config.Config, error) {
	path := flags.configPath
	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) && path == "config.yaml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, errors.Wrap(err, "load config")
	}
	if flags.verbose {
		cfg.Logging.Verbose = true
	}
	if flags.workers > 0 {
		cfg.Workers = flags.workers
	}
	if overrides != nil {
		overrides(&cfg)
	}
	return cfg, cfg.Validate()
}

func openSession(ctx context.Context, cfg config.Config) (*session, error) {
	util.SetVerbose(cfg.Logging.Verbose)
	util.SetWorkers(cfg.Workers)
	s := &session{cfg: cfg}
	if cfg.Logging.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.LogFile), 0o755); err != nil {
			return nil, err
		}
		f, err := util.TeeLogFile(cfg.Logging.LogFile)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		s.logFile = f
	}
	util.Infof("starting mirage generator %d/%d (%s)", cfg.GeneratorID, cfg.GeneratorCount, cfg.RunInfo)
	if data, err := yaml.Marshal(&cfg); err == nil {
		util.Highlightf("config:\n%s", string(data))
	}

	reg, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "load schema")
	}
	s.reg = reg
	if err := s.applyStats(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.workload = constraint.NewWorkload()
	if cfg.ConstraintsPath != "" {
		if s.workload, err = constraint.LoadFile(cfg.ConstraintsPath); err != nil {
			s.Close()
			return nil, errors.Wrap(err, "load constraints")
		}
	}
	util.Infof("loaded %d tables, %d constraints, %d multi-column predicates, %d joins",
		len(reg.Tables()), len(s.workload.Records), len(s.workload.MultiColumns), len(s.workload.Joins))

	s.recorder = metrics.New(cfg.RunInfo.Labels())
	s.gen, err = generator.New(reg, s.workload, generator.Options{
		GeneratorID:    cfg.GeneratorID,
		GeneratorCount: cfg.GeneratorCount,
		StepSize:       cfg.StepSize,
		ThresholdScale: cfg.ThresholdScale,
		Seed:           cfg.Seed,
	}, s.recorder)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) applyStats(ctx context.Context) error {
	var src stats.Source
	switch s.cfg.Stats.Source {
	case config.StatsFromSchema:
		return nil
	case config.StatsFromDump:
		src = stats.NewDumpSource(s.cfg.Stats.DumpDir, s.cfg.Stats.Database)
	case config.StatsFromTiDB:
		conn, err := db.Open(ctx, s.cfg.Stats.DSN)
		if err != nil {
			return errors.Wrap(err, "connect to tidb")
		}
		defer util.CloseWithErr(conn, "tidb connection")
		database := s.cfg.Stats.Database
		if database == "" {
			database = conn.Database()
		}
		src = stats.NewTiDBSource(conn, database)
	}
	if err := stats.Apply(ctx, s.reg, src); err != nil {
		return errors.Wrapf(err, "apply %s statistics", s.cfg.Stats.Source)
	}
	return nil
}

func (s *session) Close() {
	if s.logFile != nil {
		util.CloseWithErr(s.logFile, "log file")
		s.logFile = nil
	}
}
