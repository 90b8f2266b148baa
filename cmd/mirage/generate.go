package main

import (
	"context"
	"time"

	"mirage/internal/config"
	"mirage/internal/output"
	"mirage/internal/uploader"
	"mirage/internal/util"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type generateFlags struct {
	schemaPath      string
	constraintsPath string
	outputDir       string
	generatorID     int
	generatorCount  int
	stepSize        int
	compression     string
}

func newGenerateCmd(root *rootFlags) *cobra.Command {
	flags := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate this generator's share of every table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root, flags.apply(cmd))
			if err != nil {
				return err
			}
			_, err = runGenerate(cmd.Context(), cfg)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.schemaPath, "schema", "", "schema file (overrides schema_path)")
	f.StringVar(&flags.constraintsPath, "constraints", "", "constraint file (overrides constraints_path)")
	f.StringVarP(&flags.outputDir, "output", "o", "", "output directory (overrides output_dir)")
	f.IntVar(&flags.generatorID, "generator-id", 0, "index of this generator")
	f.IntVar(&flags.generatorCount, "generator-count", 0, "number of cooperating generators")
	f.IntVar(&flags.stepSize, "step-size", 0, "rows per batch")
	f.StringVar(&flags.compression, "compression", "", "none or zstd")
	return cmd
}

// apply copies the flags the user actually set onto cfg.
func (f *generateFlags) apply(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		changed := cmd.Flags().Changed
		if changed("schema") {
			cfg.SchemaPath = f.schemaPath
		}
		if changed("constraints") {
			cfg.ConstraintsPath = f.constraintsPath
		}
		if changed("output") {
			cfg.OutputDir = f.outputDir
		}
		if changed("generator-id") {
			cfg.GeneratorID = f.generatorID
		}
		if changed("generator-count") {
			cfg.GeneratorCount = f.generatorCount
		}
		if changed("step-size") {
			cfg.StepSize = f.stepSize
		}
		if changed("compression") {
			cfg.Compression = f.compression
		}
	}
}

func runGenerate(ctx context.Context, cfg config.Config) (*output.Run, error) {
	started := time.Now()
	s, err := openSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.gen.Prepare(ctx); err != nil {
		return nil, errors.Wrap(err, "prepare distributions")
	}
	if cfg.Logging.Verbose {
		util.Debugf("partitions:\n%s", s.gen.Partitions())
	}
	run, err := output.NewRun(cfg.OutputDir, output.Options{
		Compression: cfg.Compression,
		NullLiteral: cfg.Output.NullLiteral,
		Delimiter:   cfg.Output.Delimiter,
		GeneratorID: cfg.GeneratorID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create run directory")
	}
	util.Infof("run %s -> %s", run.ID, run.Dir)

	res, err := s.gen.Run(ctx, run)
	if err != nil {
		return run, err
	}
	if err := run.WriteParams(output.BuildParams(s.workload.Parameters, s.workload.Groups)); err != nil {
		return run, errors.Wrap(err, "write params")
	}
	manifest := output.Manifest{
		GeneratorCount: cfg.GeneratorCount,
		RunInfo:        cfg.RunInfo,
		Tables:         res.Tables,
		Thresholds:     res.Thresholds,
	}

	up, err := uploader.New(cfg.Storage)
	if err != nil {
		return run, err
	}
	if up.Enabled() {
		// uploaded copy carries the manifest without its location
		if err := run.WriteManifest(manifest); err != nil {
			return run, errors.Wrap(err, "write manifest")
		}
		location, err := up.UploadDir(ctx, run.Dir)
		if err != nil {
			util.Errorf("upload %s: %v", run.Dir, err)
		} else {
			manifest.UploadLocation = location
			util.Infof("uploaded run to %s", location)
		}
	}
	if err := run.WriteManifest(manifest); err != nil {
		return run, errors.Wrap(err, "write manifest")
	}
	if err := s.recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		util.Warnf("write metrics textfile: %v", err)
	}
	var rows int64
	for _, t := range res.Tables {
		rows += t.Rows
	}
	util.Infof("generated %d rows over %d tables in %s", rows, len(res.Tables), time.Since(started).Round(time.Millisecond))
	return run, nil
}
