// Package output writes generated tables, the run manifest and the parameter
// file into a per-run directory.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mirage/internal/schema"
	"mirage/internal/util"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec names accepted by Options.Compression.
const (
	CodecNone = "none"
	CodecZstd = "zstd"
)

// Options controls how rows are rendered.
type Options struct {
	Compression string
	NullLiteral string
	Delimiter   string
	GeneratorID int
}

// Run is one run directory.
type Run struct {
	ID   string
	Dir  string
	opts Options
}

// NewRun allocates <outputDir>/run_<uuid v7>.
func NewRun(outputDir string, opts Options) (*Run, error) {
	id := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		id = v7.String()
	}
	if opts.Delimiter == "" {
		opts.Delimiter = ","
	}
	dir := filepath.Join(outputDir, "run_"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Run{ID: id, Dir: dir, opts: opts}, nil
}

// TableFileName returns the shard name of table for this generator.
func (r *Run) TableFileName(table string) string {
	name := fmt.Sprintf("%s.%d.csv", table, r.opts.GeneratorID)
	if r.opts.Compression == CodecZstd {
		name += ".zst"
	}
	return name
}

// TableWriter appends rendered rows to one table shard.
type TableWriter struct {
	name    string
	file    *os.File
	zw      *zstd.Encoder
	buf     *bufio.Writer
	opts    Options
	columns []*schema.Column
	rows    int64
}

// OpenTable creates the shard for table with the given column order.
func (r *Run) OpenTable(table string, columns []*schema.Column) (*TableWriter, error) {
	name := r.TableFileName(table)
	file, err := os.Create(filepath.Join(r.Dir, name))
	if err != nil {
		return nil, err
	}
	w := &TableWriter{name: name, file: file, opts: r.opts, columns: columns}
	var sink io.Writer = file
	if r.opts.Compression == CodecZstd {
		zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			util.CloseWithErr(file, "table shard")
			return nil, err
		}
		w.zw = zw
		sink = zw
	}
	w.buf = bufio.NewWriterSize(sink, 1<<20)
	return w, nil
}

// Name returns the shard file name.
func (w *TableWriter) Name() string {
	return w.name
}

// Rows returns the number of rows written.
func (w *TableWriter) Rows() int64 {
	return w.rows
}

// WriteBatch renders rows from column arrays aligned with the writer's column
// order.
func (w *TableWriter) WriteBatch(data [][]int64, rows int) error {
	if len(data) != len(w.columns) {
		return errors.Errorf("%s: %d column arrays for %d columns", w.name, len(data), len(w.columns))
	}
	for i, col := range data {
		if len(col) < rows {
			return errors.Errorf("%s: column %s has %d values, want %d", w.name, w.columns[i].Name, len(col), rows)
		}
	}
	lines := make([]string, rows)
	util.ParallelFor(rows, func(lo, hi int) {
		var b strings.Builder
		for r := lo; r < hi; r++ {
			b.Reset()
			for c, col := range w.columns {
				if c > 0 {
					b.WriteString(w.opts.Delimiter)
				}
				b.WriteString(col.Format(data[c][r], w.opts.NullLiteral))
			}
			lines[r] = b.String()
		}
	})
	for _, line := range lines {
		if _, err := w.buf.WriteString(line); err != nil {
			return err
		}
		if err := w.buf.WriteByte('\n'); err != nil {
			return err
		}
	}
	w.rows += int64(rows)
	return nil
}

// Close flushes and closes the shard.
func (w *TableWriter) Close() error {
	err := w.buf.Flush()
	if w.zw != nil {
		if cerr := w.zw.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "close %s", w.name)
}

// ReadTable returns the decompressed content of a shard written by a run.
func ReadTable(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer util.CloseWithErr(f, "table shard")
	if !strings.HasSuffix(path, ".zst") {
		return io.ReadAll(f)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (r *Run) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.Dir, name), append(data, '\n'), 0o644)
}
