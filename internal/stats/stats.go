// Package stats reads per-column statistics from TiDB, either from stats
// dump files or from a live cluster, and folds them into the schema.
package stats

import (
	"context"
	"strings"

	"mirage/internal/schema"
	"mirage/internal/util"

	"github.com/pkg/errors"
)

// ErrNoStats is returned by a Source that has nothing for a table.
var ErrNoStats = errors.New("no statistics")

// TableStats holds a table's row count and per-column statistics keyed by
// lower-cased column name.
type TableStats struct {
	Rows    int64
	Columns map[string]schema.Stats
}

// Source provides statistics for one table.
type Source interface {
	TableStats(ctx context.Context, table *schema.Table) (TableStats, error)
}

// Apply overwrites the row counts and attribute domains of reg with what src
// reports. Tables or columns without statistics keep their schema values.
func Apply(ctx context.Context, reg *schema.Registry, src Source) error {
	for _, t := range reg.Tables() {
		ts, err := src.TableStats(ctx, t)
		if errors.Is(err, ErrNoStats) {
			util.Warnf("no statistics for table %s, keeping schema values", t.Name)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "stats for %s", t.Name)
		}
		if ts.Rows > 0 {
			t.Rows = ts.Rows
		}
		for _, col := range t.Attributes() {
			st, ok := ts.Columns[strings.ToLower(col.Name)]
			if !ok {
				util.Warnf("no statistics for column %s", col.Canonical())
				continue
			}
			col.ApplyStats(st)
			if err := col.Domain.Validate(); err != nil {
				return errors.Wrapf(err, "column %s", col.Canonical())
			}
		}
		util.Debugf("applied statistics to %s: rows=%d columns=%d", t.Name, t.Rows, len(ts.Columns))
	}
	return nil
}
