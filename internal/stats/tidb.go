package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mirage/internal/db"
	"mirage/internal/schema"

	"github.com/pkg/errors"
)

// Querier runs a statement and returns string rows.
type Querier interface {
	QueryStrings(ctx context.Context, query string, args ...any) ([]db.Row, error)
}

// TiDBSource reads statistics through SHOW STATS_META, SHOW STATS_HISTOGRAMS
// and MIN/MAX scans of ordered columns.
type TiDBSource struct {
	conn     Querier
	database string
}

// NewTiDBSource returns a source reading database through conn.
func NewTiDBSource(conn Querier, database string) *TiDBSource {
	return &TiDBSource{conn: conn, database: database}
}

// TableStats implements Source.
func (s *TiDBSource) TableStats(ctx context.Context, table *schema.Table) (TableStats, error) {
	meta, err := s.conn.QueryStrings(ctx, statsMetaSQL(s.database, table.Name))
	if err != nil {
		return TableStats{}, errors.Wrap(err, "stats meta")
	}
	if len(meta) == 0 {
		return TableStats{}, ErrNoStats
	}
	rowCount := parseInt(pickGlobal(meta)["Row_count"])
	out := TableStats{Rows: rowCount, Columns: make(map[string]schema.Stats)}

	hist, err := s.conn.QueryStrings(ctx, statsHistogramsSQL(s.database, table.Name))
	if err != nil {
		return TableStats{}, errors.Wrap(err, "stats histograms")
	}
	for _, r := range hist {
		if r["Is_index"] != "0" {
			continue
		}
		if p := r["Partition_name"]; p != "" && p != "global" {
			continue
		}
		st := schema.Stats{DistinctCount: parseInt(r["Distinct_count"])}
		if rowCount > 0 {
			st.NullProbability = float64(parseInt(r["Null_count"])) / float64(rowCount)
		}
		st.AvgByteLength, _ = strconv.ParseFloat(r["Avg_col_size"], 64)
		out.Columns[strings.ToLower(r["Column_name"])] = st
	}

	for _, col := range table.Attributes() {
		if col.Domain.Encoding == schema.TypeVarchar {
			continue
		}
		key := strings.ToLower(col.Name)
		st, ok := out.Columns[key]
		if !ok {
			continue
		}
		rows, err := s.conn.QueryStrings(ctx, rangeSQL(s.database, table.Name, col.Name))
		if err != nil {
			return TableStats{}, errors.Wrapf(err, "range of %s", col.Name)
		}
		if len(rows) == 0 {
			continue
		}
		lo, okLo := rows[0].Get("lo")
		hi, okHi := rows[0].Get("hi")
		if !okLo || !okHi {
			continue
		}
		if st.RangeMin, err = schema.ParseValue(col.Domain.Encoding, col.Domain.Scale, lo); err != nil {
			return TableStats{}, errors.Wrapf(err, "min of %s", col.Name)
		}
		if st.RangeMax, err = schema.ParseValue(col.Domain.Encoding, col.Domain.Scale, hi); err != nil {
			return TableStats{}, errors.Wrapf(err, "max of %s", col.Name)
		}
		st.HasRange = true
		out.Columns[key] = st
	}
	return out, nil
}

// pickGlobal prefers the whole-table row of a partitioned table.
func pickGlobal(rows []db.Row) db.Row {
	for _, r := range rows {
		if p := r["Partition_name"]; p == "" || p == "global" {
			return r
		}
	}
	return rows[0]
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func statsMetaSQL(database, table string) string {
	return fmt.Sprintf("SHOW STATS_META WHERE Db_name = %s AND Table_name = %s", quoteString(database), quoteString(table))
}

func statsHistogramsSQL(database, table string) string {
	return fmt.Sprintf("SHOW STATS_HISTOGRAMS WHERE Db_name = %s AND Table_name = %s", quoteString(database), quoteString(table))
}

func rangeSQL(database, table, column string) string {
	col := quoteIdent(column)
	return fmt.Sprintf("SELECT MIN(%s) AS lo, MAX(%s) AS hi FROM %s.%s", col, col, quoteIdent(database), quoteIdent(table))
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
