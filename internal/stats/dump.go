package stats

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"mirage/internal/schema"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// dumpTable is the subset of a TiDB stats dump (/stats/dump/{db}/{table})
// that describes column distributions.
type dumpTable struct {
	DatabaseName string                `json:"database_name"`
	TableName    string                `json:"table_name"`
	Count        int64                 `json:"count"`
	Columns      map[string]dumpColumn `json:"columns"`
}

type dumpColumn struct {
	Histogram  dumpHistogram `json:"histogram"`
	NullCount  int64         `json:"null_count"`
	TotColSize int64         `json:"tot_col_size"`
}

type dumpHistogram struct {
	NDV int64 `json:"ndv"`
}

// DumpSource reads one stats dump file per table from a directory. Files are
// named <database>.<table>.json or <table>.json.
type DumpSource struct {
	Dir      string
	Database string
}

// NewDumpSource returns a source over dir.
func NewDumpSource(dir, database string) *DumpSource {
	return &DumpSource{Dir: dir, Database: database}
}

// TableStats implements Source.
func (s *DumpSource) TableStats(_ context.Context, table *schema.Table) (TableStats, error) {
	var candidates []string
	if s.Database != "" {
		candidates = append(candidates, filepath.Join(s.Dir, s.Database+"."+table.Name+".json"))
	}
	candidates = append(candidates, filepath.Join(s.Dir, table.Name+".json"))
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return TableStats{}, err
		}
		ts, err := ParseDump(data)
		if err != nil {
			return TableStats{}, errors.Wrapf(err, "stats dump %s", path)
		}
		return ts, nil
	}
	return TableStats{}, ErrNoStats
}

// ParseDump decodes a TiDB stats dump. Null probability is null_count/count
// and the average length drops the two bytes of encoding overhead counted in
// tot_col_size.
func ParseDump(data []byte) (TableStats, error) {
	var dt dumpTable
	if err := json.Unmarshal(data, &dt); err != nil {
		return TableStats{}, err
	}
	out := TableStats{Rows: dt.Count, Columns: make(map[string]schema.Stats, len(dt.Columns))}
	for name, c := range dt.Columns {
		st := schema.Stats{DistinctCount: c.Histogram.NDV}
		if dt.Count > 0 {
			st.NullProbability = float64(c.NullCount) / float64(dt.Count)
			avg := decimal.NewFromInt(c.TotColSize).
				DivRound(decimal.NewFromInt(dt.Count), 4).
				Sub(decimal.NewFromInt(2))
			st.AvgByteLength = avg.InexactFloat64()
		}
		out.Columns[strings.ToLower(name)] = st
	}
	return out, nil
}
