package output

import (
	"path/filepath"
	"strings"
	"testing"

	"mirage/internal/constraint"
	"mirage/internal/schema"
)

func testColumns() []*schema.Column {
	return []*schema.Column{
		{Name: "id", Kind: schema.KindPrimaryKey},
		{Name: "price", Domain: schema.Domain{Encoding: schema.TypeDecimal, Scale: 2}},
		{Name: "shipdate", Domain: schema.Domain{Encoding: schema.TypeDate}},
	}
}

func TestWriteTableZstd(t *testing.T) {
	run, err := NewRun(t.TempDir(), Options{Compression: CodecZstd, NullLiteral: `\N`, Delimiter: "|", GeneratorID: 2})
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(run.Dir), "run_") {
		t.Fatalf("unexpected run dir %s", run.Dir)
	}
	w, err := run.OpenTable("lineitem", testColumns())
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	if w.Name() != "lineitem.2.csv.zst" {
		t.Fatalf("unexpected shard name %s", w.Name())
	}
	data := [][]int64{
		{1, 2},
		{1999, schema.NullValue},
		{0, 31},
	}
	if err := w.WriteBatch(data, 2); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := w.WriteBatch(data[:2], 2); err == nil {
		t.Fatalf("expected column count error")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.Rows() != 2 {
		t.Fatalf("rows=%d", w.Rows())
	}

	content, err := ReadTable(filepath.Join(run.Dir, w.Name()))
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	want := "1|19.99|1970-01-01\n2|\\N|1970-02-01\n"
	if string(content) != want {
		t.Fatalf("content=%q want %q", content, want)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	run, err := NewRun(t.TempDir(), Options{Compression: CodecNone, GeneratorID: 1})
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	err = run.WriteManifest(Manifest{
		GeneratorCount: 4,
		Tables: []TableSummary{{Name: "orders", Rows: 10, File: run.TableFileName("orders"),
			Columns: []ColumnSummary{{Name: "o_status", Size: 3, NullFraction: "0.1", NullRelaxation: "0.05", SelectivityShift: "0.2"}}}},
	})
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := LoadManifest(filepath.Join(run.Dir, ManifestName))
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if m.RunID != run.ID || m.GeneratorID != 1 || m.CreatedAt == "" {
		t.Fatalf("unexpected manifest header %+v", m)
	}
	if m.Tables[0].File != "orders.1.csv" || m.Tables[0].Columns[0].NullRelaxation != "0.05" ||
		m.Tables[0].Columns[0].SelectivityShift != "0.2" {
		t.Fatalf("unexpected table summary %+v", m.Tables[0])
	}
}

func TestParamsDrift(t *testing.T) {
	groups := constraint.NewGroups()
	groups.Union(3, 1)
	params := map[int]*constraint.Parameter{
		1: {ID: 1, Data: 10, Assigned: true},
		3: {ID: 3, Data: 10, Assigned: true},
		4: {ID: 4, Data: 7, Assigned: true, Scale: 2},
		5: {ID: 5},
	}
	cur := BuildParams(params, groups)
	if len(cur) != 5 || cur["group/1"] != 10 || cur["param/4"] != 7 || cur["scale/4"] != 2 {
		t.Fatalf("unexpected params %v", cur)
	}
	if _, ok := cur["param/5"]; ok {
		t.Fatalf("unassigned slot should be skipped")
	}

	run, err := NewRun(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	if err := run.WriteParams(cur); err != nil {
		t.Fatalf("write params: %v", err)
	}
	loaded, err := LoadParams(filepath.Join(run.Dir, ParamsName))
	if err != nil {
		t.Fatalf("load params: %v", err)
	}
	if drift := CompareParams(loaded, cur); len(drift) != 0 {
		t.Fatalf("unexpected drift %v", drift)
	}

	prev := Params{"group/1": 9, "param/1": 10, "param/2": 5}
	drift := CompareParams(prev, cur)
	var got []string
	for _, d := range drift {
		got = append(got, d.String())
	}
	want := []string{"group/1: 9 -> 10", "param/2: removed (was 5)", "param/3: new value 10", "param/4: new value 7", "scale/4: new value 2"}
	if strings.Join(got, ";") != strings.Join(want, ";") {
		t.Fatalf("drift=%v", got)
	}
}
