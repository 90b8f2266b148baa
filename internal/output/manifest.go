package output

import (
	"os"
	"time"

	"mirage/internal/runinfo"
)

// ManifestName is the manifest file inside a run directory.
const ManifestName = "manifest.json"

// Manifest records what a run produced.
type Manifest struct {
	RunID          string             `json:"run_id"`
	CreatedAt      string             `json:"created_at"`
	GeneratorID    int                `json:"generator_id"`
	GeneratorCount int                `json:"generator_count"`
	Compression    string             `json:"compression"`
	RunInfo        *runinfo.Info      `json:"run_info,omitempty"`
	Tables         []TableSummary     `json:"tables"`
	Thresholds     []ThresholdSummary `json:"thresholds,omitempty"`
	UploadLocation string             `json:"upload_location,omitempty"`
}

// TableSummary describes one generated table.
type TableSummary struct {
	Name    string          `json:"name"`
	Rows    int64           `json:"rows"`
	File    string          `json:"file"`
	Columns []ColumnSummary `json:"columns,omitempty"`
}

// ColumnSummary is a column's final domain and any relaxation applied to it.
// SelectivityShift is the probability lost moving cuts out of equal ranges.
type ColumnSummary struct {
	Name             string `json:"name"`
	Min              int64  `json:"min"`
	Size             int64  `json:"size"`
	NullFraction     string `json:"null_fraction"`
	NullRelaxation   string `json:"null_relaxation,omitempty"`
	SelectivityShift string `json:"selectivity_shift,omitempty"`
	DomainResize     int64  `json:"domain_resize,omitempty"`
	Buckets          int    `json:"buckets"`
}

// ThresholdSummary is a resolved multi-column threshold and the selectivity
// it achieved on the first batch.
type ThresholdSummary struct {
	Table      string  `json:"table"`
	Expression string  `json:"expression"`
	Operator   string  `json:"operator"`
	Target     string  `json:"target"`
	Threshold  float64 `json:"threshold"`
	Achieved   float64 `json:"achieved"`
}

// WriteManifest stamps and writes manifest.json.
func (r *Run) WriteManifest(m Manifest) error {
	m.RunID = r.ID
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.GeneratorID = r.opts.GeneratorID
	m.Compression = r.opts.Compression
	return r.writeJSON(ManifestName, m)
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	err = json.Unmarshal(data, &m)
	return m, err
}
