package output

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"mirage/internal/constraint"

	"github.com/pkg/errors"
)

// ParamsName is the parameter file inside a run directory.
const ParamsName = "params.json"

// Params maps param/<id> and group/<id> keys to assigned values. A
// scale/<id> key holds the decimal digits of a scaled param/<id> value.
type Params map[string]int64

// BuildParams collects every assigned slot and, per identity group, the value
// of its lowest assigned member.
func BuildParams(params map[int]*constraint.Parameter, groups *constraint.Groups) Params {
	out := make(Params, len(params))
	ids := make([]int, 0, len(params))
	for id, p := range params {
		if p.Assigned {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	for _, id := range ids {
		out[fmt.Sprintf("param/%d", id)] = params[id].Data
		if scale := params[id].Scale; scale > 0 {
			out[fmt.Sprintf("scale/%d", id)] = int64(scale)
		}
		if groups == nil {
			continue
		}
		root, ok := groups.Find(id)
		if !ok {
			continue
		}
		key := fmt.Sprintf("group/%d", root)
		if _, seen := out[key]; !seen {
			out[key] = params[id].Data
		}
	}
	return out
}

// WriteParams writes params.json.
func (r *Run) WriteParams(p Params) error {
	return r.writeJSON(ParamsName, p)
}

// LoadParams reads a parameter file.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "parse params %s", path)
	}
	return p, nil
}

// Drift is a key whose value differs between two parameter files. Missing
// sides are reported through the Has flags.
type Drift struct {
	Key         string
	Previous    int64
	Current     int64
	HasPrevious bool
	HasCurrent  bool
}

func (d Drift) String() string {
	switch {
	case !d.HasPrevious:
		return fmt.Sprintf("%s: new value %d", d.Key, d.Current)
	case !d.HasCurrent:
		return fmt.Sprintf("%s: removed (was %d)", d.Key, d.Previous)
	default:
		return fmt.Sprintf("%s: %d -> %d", d.Key, d.Previous, d.Current)
	}
}

// CompareParams lists keys that differ, groups first, ordered by id.
func CompareParams(prev, cur Params) []Drift {
	keys := make(map[string]struct{}, len(prev)+len(cur))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range cur {
		keys[k] = struct{}{}
	}
	var out []Drift
	for k := range keys {
		p, hasP := prev[k]
		c, hasC := cur[k]
		if hasP && hasC && p == c {
			continue
		}
		out = append(out, Drift{Key: k, Previous: p, Current: c, HasPrevious: hasP, HasCurrent: hasC})
	}
	sort.Slice(out, func(i, j int) bool {
		return keyLess(out[i].Key, out[j].Key)
	})
	return out
}

var kindRank = map[string]int{"group": 0, "param": 1, "scale": 2}

func keyLess(a, b string) bool {
	ka, ia := splitKey(a)
	kb, ib := splitKey(b)
	if ka != kb {
		ra, oka := kindRank[ka]
		rb, okb := kindRank[kb]
		switch {
		case oka && okb:
			return ra < rb
		case oka != okb:
			return oka
		default:
			return ka < kb
		}
	}
	if ia != ib {
		return ia < ib
	}
	return a < b
}

func splitKey(key string) (string, int) {
	kind, id, ok := strings.Cut(key, "/")
	if !ok {
		return key, 0
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return kind, 0
	}
	return kind, n
}
