package schema

import (
	"sort"

	"github.com/pkg/errors"
)

// Registry holds every table of one generation run. It is built once, passed
// explicitly to the components that need it, and read-only once generation
// starts (domain growth excepted).
type Registry struct {
	tables map[string]*Table
	order  []string
	deps   map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables: make(map[string]*Table),
		deps:   make(map[string]map[string]struct{}),
	}
}

// AddTable registers a table; names must be unique.
func (r *Registry) AddTable(t *Table) error {
	if t == nil || t.Name == "" {
		return errors.New("table without name")
	}
	if _, ok := r.tables[t.Name]; ok {
		return errors.Errorf("duplicate table %s", t.Name)
	}
	for _, col := range t.Columns {
		col.Table = t.Name
		if col.Kind == KindForeignKey && col.RefTable != "" {
			r.AddDependency(t.Name, col.RefTable)
		}
	}
	r.tables[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// AddDependency records that table must be generated after dependsOn.
func (r *Registry) AddDependency(table, dependsOn string) {
	if table == dependsOn {
		return
	}
	set, ok := r.deps[table]
	if !ok {
		set = make(map[string]struct{})
		r.deps[table] = set
	}
	set[dependsOn] = struct{}{}
}

// Table returns a table by name.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns tables in registration order.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// Column resolves a "table.column" reference.
func (r *Registry) Column(ref string) (*Column, error) {
	tableName, colName := SplitColumnRef(ref)
	t, ok := r.tables[tableName]
	if !ok {
		return nil, errors.Errorf("unknown table %q in column reference %q", tableName, ref)
	}
	col, ok := t.ColumnByName(colName)
	if !ok {
		return nil, errors.Errorf("unknown column %q", ref)
	}
	return col, nil
}

// TopologicalOrder returns table names so that every table follows the tables
// it depends on. Ties keep registration order.
func (r *Registry) TopologicalOrder() ([]string, error) {
	visited := make(map[string]bool)
	temp := make(map[string]bool)
	order := make([]string, 0, len(r.order))

	var visit func(string) error
	visit = func(name string) error {
		if temp[name] {
			return errors.Errorf("circular dependency detected involving table: %s", name)
		}
		if visited[name] {
			return nil
		}
		temp[name] = true
		deps := make([]string, 0, len(r.deps[name]))
		for dep := range r.deps[name] {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := r.tables[dep]; !ok {
				return errors.Errorf("table %s depends on unknown table %s", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		temp[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range r.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
