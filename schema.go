package inherit

import (
	"fmt"
	"reflect"
)

// Schema is the resolved mapping of one registered model: the union of field
// and relationship declarations collected from the struct and its embedded
// ancestors, plus the table identity when the model is table-mapped.
//
// A Schema is built once at registration time and never mutated after
// finalization, so concurrent reads need no synchronization.
type Schema struct {
	Name                string
	ModelType           reflect.Type
	Table               string
	IsTable             bool
	Fields              []*Field
	FieldsByName        map[string]*Field
	FieldsByDBName      map[string]*Field
	PrimaryField        *Field
	Relationships       []*Relationship
	RelationshipsByName map[string]*Relationship

	// Chain holds the table-mapped models of the embedding chain root-first,
	// ending with the model itself. Non-table models have a nil chain.
	Chain []*Schema

	registry *Registry
}

func (m *Schema) String() string {
	if m.IsTable {
		return fmt.Sprintf("%s (table %q)", m.Name, m.Table)
	}
	return m.Name
}

// LookUpField finds a merged field by Go name or column name.
func (m *Schema) LookUpField(name string) *Field {
	if field, ok := m.FieldsByName[name]; ok {
		return field
	}
	if field, ok := m.FieldsByDBName[name]; ok {
		return field
	}
	return nil
}

// PrimaryKeyValue reads the primary key of value, reporting whether it is
// still zero.
func (m *Schema) PrimaryKeyValue(value reflect.Value) (interface{}, bool) {
	if m.PrimaryField == nil {
		return nil, true
	}
	return m.PrimaryField.ValueOf(value)
}

// chainTables returns the distinct table identities of the chain root-first.
// Models that explicitly share a table identity collapse into one entry.
func (m *Schema) chainTables() []*Schema {
	seen := make(map[string]bool, len(m.Chain))
	tables := make([]*Schema, 0, len(m.Chain))
	for _, member := range m.Chain {
		if seen[member.Table] {
			continue
		}
		seen[member.Table] = true
		tables = append(tables, member)
	}
	return tables
}

// columnsCompatibleWith reports whether two models can safely share one table
// identity: every column they have in common must agree on type and primary
// key configuration.
func (m *Schema) columnsCompatibleWith(other *Schema) bool {
	for _, field := range m.Fields {
		if existing, ok := other.FieldsByDBName[field.DBName]; ok {
			if !field.compatibleWith(existing) {
				return false
			}
		}
	}
	return true
}

// newValue allocates a fresh instance of the model's struct type.
func (m *Schema) newValue() reflect.Value {
	return reflect.New(m.ModelType)
}
