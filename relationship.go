package inherit

import (
	"fmt"
	"reflect"
)

// RelationshipType relationship type
type RelationshipType string

const (
	HasOne    RelationshipType = "has_one"
	HasMany   RelationshipType = "has_many"
	BelongsTo RelationshipType = "belongs_to"
	Many2Many RelationshipType = "many_to_many"
)

// Relationship links one model to another, or to a collection of another.
// The target is recorded by name at declaration time and resolved against
// the registry once the whole hierarchy is registered, so related models may
// be declared in any order.
type Relationship struct {
	Name          string
	Type          RelationshipType
	TargetName    string
	Target        *Schema // resolved at finalize time
	LinkName      string
	Link          *Schema // many-to-many link model, resolved at finalize time
	LinkOwnerKey  string  // link model field referencing the owner
	LinkTargetKey string  // link model field referencing the target
	ForeignKey    string  // Go field name holding the key
	References    string  // Go field name being referenced
	Backref       string
	Eager         bool
	Slice         bool
	ElemType      reflect.Type
	Index         []int
	BindNames     []string
	StructField   reflect.StructField
}

// relationship declarations are written in the inherit tag, e.g.
//     Group *Group  `gorm:"-" inherit:"belongsTo;backref:Users"`
//     Users []User  `gorm:"-" inherit:"hasMany;backref:Group"`
//     Teams []Team  `gorm:"-" inherit:"many2many:UserTeam"`
func isRelationshipTag(settings map[string]string) bool {
	for _, key := range []string{"REL", "BELONGSTO", "HASONE", "HASMANY", "MANY2MANY"} {
		if _, ok := settings[key]; ok {
			return true
		}
	}
	return false
}

func parseRelationship(fieldStruct reflect.StructField, index []int, bindNames []string, settings map[string]string) (*Relationship, error) {
	rel := &Relationship{
		Name:        fieldStruct.Name,
		Index:       index,
		BindNames:   bindNames,
		StructField: fieldStruct,
		Eager:       true,
	}

	elem := fieldStruct.Type
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Slice {
		rel.Slice = true
		elem = elem.Elem()
		for elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}
	}
	if elem.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: unsupported relationship type %s for field %s", ErrConfiguration, fieldStruct.Type, fieldStruct.Name)
	}
	rel.ElemType = elem
	rel.TargetName = elem.Name()

	switch {
	case settings["BELONGSTO"] != "":
		rel.Type = BelongsTo
	case settings["HASONE"] != "":
		rel.Type = HasOne
	case settings["HASMANY"] != "":
		rel.Type = HasMany
	case settings["MANY2MANY"] != "":
		rel.Type = Many2Many
		rel.LinkName = settings["MANY2MANY"]
		if rel.LinkName == "MANY2MANY" {
			return nil, fmt.Errorf("%w: many2many relationship %s requires a link model name", ErrConfiguration, rel.Name)
		}
	default:
		// bare rel flag, the kind is guessed at finalize time
		if rel.Slice {
			rel.Type = HasMany
		}
	}

	switch rel.Type {
	case BelongsTo, HasOne:
		if rel.Slice {
			return nil, fmt.Errorf("%w: %s relationship %s must not be declared on a slice field", ErrConfiguration, rel.Type, rel.Name)
		}
	case HasMany, Many2Many:
		if !rel.Slice {
			return nil, fmt.Errorf("%w: %s relationship %s must be declared on a slice field", ErrConfiguration, rel.Type, rel.Name)
		}
	}

	if target, ok := settings["TARGET"]; ok {
		rel.TargetName = target
	}
	if fk, ok := settings["FOREIGNKEY"]; ok {
		rel.ForeignKey = fk
	}
	if refs, ok := settings["REFERENCES"]; ok {
		rel.References = refs
	}
	if backref, ok := settings["BACKREF"]; ok {
		rel.Backref = backref
	}
	if settings["LOAD"] == "none" {
		rel.Eager = false
	}

	return rel, nil
}

// ReflectValueOf returns the addressable reflect value of the relationship
// field within value.
func (rel *Relationship) ReflectValueOf(value reflect.Value) reflect.Value {
	v := reflect.Indirect(value)
	for _, idx := range rel.Index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	return v
}

// ValueOf returns the relationship field value within value and whether it
// is unset.
func (rel *Relationship) ValueOf(value reflect.Value) (reflect.Value, bool) {
	v := reflect.Indirect(value)
	for _, idx := range rel.Index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, true
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	return v, v.IsZero()
}
