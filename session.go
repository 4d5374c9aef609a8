package inherit

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm"
)

// Session routes persistence operations for registered models through their
// resolved table identities. It is a thin facade over *gorm.DB: SQL
// generation, transactions and connection handling stay gorm's, and gorm's
// session concurrency contract applies unchanged.
type Session struct {
	db       *gorm.DB
	registry *Registry
}

// Session opens a session facade over db.
func (r *Registry) Session(db *gorm.DB) *Session {
	if r.config.Logger != nil {
		db = db.Session(&gorm.Session{Logger: r.config.Logger})
	}
	return &Session{db: db, registry: r}
}

// WithContext returns a session bound to ctx.
func (s *Session) WithContext(ctx context.Context) *Session {
	return &Session{db: s.db.WithContext(ctx), registry: s.registry}
}

// DB exposes the underlying gorm handle.
func (s *Session) DB() *gorm.DB {
	return s.db
}

// Scope returns a gorm query scoped to value's registered table, for anything
// the facade does not cover.
func (s *Session) Scope(value interface{}) (*gorm.DB, error) {
	model, _, err := s.tableModelValue(value)
	if err != nil {
		return nil, err
	}
	return s.db.Table(model.Table), nil
}

// Create persists value. Field defaults are applied first, unsaved belongs-to
// targets are persisted and their keys propagated, then the row is written
// root-first through the model's chain: the root table allocates the shared
// identifier and every descendant table receives the full projection of its
// merged columns under that identifier. Has-one, has-many and many-to-many
// values are persisted after the owner.
func (s *Session) Create(value interface{}) error {
	model, rv, err := s.tableModelValue(value)
	if err != nil {
		return err
	}
	if err := s.registry.Finalize(); err != nil {
		return err
	}
	return s.create(model, rv)
}

func (s *Session) create(model *Schema, rv reflect.Value) error {
	if err := applyDefaults(model, rv); err != nil {
		return err
	}
	if err := validateChoices(model, rv); err != nil {
		return err
	}

	for _, rel := range model.Relationships {
		if rel.Type != BelongsTo {
			continue
		}
		if err := s.createBelongsTo(model, rel, rv); err != nil {
			return err
		}
	}

	pk := model.PrimaryField
	pkVal, pkZero := pk.ValueOf(rv)
	for _, member := range model.chainTables() {
		target := rv
		targetModel := model
		if member.Table != model.Table {
			targetModel = member
			target = member.newValue()
			if err := copyShared(target, member, rv, model); err != nil {
				return err
			}
		}
		if !pkZero {
			if err := targetModel.PrimaryField.Set(target, pkVal); err != nil {
				return err
			}
		}
		if err := s.db.Table(member.Table).Create(target.Interface()).Error; err != nil {
			return err
		}
		if pkZero {
			pkVal, pkZero = targetModel.PrimaryField.ValueOf(target)
			if pkZero {
				return fmt.Errorf("%w: %s did not assign a key on insert", ErrPrimaryKeyRequired, member.Table)
			}
			if err := pk.Set(rv, pkVal); err != nil {
				return err
			}
		}
	}

	for _, rel := range model.Relationships {
		var err error
		switch rel.Type {
		case HasOne, HasMany:
			err = s.createDependents(model, rel, rv)
		case Many2Many:
			err = s.createLinked(model, rel, rv)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) createBelongsTo(model *Schema, rel *Relationship, rv reflect.Value) error {
	fv, unset := rel.ValueOf(rv)
	if unset {
		return nil
	}
	targetPtr := fv
	if targetPtr.Kind() != reflect.Ptr {
		targetPtr = rel.ReflectValueOf(rv).Addr()
	}

	if _, zero := rel.Target.PrimaryField.ValueOf(targetPtr); zero {
		if err := s.create(rel.Target, targetPtr); err != nil {
			return err
		}
	}

	refField := rel.Target.FieldsByName[rel.References]
	refVal, _ := refField.ValueOf(targetPtr)
	fkField := model.FieldsByName[rel.ForeignKey]
	if _, zero := fkField.ValueOf(rv); zero {
		return fkField.Set(rv, refVal)
	}
	return nil
}

func (s *Session) createDependents(model *Schema, rel *Relationship, rv reflect.Value) error {
	refVal, zero := model.FieldsByName[rel.References].ValueOf(rv)
	if zero {
		return fmt.Errorf("%w: %s.%s requires %s to be set", ErrPrimaryKeyRequired, model.Name, rel.Name, rel.References)
	}
	fkField := rel.Target.FieldsByName[rel.ForeignKey]

	for _, elem := range relationElements(rel, rv) {
		if err := fkField.Set(elem, refVal); err != nil {
			return err
		}
		if _, zero := rel.Target.PrimaryField.ValueOf(elem); zero {
			if err := s.create(rel.Target, elem); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) createLinked(model *Schema, rel *Relationship, rv reflect.Value) error {
	ownVal, zero := model.PrimaryField.ValueOf(rv)
	if zero {
		return fmt.Errorf("%w: %s.%s requires the owner key to be set", ErrPrimaryKeyRequired, model.Name, rel.Name)
	}

	for _, elem := range relationElements(rel, rv) {
		if _, zero := rel.Target.PrimaryField.ValueOf(elem); zero {
			if err := s.create(rel.Target, elem); err != nil {
				return err
			}
		}
		targetVal, _ := rel.Target.PrimaryField.ValueOf(elem)

		link := rel.Link.newValue()
		if err := rel.Link.FieldsByName[rel.LinkOwnerKey].Set(link, ownVal); err != nil {
			return err
		}
		if err := rel.Link.FieldsByName[rel.LinkTargetKey].Set(link, targetVal); err != nil {
			return err
		}
		if err := s.create(rel.Link, link); err != nil {
			return err
		}
	}
	return nil
}

// relationElements returns addressable pointers to each related struct held
// in the relationship field, one for single-valued relations.
func relationElements(rel *Relationship, rv reflect.Value) []reflect.Value {
	fv, unset := rel.ValueOf(rv)
	if unset {
		return nil
	}

	var elems []reflect.Value
	if rel.Slice {
		for fv.Kind() == reflect.Ptr {
			fv = fv.Elem()
		}
		for i := 0; i < fv.Len(); i++ {
			elem := fv.Index(i)
			if elem.Kind() == reflect.Ptr {
				if !elem.IsNil() {
					elems = append(elems, elem)
				}
			} else {
				elems = append(elems, elem.Addr())
			}
		}
		return elems
	}

	if fv.Kind() == reflect.Ptr {
		return []reflect.Value{fv}
	}
	return []reflect.Value{rel.ReflectValueOf(rv).Addr()}
}

func applyDefaults(model *Schema, rv reflect.Value) error {
	for _, field := range model.Fields {
		if !field.HasDefault {
			continue
		}
		if _, zero := field.ValueOf(rv); !zero {
			continue
		}
		var err error
		if field.DefaultFactory != nil {
			err = field.Set(rv, field.DefaultFactory())
		} else if field.DefaultInterface != nil {
			err = field.Set(rv, field.DefaultInterface)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// validateChoices rejects writes carrying a value outside a field's declared
// choice set.
func validateChoices(model *Schema, rv reflect.Value) error {
	for _, field := range model.Fields {
		if len(field.Choices) == 0 {
			continue
		}
		val, zero := field.ValueOf(rv)
		if zero {
			continue
		}
		if !field.choiceAllowed(val) {
			return fmt.Errorf("%w: value %v of field %s is not one of %v",
				ErrInvalidField, val, field.Name, field.Choices)
		}
	}
	return nil
}

// First fetches the first matching row of dest's table into dest and eagerly
// loads its declared relationships. Conditions pass through to gorm.
func (s *Session) First(dest interface{}, conds ...interface{}) error {
	model, rv, err := s.tableModelValue(dest)
	if err != nil {
		return err
	}
	if err := s.registry.Finalize(); err != nil {
		return err
	}
	if err := s.db.Table(model.Table).First(dest, conds...).Error; err != nil {
		return err
	}
	return s.preload(model, []reflect.Value{rv})
}

// Find fetches every matching row of the slice element's table into dest and
// eagerly loads declared relationships.
func (s *Session) Find(dest interface{}, conds ...interface{}) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr || destValue.IsNil() || destValue.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("%w: destination must be a pointer to a slice", ErrInvalidData)
	}
	model, err := s.registry.SchemaOf(dest)
	if err != nil {
		return err
	}
	if !model.IsTable {
		return fmt.Errorf("%w: %s is not table-mapped", ErrInvalidData, model.Name)
	}
	if err := s.registry.Finalize(); err != nil {
		return err
	}
	if err := s.db.Table(model.Table).Find(dest, conds...).Error; err != nil {
		return err
	}

	slice := destValue.Elem()
	rows := make([]reflect.Value, 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		elem := slice.Index(i)
		if elem.Kind() == reflect.Ptr {
			rows = append(rows, elem)
		} else {
			rows = append(rows, elem.Addr())
		}
	}
	return s.preload(model, rows)
}

// Refresh reloads value in place from its table by primary key, with
// relationships.
func (s *Session) Refresh(value interface{}) error {
	model, rv, err := s.tableModelValue(value)
	if err != nil {
		return err
	}
	if err := s.registry.Finalize(); err != nil {
		return err
	}
	pkVal, zero := model.PrimaryKeyValue(rv)
	if zero {
		return fmt.Errorf("%w: refresh of %s", ErrPrimaryKeyRequired, model.Name)
	}
	if err := s.db.Table(model.Table).Where(model.PrimaryField.DBName+" = ?", derefValue(pkVal)).First(value).Error; err != nil {
		return err
	}
	return s.preload(model, []reflect.Value{rv})
}

// Save propagates value's non-key columns to every table of its chain by
// primary key.
func (s *Session) Save(value interface{}) error {
	model, rv, err := s.tableModelValue(value)
	if err != nil {
		return err
	}
	if err := s.registry.Finalize(); err != nil {
		return err
	}
	pkVal, zero := model.PrimaryKeyValue(rv)
	if zero {
		return fmt.Errorf("%w: save of %s", ErrPrimaryKeyRequired, model.Name)
	}
	if err := validateChoices(model, rv); err != nil {
		return err
	}

	for _, member := range model.chainTables() {
		cols := map[string]interface{}{}
		for _, field := range member.Fields {
			if field.PrimaryKey {
				continue
			}
			source, ok := model.FieldsByName[field.Name]
			if !ok {
				continue
			}
			val, _ := source.ValueOf(rv)
			cols[field.DBName] = derefValue(val)
		}
		if len(cols) == 0 {
			continue
		}
		if err := s.db.Table(member.Table).
			Where(member.PrimaryField.DBName+" = ?", derefValue(pkVal)).
			Updates(cols).Error; err != nil {
			return err
		}
	}
	return nil
}

// Delete removes value's row from every table of its chain, leaf first.
func (s *Session) Delete(value interface{}) error {
	model, rv, err := s.tableModelValue(value)
	if err != nil {
		return err
	}
	pkVal, zero := model.PrimaryKeyValue(rv)
	if zero {
		return fmt.Errorf("%w: delete of %s", ErrPrimaryKeyRequired, model.Name)
	}

	members := model.chainTables()
	for i := len(members) - 1; i >= 0; i-- {
		member := members[i]
		if err := s.db.Table(member.Table).
			Where(member.PrimaryField.DBName+" = ?", derefValue(pkVal)).
			Delete(member.newValue().Interface()).Error; err != nil {
			return err
		}
	}
	return nil
}

// Exec runs raw SQL through gorm.
func (s *Session) Exec(sql string, args ...interface{}) error {
	return s.db.Exec(sql, args...).Error
}

// Raw builds a raw SQL query through gorm.
func (s *Session) Raw(sql string, args ...interface{}) *gorm.DB {
	return s.db.Raw(sql, args...)
}

func (s *Session) tableModelValue(value interface{}) (*Schema, reflect.Value, error) {
	if value == nil {
		return nil, reflect.Value{}, ErrModelValueRequired
	}
	model, err := s.registry.SchemaOf(value)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	if !model.IsTable {
		return nil, reflect.Value{}, fmt.Errorf("%w: %s is not table-mapped", ErrInvalidData, model.Name)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, reflect.Value{}, fmt.Errorf("%w: value must be a non-nil pointer", ErrModelValueRequired)
	}
	return model, rv, nil
}
