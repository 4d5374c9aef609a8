package inherit

import (
	"reflect"
)

// preload eagerly loads the declared relationships of the given rows, one
// query per relation side. Loading goes through gorm; this only decides which
// rows to fetch and where to attach them.
func (s *Session) preload(model *Schema, rows []reflect.Value) error {
	if len(rows) == 0 {
		return nil
	}
	for _, rel := range model.Relationships {
		if !rel.Eager {
			continue
		}
		var err error
		switch rel.Type {
		case BelongsTo:
			err = s.preloadBelongsTo(model, rel, rows)
		case HasOne, HasMany:
			err = s.preloadHas(model, rel, rows)
		case Many2Many:
			err = s.preloadLinked(model, rel, rows)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) preloadBelongsTo(model *Schema, rel *Relationship, rows []reflect.Value) error {
	fkField := model.FieldsByName[rel.ForeignKey]
	refField := rel.Target.LookUpField(rel.References)

	args, keys := gatherKeys(fkField, rows)
	if len(args) == 0 {
		return nil
	}

	targets, err := s.loadInto(rel.Target, refField.DBName, args)
	if err != nil {
		return err
	}

	index := map[interface{}]reflect.Value{}
	for i := 0; i < targets.Len(); i++ {
		elem := targets.Index(i).Addr()
		val, _ := refField.ValueOf(elem)
		index[keyOf(val)] = elem
	}

	for i, row := range rows {
		if keys[i] == nil {
			continue
		}
		if target, ok := index[keys[i]]; ok {
			assignSingle(rel, row, target)
		}
	}
	return nil
}

func (s *Session) preloadHas(model *Schema, rel *Relationship, rows []reflect.Value) error {
	refField := model.LookUpField(rel.References)
	fkField := rel.Target.FieldsByName[rel.ForeignKey]

	args, keys := gatherKeys(refField, rows)
	if len(args) == 0 {
		return nil
	}

	targets, err := s.loadInto(rel.Target, fkField.DBName, args)
	if err != nil {
		return err
	}

	grouped := map[interface{}][]reflect.Value{}
	for i := 0; i < targets.Len(); i++ {
		elem := targets.Index(i).Addr()
		val, _ := fkField.ValueOf(elem)
		key := keyOf(val)
		grouped[key] = append(grouped[key], elem)
	}

	for i, row := range rows {
		if keys[i] == nil {
			continue
		}
		matches := grouped[keys[i]]
		if len(matches) == 0 {
			continue
		}
		if rel.Type == HasOne {
			assignSingle(rel, row, matches[0])
		} else {
			assignSlice(rel, row, matches)
		}
	}
	return nil
}

func (s *Session) preloadLinked(model *Schema, rel *Relationship, rows []reflect.Value) error {
	ownKey := rel.Link.FieldsByName[rel.LinkOwnerKey]
	targetKey := rel.Link.FieldsByName[rel.LinkTargetKey]
	targetPK := rel.Target.PrimaryField

	args, keys := gatherKeys(model.PrimaryField, rows)
	if len(args) == 0 {
		return nil
	}

	links, err := s.loadInto(rel.Link, ownKey.DBName, args)
	if err != nil {
		return err
	}
	if links.Len() == 0 {
		return nil
	}

	var targetArgs []interface{}
	targetSeen := map[interface{}]bool{}
	pairs := make([][2]interface{}, 0, links.Len())
	for i := 0; i < links.Len(); i++ {
		elem := links.Index(i).Addr()
		ownVal, _ := ownKey.ValueOf(elem)
		targetVal, zero := targetKey.ValueOf(elem)
		if zero {
			continue
		}
		tk := keyOf(targetVal)
		pairs = append(pairs, [2]interface{}{keyOf(ownVal), tk})
		if !targetSeen[tk] {
			targetSeen[tk] = true
			targetArgs = append(targetArgs, derefValue(targetVal))
		}
	}

	targets, err := s.loadInto(rel.Target, targetPK.DBName, targetArgs)
	if err != nil {
		return err
	}
	index := map[interface{}]reflect.Value{}
	for i := 0; i < targets.Len(); i++ {
		elem := targets.Index(i).Addr()
		val, _ := targetPK.ValueOf(elem)
		index[keyOf(val)] = elem
	}

	grouped := map[interface{}][]reflect.Value{}
	for _, pair := range pairs {
		if target, ok := index[pair[1]]; ok {
			grouped[pair[0]] = append(grouped[pair[0]], target)
		}
	}

	for i, row := range rows {
		if keys[i] == nil {
			continue
		}
		if matches := grouped[keys[i]]; len(matches) > 0 {
			assignSlice(rel, row, matches)
		}
	}
	return nil
}

// loadInto fetches the rows of model's table whose column is in args.
func (s *Session) loadInto(model *Schema, column string, args []interface{}) (reflect.Value, error) {
	slicePtr := reflect.New(reflect.SliceOf(model.ModelType))
	err := s.db.Table(model.Table).Where(column+" IN ?", args).Find(slicePtr.Interface()).Error
	return slicePtr.Elem(), err
}

// gatherKeys collects the distinct non-zero values of field across rows for
// the IN clause, plus the per-row normalized key (nil when unset).
func gatherKeys(field *Field, rows []reflect.Value) ([]interface{}, []interface{}) {
	var args []interface{}
	seen := map[interface{}]bool{}
	keys := make([]interface{}, len(rows))
	for i, row := range rows {
		val, zero := field.ValueOf(row)
		if zero {
			continue
		}
		key := keyOf(val)
		keys[i] = key
		if !seen[key] {
			seen[key] = true
			args = append(args, derefValue(val))
		}
	}
	return args, keys
}

// assignSingle sets a struct or pointer relationship field to target, a
// pointer to the loaded row.
func assignSingle(rel *Relationship, row reflect.Value, target reflect.Value) {
	field := rel.ReflectValueOf(row)
	if field.Kind() == reflect.Ptr {
		field.Set(target)
		return
	}
	field.Set(target.Elem())
}

// assignSlice sets a slice relationship field to the loaded rows.
func assignSlice(rel *Relationship, row reflect.Value, targets []reflect.Value) {
	field := rel.ReflectValueOf(row)
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		field = field.Elem()
	}

	elemType := field.Type().Elem()
	slice := reflect.MakeSlice(field.Type(), 0, len(targets))
	for _, target := range targets {
		if elemType.Kind() == reflect.Ptr {
			slice = reflect.Append(slice, target)
		} else {
			slice = reflect.Append(slice, target.Elem())
		}
	}
	field.Set(slice)
}

// derefValue unwraps pointers for use as a bind variable, nil pointers map
// to nil.
func derefValue(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// keyOf normalizes a key value for map comparison across int widths and
// pointer wrappers.
func keyOf(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	switch {
	case isIntKind(rv.Kind()):
		return rv.Int()
	case isUintKind(rv.Kind()):
		return rv.Uint()
	case rv.Kind() == reflect.String:
		return rv.String()
	}
	return rv.Interface()
}
