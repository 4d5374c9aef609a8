package inherit

import (
	"fmt"
	"reflect"
)

// FromRow constructs dst, typically a non-table model, from a persisted row
// held in src: every merged non-relationship field the two models share by
// name is copied, then the update map overrides recognized fields (keyed by
// Go field name or column name). Relationship fields of dst are left unset;
// a non-table projection never carries its ancestors' relationship data.
func (r *Registry) FromRow(dst, src interface{}, update map[string]interface{}) error {
	dstModel, err := r.SchemaOf(dst)
	if err != nil {
		return err
	}
	srcModel, err := r.SchemaOf(src)
	if err != nil {
		return err
	}

	dstValue := reflect.ValueOf(dst)
	if dstValue.Kind() != reflect.Ptr || dstValue.IsNil() {
		return fmt.Errorf("%w: destination must be a non-nil pointer", ErrModelValueRequired)
	}
	srcValue := reflect.ValueOf(src)

	if err := copyShared(dstValue, dstModel, srcValue, srcModel); err != nil {
		return err
	}

	for key, val := range update {
		field := dstModel.LookUpField(key)
		if field == nil {
			return fmt.Errorf("%w: %s has no field %q", ErrInvalidField, dstModel.Name, key)
		}
		if err := field.Set(dstValue, val); err != nil {
			return err
		}
	}
	return nil
}

// copyShared copies the column fields dstModel and srcModel share by name
// from src into dst.
func copyShared(dst reflect.Value, dstModel *Schema, src reflect.Value, srcModel *Schema) error {
	for _, field := range dstModel.Fields {
		srcField, ok := srcModel.FieldsByName[field.Name]
		if !ok {
			continue
		}
		val, _ := srcField.ValueOf(src)
		if err := field.Set(dst, val); err != nil {
			return err
		}
	}
	return nil
}
