package inherit

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/now"
)

// DataType semantic column type classification
type DataType string

const (
	Bool   DataType = "bool"
	Int    DataType = "int"
	Uint   DataType = "uint"
	Float  DataType = "float"
	String DataType = "string"
	Time   DataType = "time"
	Bytes  DataType = "bytes"
)

var timeReflectType = reflect.TypeOf(time.Time{})

// Field describes one persisted column of a model: its name, type
// classification, nullability, key markers and default, merged through the
// embedding chain when the model is registered.
type Field struct {
	Name              string
	DBName            string
	BindNames         []string
	Index             []int
	DataType          DataType
	PrimaryKey        bool
	AutoIncrement     bool
	NotNull           bool
	Unique            bool
	HasDefault        bool
	DefaultValue      string
	DefaultInterface  interface{}
	DefaultFactory    func() interface{}
	Choices           []string // allowed values of an enum-valued column
	Reference         string   // foreign key target as "table.column"
	Size              int
	Comment           string
	FieldType         reflect.Type
	IndirectFieldType reflect.Type
	StructField       reflect.StructField
	TagSettings       map[string]string
}

func parseField(fieldStruct reflect.StructField, index []int, bindNames []string) (*Field, error) {
	field := &Field{
		Name:              fieldStruct.Name,
		BindNames:         bindNames,
		Index:             index,
		FieldType:         fieldStruct.Type,
		IndirectFieldType: fieldStruct.Type,
		StructField:       fieldStruct,
		TagSettings:       ParseTagSetting(fieldStruct.Tag.Get("gorm"), ";"),
	}

	for field.IndirectFieldType.Kind() == reflect.Ptr {
		field.IndirectFieldType = field.IndirectFieldType.Elem()
	}

	if dbName, ok := field.TagSettings["COLUMN"]; ok {
		field.DBName = dbName
	}

	if val, ok := field.TagSettings["PRIMARYKEY"]; ok && checkTruth(val) {
		field.PrimaryKey = true
	} else if val, ok := field.TagSettings["PRIMARY_KEY"]; ok && checkTruth(val) {
		field.PrimaryKey = true
	}

	if val, ok := field.TagSettings["AUTOINCREMENT"]; ok && checkTruth(val) {
		field.AutoIncrement = true
		field.HasDefault = true
	}

	if v, ok := field.TagSettings["DEFAULT"]; ok {
		field.HasDefault = true
		field.DefaultValue = v
	}

	if num, ok := field.TagSettings["SIZE"]; ok {
		if size, err := strconv.Atoi(num); err == nil {
			field.Size = size
		} else {
			field.Size = -1
		}
	}

	if val, ok := field.TagSettings["NOT NULL"]; ok && checkTruth(val) {
		field.NotNull = true
	}

	if val, ok := field.TagSettings["UNIQUE"]; ok && checkTruth(val) {
		field.Unique = true
	}

	if val, ok := field.TagSettings["COMMENT"]; ok {
		field.Comment = val
	}

	// declaration-level settings live in the inherit tag so they never leak
	// into the DDL the underlying ORM generates
	inheritSettings := ParseTagSetting(fieldStruct.Tag.Get("inherit"), ";")
	if fk, ok := inheritSettings["FK"]; ok {
		field.Reference = fk
	}

	switch {
	case field.IndirectFieldType.ConvertibleTo(timeReflectType):
		field.DataType = Time
	case field.IndirectFieldType.Kind() == reflect.Bool:
		field.DataType = Bool
	case isIntKind(field.IndirectFieldType.Kind()):
		field.DataType = Int
	case isUintKind(field.IndirectFieldType.Kind()):
		field.DataType = Uint
	case field.IndirectFieldType.Kind() == reflect.Float32, field.IndirectFieldType.Kind() == reflect.Float64:
		field.DataType = Float
	case field.IndirectFieldType.Kind() == reflect.String:
		field.DataType = String
	case field.IndirectFieldType == reflect.TypeOf([]byte(nil)):
		field.DataType = Bytes
	}

	if def, ok := inheritSettings["DEFAULT"]; ok {
		field.HasDefault = true
		field.DefaultValue = def
		switch def {
		case "now":
			if field.DataType != Time {
				return nil, fmt.Errorf("%w: default:now on non-time field %s", ErrConfiguration, field.Name)
			}
			field.DefaultFactory = func() interface{} { return time.Now() }
		case "uuid":
			if field.DataType != String {
				return nil, fmt.Errorf("%w: default:uuid on non-string field %s", ErrConfiguration, field.Name)
			}
			field.DefaultFactory = func() interface{} { return uuid.NewString() }
		default:
			if err := field.parseDefaultValue(def); err != nil {
				return nil, err
			}
		}
	} else if field.DefaultValue != "" && !skipParseDefault(field.DefaultValue) {
		if err := field.parseDefaultValue(field.DefaultValue); err != nil {
			return nil, err
		}
	}

	// enum-valued columns, stored as their underlying string or integer type
	if choices, ok := inheritSettings["CHOICES"]; ok {
		switch field.DataType {
		case String, Int, Uint:
		default:
			return nil, fmt.Errorf("%w: choices on non-string, non-integer field %s", ErrConfiguration, field.Name)
		}
		for _, choice := range strings.Split(choices, ",") {
			field.Choices = append(field.Choices, strings.TrimSpace(choice))
		}
		if field.DefaultInterface != nil && !field.choiceAllowed(field.DefaultInterface) {
			return nil, fmt.Errorf("%w: default %v of field %s is not one of %v",
				ErrConfiguration, field.DefaultInterface, field.Name, field.Choices)
		}
	}

	return field, nil
}

// choiceAllowed reports whether val is one of the field's declared choices.
func (field *Field) choiceAllowed(val interface{}) bool {
	rv := reflect.ValueOf(val)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}

	var s string
	switch {
	case rv.Kind() == reflect.String:
		s = rv.String()
	case isIntKind(rv.Kind()):
		s = strconv.FormatInt(rv.Int(), 10)
	case isUintKind(rv.Kind()):
		s = strconv.FormatUint(rv.Uint(), 10)
	default:
		return false
	}

	for _, choice := range field.Choices {
		if choice == s {
			return true
		}
	}
	return false
}

func (field *Field) parseDefaultValue(def string) error {
	var err error
	switch field.DataType {
	case Bool:
		field.DefaultInterface, err = strconv.ParseBool(def)
	case Int:
		field.DefaultInterface, err = strconv.ParseInt(def, 0, 64)
	case Uint:
		field.DefaultInterface, err = strconv.ParseUint(def, 0, 64)
	case Float:
		field.DefaultInterface, err = strconv.ParseFloat(def, 64)
	case String:
		field.DefaultInterface = trimQuotes(def)
	case Time:
		field.DefaultInterface, err = now.Parse(def)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to parse %q as default value for field %s: %v", ErrConfiguration, def, field.Name, err)
	}
	return nil
}

// skip function calls, NULL and blank defaults, they belong to the database
func skipParseDefault(def string) bool {
	return def == "" || (strings.Contains(def, "(") && strings.Contains(def, ")")) ||
		strings.EqualFold(def, "null")
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// ReflectValueOf returns the addressable reflect value of the field within
// value, allocating intermediate embedded pointers on the way.
func (field *Field) ReflectValueOf(value reflect.Value) reflect.Value {
	v := reflect.Indirect(value)
	for _, idx := range field.Index {
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

// ValueOf returns the field value within value and whether it is zero.
func (field *Field) ValueOf(value reflect.Value) (interface{}, bool) {
	v := reflect.Indirect(value)
	for _, idx := range field.Index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return nil, true
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	return v.Interface(), v.IsZero()
}

// Set assigns val to the field within value, converting compatible kinds and
// wrapping pointer targets as needed.
func (field *Field) Set(value reflect.Value, val interface{}) error {
	fv := field.ReflectValueOf(value)
	if val == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	rv := reflect.ValueOf(val)
	if rv.Type() == fv.Type() {
		fv.Set(rv)
		return nil
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		rv = rv.Elem()
	}

	if fv.Kind() == reflect.Ptr {
		elem := fv.Type().Elem()
		if !rv.Type().ConvertibleTo(elem) {
			return fmt.Errorf("%w: cannot assign %T to field %s", ErrInvalidField, val, field.Name)
		}
		p := reflect.New(elem)
		p.Elem().Set(rv.Convert(elem))
		fv.Set(p)
		return nil
	}

	if !rv.Type().ConvertibleTo(fv.Type()) {
		return fmt.Errorf("%w: cannot assign %T to field %s", ErrInvalidField, val, field.Name)
	}
	fv.Set(rv.Convert(fv.Type()))
	return nil
}

// compatibleWith reports whether a redeclaration of the field by a more
// derived struct is an acceptable override of other.
func (field *Field) compatibleWith(other *Field) bool {
	if field.DataType != other.DataType {
		return false
	}
	if field.PrimaryKey != other.PrimaryKey {
		return false
	}
	return true
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUintKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
