package inherit

import (
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config registry configuration
type Config struct {
	// Namer derives table and column identities, NamingStrategy{} when nil
	Namer Namer
	// Logger is installed on every session opened through Registry.Session
	Logger logger.Interface
}

// Registry is the metadata registry: the set of all registered models, keyed
// by struct type and by table identity. Models are registered once at
// program initialization; after that the registry is read-only and safe for
// concurrent use. Reset exists for test teardown.
type Registry struct {
	mu        sync.RWMutex
	config    Config
	models    map[reflect.Type]*Schema
	byName    map[string]*Schema
	tables    map[string][]*Schema
	ordered   []*Schema
	finalized bool
}

// NewRegistry creates an empty registry. The zero Config is usable.
func NewRegistry(config Config) *Registry {
	if config.Namer == nil {
		config.Namer = NamingStrategy{}
	}
	r := &Registry{config: config}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.models = map[reflect.Type]*Schema{}
	r.byName = map[string]*Schema{}
	r.tables = map[string][]*Schema{}
	r.ordered = nil
	r.finalized = false
}

// Reset drops every registered model. Intended for test teardown; it does
// not touch the database.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Option configures one model registration.
type Option func(*registerOptions)

type registerOptions struct {
	table     bool
	tableName string
}

// Table marks the model as mapped to its own table, named through the Namer.
func Table() Option {
	return func(o *registerOptions) { o.table = true }
}

// TableName marks the model as mapped to its own table with an explicit
// identity.
func TableName(name string) Option {
	return func(o *registerOptions) {
		o.table = true
		o.tableName = name
	}
}

// Register is the class-construction hook: it resolves the full set of field
// and relationship declarations of value's struct type by walking its
// embedding chain leaf-to-root, then records the model in the registry.
// Without a Table option the model is a plain declaration container: its
// fields are recorded for projection but no table identity is registered.
//
// Embedded ancestors must be registered before their descendants, which is
// the order package init blocks naturally produce.
func (r *Registry) Register(value interface{}, opts ...Option) (*Schema, error) {
	if value == nil {
		return nil, ErrModelValueRequired
	}

	modelType := reflect.TypeOf(value)
	for modelType.Kind() == reflect.Ptr || modelType.Kind() == reflect.Slice {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a struct", ErrInvalidData, modelType)
	}

	var options registerOptions
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[modelType]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRegistered, modelType.Name())
	}

	model := &Schema{
		Name:                modelType.Name(),
		ModelType:           modelType,
		IsTable:             options.table,
		FieldsByName:        map[string]*Field{},
		FieldsByDBName:      map[string]*Field{},
		RelationshipsByName: map[string]*Relationship{},
		registry:            r,
	}

	state := &collectState{
		fieldDepth: map[string]int{},
		relDepth:   map[string]int{},
	}
	if err := r.collect(model, state, modelType, nil, nil, 0); err != nil {
		return nil, err
	}

	if options.table {
		model.Table = options.tableName
		if model.Table == "" {
			model.Table = r.config.Namer.TableName(model.Name)
		}
	}

	for _, field := range model.Fields {
		if field.DBName == "" {
			field.DBName = r.config.Namer.ColumnName(model.Table, field.Name)
		}
		if existing, ok := model.FieldsByDBName[field.DBName]; ok && existing != field {
			return nil, fmt.Errorf("%w: fields %s and %s of %s map to the same column %q",
				ErrConfiguration, existing.Name, field.Name, model.Name, field.DBName)
		}
		model.FieldsByName[field.Name] = field
		model.FieldsByDBName[field.DBName] = field
	}

	// relationship declarations are never inherited into non-table models,
	// only declarations written directly on the struct survive
	if !options.table {
		direct := model.Relationships[:0]
		for _, rel := range model.Relationships {
			if state.relDepth[rel.Name] == 0 {
				direct = append(direct, rel)
			} else {
				delete(model.RelationshipsByName, rel.Name)
			}
		}
		model.Relationships = direct
	}

	if err := r.resolvePrimaryKey(model); err != nil {
		return nil, err
	}

	if options.table {
		for _, existing := range r.tables[model.Table] {
			if !model.columnsCompatibleWith(existing) || !existing.columnsCompatibleWith(model) {
				return nil, fmt.Errorf("%w: models %s and %s declare incompatible columns for shared table %q",
					ErrConfiguration, existing.Name, model.Name, model.Table)
			}
		}
		model.Chain = buildChain(model, state.bases)
		r.tables[model.Table] = append(r.tables[model.Table], model)
	}

	r.models[modelType] = model
	r.byName[model.Name] = model
	r.ordered = append(r.ordered, model)
	r.finalized = false
	return model, nil
}

// MustRegister is Register, panicking on error. Models are registered at
// program initialization where a misdeclaration should be fatal.
func (r *Registry) MustRegister(value interface{}, opts ...Option) *Schema {
	model, err := r.Register(value, opts...)
	if err != nil {
		panic(err)
	}
	return model
}

type collectState struct {
	fieldDepth map[string]int
	relDepth   map[string]int
	bases      []*Schema
}

// collect walks the struct leaf-to-root, gathering every field and
// relationship declaration not already overridden by a more derived struct.
// Shallower declarations shadow deeper ones, mirroring Go field promotion;
// an incompatible shadow is a declaration conflict.
func (r *Registry) collect(model *Schema, state *collectState, structType reflect.Type, index []int, bindNames []string, depth int) error {
	for i := 0; i < structType.NumField(); i++ {
		fieldStruct := structType.Field(i)
		if fieldStruct.PkgPath != "" {
			continue // unexported
		}

		fieldIndex := append(append([]int{}, index...), i)
		fieldBind := append(append([]string{}, bindNames...), fieldStruct.Name)

		if fieldStruct.Anonymous {
			embeddedType := fieldStruct.Type
			for embeddedType.Kind() == reflect.Ptr {
				embeddedType = embeddedType.Elem()
			}
			if embeddedType.Kind() == reflect.Struct {
				if base, ok := r.models[embeddedType]; ok && base.IsTable {
					state.bases = append(state.bases, base)
				}
				if err := r.collect(model, state, embeddedType, fieldIndex, fieldBind, depth+1); err != nil {
					return err
				}
				continue
			}
		}

		inheritSettings := ParseTagSetting(fieldStruct.Tag.Get("inherit"), ";")
		if isRelationshipTag(inheritSettings) {
			rel, err := parseRelationship(fieldStruct, fieldIndex, fieldBind, inheritSettings)
			if err != nil {
				return err
			}
			if err := addRelationship(model, state, rel, depth); err != nil {
				return err
			}
			continue
		}

		if gormTag := fieldStruct.Tag.Get("gorm"); gormTag == "-" {
			continue
		}

		field, err := parseField(fieldStruct, fieldIndex, fieldBind)
		if err != nil {
			return err
		}
		if err := addField(model, state, field, depth); err != nil {
			return err
		}
	}
	return nil
}

func addField(model *Schema, state *collectState, field *Field, depth int) error {
	existing, ok := model.FieldsByName[field.Name]
	if !ok {
		model.Fields = append(model.Fields, field)
		model.FieldsByName[field.Name] = field
		state.fieldDepth[field.Name] = depth
		return nil
	}

	if !field.compatibleWith(existing) {
		return fmt.Errorf("%w: field %s of %s redeclared with incompatible type (%s vs %s)",
			ErrAttributeConflict, field.Name, model.Name, field.IndirectFieldType, existing.IndirectFieldType)
	}

	// shallower declaration wins, first wins on equal depth
	if depth < state.fieldDepth[field.Name] {
		for i, f := range model.Fields {
			if f == existing {
				model.Fields[i] = field
				break
			}
		}
		model.FieldsByName[field.Name] = field
		state.fieldDepth[field.Name] = depth
	}
	return nil
}

func addRelationship(model *Schema, state *collectState, rel *Relationship, depth int) error {
	existing, ok := model.RelationshipsByName[rel.Name]
	if !ok {
		model.Relationships = append(model.Relationships, rel)
		model.RelationshipsByName[rel.Name] = rel
		state.relDepth[rel.Name] = depth
		return nil
	}

	if depth < state.relDepth[rel.Name] {
		for i, existingRel := range model.Relationships {
			if existingRel == existing {
				model.Relationships[i] = rel
				break
			}
		}
		model.RelationshipsByName[rel.Name] = rel
		state.relDepth[rel.Name] = depth
	}
	return nil
}

func (r *Registry) resolvePrimaryKey(model *Schema) error {
	var primary []*Field
	for _, field := range model.Fields {
		if field.PrimaryKey {
			primary = append(primary, field)
		}
	}

	if len(primary) == 0 {
		if field := model.LookUpField("id"); field != nil {
			field.PrimaryKey = true
			primary = append(primary, field)
		}
	}

	switch len(primary) {
	case 0:
		if model.IsTable {
			return fmt.Errorf("%w: table model %s declares no primary key", ErrConfiguration, model.Name)
		}
	case 1:
		model.PrimaryField = primary[0]
		if (model.PrimaryField.DataType == Int || model.PrimaryField.DataType == Uint) && model.PrimaryField.DefaultFactory == nil {
			model.PrimaryField.AutoIncrement = true
		}
	default:
		names := make([]string, 0, len(primary))
		for _, field := range primary {
			names = append(names, field.Name)
		}
		return fmt.Errorf("%w: %s declares conflicting primary keys %v", ErrConfiguration, model.Name, names)
	}
	return nil
}

// buildChain linearizes the table-mapped ancestors root-first and appends
// the model itself.
func buildChain(model *Schema, bases []*Schema) []*Schema {
	var chain []*Schema
	seen := map[*Schema]bool{}
	for _, base := range bases {
		for _, member := range base.Chain {
			if !seen[member] {
				seen[member] = true
				chain = append(chain, member)
			}
		}
	}
	return append(chain, model)
}

// SchemaOf returns the registered model for value's struct type.
func (r *Registry) SchemaOf(value interface{}) (*Schema, error) {
	if value == nil {
		return nil, ErrModelValueRequired
	}
	modelType := reflect.TypeOf(value)
	for modelType.Kind() == reflect.Ptr || modelType.Kind() == reflect.Slice {
		modelType = modelType.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if model, ok := r.models[modelType]; ok {
		return model, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNotRegistered, modelType)
}

// Models returns every registered model in registration order.
func (r *Registry) Models() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Schema{}, r.ordered...)
}

// Finalize resolves every deferred relationship declaration against the
// registry. It runs automatically before the first session or migration use;
// calling it explicitly surfaces resolution errors eagerly.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalize()
}

func (r *Registry) finalize() error {
	if r.finalized {
		return nil
	}

	for _, model := range r.ordered {
		for _, rel := range model.Relationships {
			if err := r.resolveRelationship(model, rel); err != nil {
				return err
			}
		}
	}

	// back references are validated once every target is resolved
	for _, model := range r.ordered {
		for _, rel := range model.Relationships {
			if rel.Backref == "" {
				continue
			}
			back, ok := rel.Target.RelationshipsByName[rel.Backref]
			if !ok {
				return fmt.Errorf("%w: back reference %s.%s for relationship %s.%s is not declared",
					ErrConfiguration, rel.Target.Name, rel.Backref, model.Name, rel.Name)
			}
			if !pointsBack(model, back) {
				return fmt.Errorf("%w: back reference %s.%s does not point back at %s",
					ErrConfiguration, rel.Target.Name, rel.Backref, model.Name)
			}
		}
	}

	r.finalized = true
	return nil
}

func pointsBack(model *Schema, back *Relationship) bool {
	if back.Target == model {
		return true
	}
	for _, member := range model.Chain {
		if back.Target == member {
			return true
		}
	}
	return false
}

func (r *Registry) resolveRelationship(model *Schema, rel *Relationship) error {
	target, ok := r.byName[rel.TargetName]
	if !ok {
		if target, ok = r.models[rel.ElemType]; !ok {
			return fmt.Errorf("%w: target %s of relationship %s.%s", ErrResolution, rel.TargetName, model.Name, rel.Name)
		}
	}
	if !target.IsTable {
		return fmt.Errorf("%w: target %s of relationship %s.%s is not table-mapped",
			ErrConfiguration, target.Name, model.Name, rel.Name)
	}
	rel.Target = target

	if rel.Type == "" {
		if guessOwnForeignKey(model, rel, target) != nil {
			rel.Type = BelongsTo
		} else {
			rel.Type = HasOne
		}
	}

	switch rel.Type {
	case BelongsTo:
		fk := guessOwnForeignKey(model, rel, target)
		if fk == nil {
			return fmt.Errorf("%w: no foreign key field on %s for belongs-to relationship %s",
				ErrConfiguration, model.Name, rel.Name)
		}
		rel.ForeignKey = fk.Name
		if rel.References == "" {
			rel.References = target.PrimaryField.Name
		}
		refField := target.LookUpField(rel.References)
		if refField == nil {
			return fmt.Errorf("%w: referenced field %s missing on %s for relationship %s.%s",
				ErrConfiguration, rel.References, target.Name, model.Name, rel.Name)
		}
		// declarations may use column names, sessions look fields up by Go name
		rel.References = refField.Name
	case HasOne, HasMany:
		fk := guessRemoteForeignKey(model, rel, target)
		if fk == nil {
			return fmt.Errorf("%w: no foreign key field on %s for %s relationship %s.%s",
				ErrConfiguration, target.Name, rel.Type, model.Name, rel.Name)
		}
		rel.ForeignKey = fk.Name
		if rel.References == "" {
			rel.References = model.PrimaryField.Name
		}
		refField := model.LookUpField(rel.References)
		if refField == nil {
			return fmt.Errorf("%w: referenced field %s missing on %s for relationship %s.%s",
				ErrConfiguration, rel.References, model.Name, model.Name, rel.Name)
		}
		rel.References = refField.Name
	case Many2Many:
		link, ok := r.byName[rel.LinkName]
		if !ok {
			return fmt.Errorf("%w: link model %s of relationship %s.%s", ErrResolution, rel.LinkName, model.Name, rel.Name)
		}
		if !link.IsTable {
			return fmt.Errorf("%w: link model %s of relationship %s.%s is not table-mapped",
				ErrConfiguration, link.Name, model.Name, rel.Name)
		}
		rel.Link = link

		ownKey := linkKeyFor(link, model)
		targetKey := linkKeyFor(link, target)
		if ownKey == nil || targetKey == nil {
			return fmt.Errorf("%w: link model %s does not reference both %s and %s for relationship %s.%s",
				ErrConfiguration, link.Name, model.Name, target.Name, model.Name, rel.Name)
		}
		rel.LinkOwnerKey = ownKey.Name
		rel.LinkTargetKey = targetKey.Name
	}
	return nil
}

// guessOwnForeignKey finds the owner-side key column of a belongs-to
// relationship: an explicit declaration, a field named after the relation
// plus the target key, or a column referencing the target's key.
func guessOwnForeignKey(model *Schema, rel *Relationship, target *Schema) *Field {
	if rel.ForeignKey != "" {
		return model.LookUpField(rel.ForeignKey)
	}
	if target.PrimaryField == nil {
		return nil
	}
	if field := model.LookUpField(rel.Name + target.PrimaryField.Name); field != nil {
		return field
	}
	return fieldReferencing(model, target)
}

// guessRemoteForeignKey finds the target-side key column of a has-one or
// has-many relationship.
func guessRemoteForeignKey(model *Schema, rel *Relationship, target *Schema) *Field {
	if rel.ForeignKey != "" {
		return target.LookUpField(rel.ForeignKey)
	}
	if model.PrimaryField == nil {
		return nil
	}
	if field := target.LookUpField(model.Name + model.PrimaryField.Name); field != nil {
		return field
	}
	return fieldReferencing(target, model)
}

// fieldReferencing returns the first column of model whose fk declaration
// names referenced's table and primary key, or a key of any model sharing
// that chain.
func fieldReferencing(model *Schema, referenced *Schema) *Field {
	if referenced.PrimaryField == nil {
		return nil
	}
	want := map[string]bool{
		referenced.Table + "." + referenced.PrimaryField.DBName: true,
	}
	for _, member := range referenced.Chain {
		if member.PrimaryField != nil {
			want[member.Table+"."+member.PrimaryField.DBName] = true
		}
	}
	for _, field := range model.Fields {
		if field.Reference != "" && want[field.Reference] {
			return field
		}
	}
	return nil
}

func linkKeyFor(link *Schema, side *Schema) *Field {
	if side.PrimaryField == nil {
		return nil
	}
	if field := link.LookUpField(side.Name + side.PrimaryField.Name); field != nil {
		return field
	}
	return fieldReferencing(link, side)
}

// CreateAll migrates every registered table in registration order. Models
// sharing a table identity accrete columns onto the same table.
func (r *Registry) CreateAll(db *gorm.DB) error {
	if err := r.Finalize(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, model := range r.ordered {
		if !model.IsTable {
			continue
		}
		if err := db.Table(model.Table).AutoMigrate(model.newValue().Interface()); err != nil {
			return err
		}
	}
	return nil
}

// DropAll drops every registered table, most recently registered first.
func (r *Registry) DropAll(db *gorm.DB) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dropped := map[string]bool{}
	for i := len(r.ordered) - 1; i >= 0; i-- {
		model := r.ordered[i]
		if !model.IsTable || dropped[model.Table] {
			continue
		}
		dropped[model.Table] = true
		if err := db.Migrator().DropTable(model.Table); err != nil {
			return err
		}
	}
	return nil
}
