// Package inherit maps a base model struct and any number of its embedding
// descendants to distinct database tables on top of gorm, with field and
// relationship declarations propagating through the embedding chain.
//
// Registering a struct resolves the union of declarations inherited from its
// embedded ancestors, so a table-mapped descendant of a table-mapped base
// coexists as a second, independent table instead of conflicting with its
// ancestor's mapping:
//
//	type BaseUser struct {
//		inherit.Model
//		Username string `gorm:"not null;index"`
//		GroupID  *int64 `inherit:"fk:groups.id"`
//	}
//
//	type User struct {
//		BaseUser
//		Group *Group `gorm:"-" inherit:"belongsTo;backref:Users"`
//	}
//
//	var _ = inherit.MustRegister(&User{}, inherit.Table())
//
// Schema migration, SQL generation, transactions and connection handling are
// gorm's; this package only decides what each registered model's table looks
// like and how rows travel through an inheritance chain.
package inherit

import (
	"gorm.io/gorm"
)

// Model is the base declaration mixin entities can embed for an
// auto-incrementing integer key.
type Model struct {
	ID int64 `gorm:"primaryKey"`
}

// Default is the process-wide registry, populated as models are registered
// at program initialization and explicitly clearable via Reset for test
// teardown.
var Default = NewRegistry(Config{})

// Register records value's struct type in the default registry.
func Register(value interface{}, opts ...Option) (*Schema, error) {
	return Default.Register(value, opts...)
}

// MustRegister is Register, panicking on error.
func MustRegister(value interface{}, opts ...Option) *Schema {
	return Default.MustRegister(value, opts...)
}

// Finalize resolves deferred relationships in the default registry.
func Finalize() error {
	return Default.Finalize()
}

// CreateAll migrates every table registered in the default registry.
func CreateAll(db *gorm.DB) error {
	return Default.CreateAll(db)
}

// DropAll drops every table registered in the default registry.
func DropAll(db *gorm.DB) error {
	return Default.DropAll(db)
}

// Reset clears the default registry.
func Reset() {
	Default.Reset()
}

// NewSession opens a session facade over db using the default registry.
func NewSession(db *gorm.DB) *Session {
	return Default.Session(db)
}

// FromRow constructs dst from src's row data using the default registry.
func FromRow(dst, src interface{}, update map[string]interface{}) error {
	return Default.FromRow(dst, src, update)
}
