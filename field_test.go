package inherit

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type defaultedDocument struct {
	Model
	Token     string    `inherit:"default:uuid"`
	IssuedAt  time.Time `inherit:"default:now"`
	Status    string    `inherit:"default:'draft'"`
	Retries   int       `inherit:"default:3"`
	Threshold float64   `inherit:"default:0.5"`
	Active    bool      `inherit:"default:true"`
}

func TestFieldDefaults(t *testing.T) {
	r := NewRegistry(Config{})
	model, err := r.Register(&defaultedDocument{}, Table())
	require.NoError(t, err)

	token := model.FieldsByName["Token"]
	require.NotNil(t, token.DefaultFactory)
	first := token.DefaultFactory().(string)
	second := token.DefaultFactory().(string)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)

	issued := model.FieldsByName["IssuedAt"]
	require.NotNil(t, issued.DefaultFactory)
	assert.WithinDuration(t, time.Now(), issued.DefaultFactory().(time.Time), time.Minute)

	assert.Equal(t, "draft", model.FieldsByName["Status"].DefaultInterface)
	assert.Equal(t, int64(3), model.FieldsByName["Retries"].DefaultInterface)
	assert.Equal(t, 0.5, model.FieldsByName["Threshold"].DefaultInterface)
	assert.Equal(t, true, model.FieldsByName["Active"].DefaultInterface)
}

func TestFieldDefaultsApplied(t *testing.T) {
	r := NewRegistry(Config{})
	model, err := r.Register(&defaultedDocument{}, Table())
	require.NoError(t, err)

	doc := &defaultedDocument{Status: "published"}
	require.NoError(t, applyDefaults(model, reflect.ValueOf(doc)))

	assert.NotEmpty(t, doc.Token)
	assert.False(t, doc.IssuedAt.IsZero())
	// explicit values survive
	assert.Equal(t, "published", doc.Status)
	assert.Equal(t, 3, doc.Retries)
	assert.Equal(t, 0.5, doc.Threshold)
	assert.True(t, doc.Active)
}

type badTimeDefault struct {
	Model
	Name string `inherit:"default:now"`
}

type badUUIDDefault struct {
	Model
	Count int `inherit:"default:uuid"`
}

type badLiteralDefault struct {
	Model
	Count int `inherit:"default:abc"`
}

func TestFieldDefaultErrors(t *testing.T) {
	r := NewRegistry(Config{})

	_, err := r.Register(&badTimeDefault{}, Table())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = r.Register(&badUUIDDefault{}, Table())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = r.Register(&badLiteralDefault{}, Table())
	assert.ErrorIs(t, err, ErrConfiguration)
}

type columnTagged struct {
	Model
	Login   string `gorm:"column:user_login;not null;size:64;unique"`
	Skipped string `gorm:"default:lower(hex(randomblob(8)))"`
}

func TestParseFieldTagSettings(t *testing.T) {
	r := NewRegistry(Config{})
	model, err := r.Register(&columnTagged{}, Table())
	require.NoError(t, err)

	login := model.FieldsByName["Login"]
	assert.Equal(t, "user_login", login.DBName)
	assert.True(t, login.NotNull)
	assert.True(t, login.Unique)
	assert.Equal(t, 64, login.Size)

	// database-side expressions are passed through, never evaluated here
	skipped := model.FieldsByName["Skipped"]
	assert.True(t, skipped.HasDefault)
	assert.Nil(t, skipped.DefaultInterface)
	assert.Nil(t, skipped.DefaultFactory)
}

type settable struct {
	Model
	Name    string
	GroupID *int64
}

func TestFieldSet(t *testing.T) {
	r := NewRegistry(Config{})
	model, err := r.Register(&settable{}, Table())
	require.NoError(t, err)

	value := &settable{}
	rv := reflect.ValueOf(value)

	require.NoError(t, model.FieldsByName["Name"].Set(rv, "alice"))
	assert.Equal(t, "alice", value.Name)

	// pointer targets are wrapped, kinds converted
	require.NoError(t, model.FieldsByName["GroupID"].Set(rv, int64(7)))
	require.NotNil(t, value.GroupID)
	assert.Equal(t, int64(7), *value.GroupID)

	require.NoError(t, model.FieldsByName["ID"].Set(rv, int(5)))
	assert.Equal(t, int64(5), value.ID)

	require.NoError(t, model.FieldsByName["GroupID"].Set(rv, nil))
	assert.Nil(t, value.GroupID)

	err = model.FieldsByName["Name"].Set(rv, struct{}{})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestApplyDefaultsPropagatesSetErrors(t *testing.T) {
	r := NewRegistry(Config{})
	model, err := r.Register(&settable{}, Table())
	require.NoError(t, err)

	// a default that cannot be assigned to its field must surface, not skip
	model.FieldsByName["Name"].HasDefault = true
	model.FieldsByName["Name"].DefaultInterface = struct{}{}

	err = applyDefaults(model, reflect.ValueOf(&settable{}))
	assert.ErrorIs(t, err, ErrInvalidField)
}

type ticket struct {
	Model
	State    string `inherit:"choices:open,closed;default:'open'"`
	Priority int    `inherit:"choices:1,2,3"`
}

func TestChoiceDeclarations(t *testing.T) {
	r := NewRegistry(Config{})
	model, err := r.Register(&ticket{}, Table())
	require.NoError(t, err)

	assert.Equal(t, []string{"open", "closed"}, model.FieldsByName["State"].Choices)
	assert.Equal(t, []string{"1", "2", "3"}, model.FieldsByName["Priority"].Choices)

	state := model.FieldsByName["State"]
	assert.True(t, state.choiceAllowed("open"))
	assert.False(t, state.choiceAllowed("pending"))

	priority := model.FieldsByName["Priority"]
	assert.True(t, priority.choiceAllowed(2))
	assert.False(t, priority.choiceAllowed(9))
}

type badChoiceKind struct {
	Model
	Flag bool `inherit:"choices:true,false"`
}

type badChoiceDefault struct {
	Model
	State string `inherit:"choices:open,closed;default:'pending'"`
}

func TestChoiceDeclarationErrors(t *testing.T) {
	r := NewRegistry(Config{})

	_, err := r.Register(&badChoiceKind{}, Table())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = r.Register(&badChoiceDefault{}, Table())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestChoiceValidationOnWrite(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&ticket{}, Table())
	sess := openSession(t, r)

	valid := &ticket{State: "open", Priority: 2}
	require.NoError(t, sess.Create(valid))

	err := sess.Create(&ticket{State: "pending"})
	assert.ErrorIs(t, err, ErrInvalidField)

	valid.State = "bogus"
	err = sess.Save(valid)
	assert.ErrorIs(t, err, ErrInvalidField)

	// zero values fall back to the declared default before validation
	fresh := &ticket{}
	require.NoError(t, sess.Create(fresh))
	assert.Equal(t, "open", fresh.State)
}

func TestFieldValueOf(t *testing.T) {
	r := NewRegistry(Config{})
	model, err := r.Register(&settable{}, Table())
	require.NoError(t, err)

	value := &settable{Model: Model{ID: 3}}
	rv := reflect.ValueOf(value)

	id, zero := model.FieldsByName["ID"].ValueOf(rv)
	assert.Equal(t, int64(3), id)
	assert.False(t, zero)

	_, zero = model.FieldsByName["Name"].ValueOf(rv)
	assert.True(t, zero)
}
