package inherit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Passport struct {
	Model
	Serial   string `gorm:"not null;unique"`
	HolderID int64  `inherit:"fk:citizens.id"`
}

type Citizen struct {
	Model
	Name     string
	Passport *Passport `gorm:"-" inherit:"hasOne;foreignKey:HolderID"`
}

func TestHasOneRoundTrip(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&Passport{}, Table())
	r.MustRegister(&Citizen{}, Table())
	sess := openSession(t, r)

	citizen := &Citizen{
		Name:     "frank",
		Passport: &Passport{Serial: "P-123"},
	}
	require.NoError(t, sess.Create(citizen))
	require.NotZero(t, citizen.ID)
	require.NotZero(t, citizen.Passport.ID)
	assert.Equal(t, citizen.ID, citizen.Passport.HolderID)

	var reloaded Citizen
	require.NoError(t, sess.First(&reloaded, citizen.ID))
	require.NotNil(t, reloaded.Passport)
	assert.Equal(t, "P-123", reloaded.Passport.Serial)
}

type Tag struct {
	Model
	Name string `gorm:"not null"`
}

type ArticleTag struct {
	Model
	ArticleID int64 `inherit:"fk:articles.id"`
	TagID     int64 `inherit:"fk:tags.id"`
}

type Article struct {
	Model
	Title string
	Tags  []Tag `gorm:"-" inherit:"many2many:ArticleTag"`
}

func TestManyToManyRoundTrip(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&Tag{}, Table())
	r.MustRegister(&ArticleTag{}, Table())
	r.MustRegister(&Article{}, Table())
	sess := openSession(t, r)

	article := &Article{
		Title: "inheritance",
		Tags:  []Tag{{Name: "go"}, {Name: "orm"}},
	}
	require.NoError(t, sess.Create(article))
	require.NotZero(t, article.ID)
	for _, tag := range article.Tags {
		assert.NotZero(t, tag.ID)
	}

	var links []ArticleTag
	require.NoError(t, sess.Find(&links))
	assert.Len(t, links, 2)

	var reloaded Article
	require.NoError(t, sess.First(&reloaded, article.ID))
	require.Len(t, reloaded.Tags, 2)
	names := []string{reloaded.Tags[0].Name, reloaded.Tags[1].Name}
	assert.ElementsMatch(t, []string{"go", "orm"}, names)
}

type Country struct {
	Model
	Name string
}

type Capital struct {
	Model
	Name      string
	CountryID int64    `inherit:"fk:countries.id"`
	Country   *Country `gorm:"-" inherit:"rel"`
}

func TestBareRelGuessesBelongsTo(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&Country{}, Table())
	r.MustRegister(&Capital{}, Table())
	require.NoError(t, r.Finalize())

	capital, err := r.SchemaOf(&Capital{})
	require.NoError(t, err)

	rel := capital.RelationshipsByName["Country"]
	require.NotNil(t, rel)
	assert.Equal(t, BelongsTo, rel.Type)
	assert.Equal(t, "CountryID", rel.ForeignKey)
	assert.Equal(t, "ID", rel.References)
}

type Chapter struct {
	Model
	Title  string
	BookID int64 `inherit:"fk:books.id"`
}

type Book struct {
	Model
	Title    string
	Chapters []Chapter `gorm:"-" inherit:"rel"`
}

func TestBareRelGuessesHasMany(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&Chapter{}, Table())
	r.MustRegister(&Book{}, Table())
	require.NoError(t, r.Finalize())

	book, err := r.SchemaOf(&Book{})
	require.NoError(t, err)

	rel := book.RelationshipsByName["Chapters"]
	require.NotNil(t, rel)
	assert.Equal(t, HasMany, rel.Type)
	assert.Equal(t, "BookID", rel.ForeignKey)
}

type lazyItem struct {
	Model
	CrateID int64 `inherit:"fk:lazy_crates.id"`
}

type lazyCrate struct {
	Model
	Items []lazyItem `gorm:"-" inherit:"hasMany;load:none"`
}

func TestLazyRelationshipNotPreloaded(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&lazyItem{}, Table())
	r.MustRegister(&lazyCrate{}, Table())
	sess := openSession(t, r)

	crate := &lazyCrate{Items: []lazyItem{{}, {}}}
	require.NoError(t, sess.Create(crate))

	var reloaded lazyCrate
	require.NoError(t, sess.First(&reloaded, crate.ID))
	assert.Nil(t, reloaded.Items)
}

type Planet struct {
	Model
	Name string
}

type Moon struct {
	Model
	Name     string
	PlanetID int64   `inherit:"fk:planets.id"`
	Planet   *Planet `gorm:"-" inherit:"belongsTo;foreignKey:planet_id;references:id"`
}

func TestColumnNamedKeyDeclarations(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&Planet{}, Table())
	r.MustRegister(&Moon{}, Table())
	require.NoError(t, r.Finalize())

	moon, err := r.SchemaOf(&Moon{})
	require.NoError(t, err)

	// declarations may use column names, resolution stores Go field names
	rel := moon.RelationshipsByName["Planet"]
	require.NotNil(t, rel)
	assert.Equal(t, "PlanetID", rel.ForeignKey)
	assert.Equal(t, "ID", rel.References)

	sess := openSession(t, r)
	row := &Moon{Name: "io", Planet: &Planet{Name: "jupiter"}}
	require.NoError(t, sess.Create(row))
	require.NotZero(t, row.Planet.ID)
	assert.Equal(t, row.Planet.ID, row.PlanetID)

	var reloaded Moon
	require.NoError(t, sess.First(&reloaded, row.ID))
	require.NotNil(t, reloaded.Planet)
	assert.Equal(t, "jupiter", reloaded.Planet.Name)
}

type Sensor struct {
	Model
	Serial    string
	StationID int64 `inherit:"fk:stations.id"`
}

type Station struct {
	Model
	Name    string
	Sensors []Sensor `gorm:"-" inherit:"hasMany;references:id"`
}

func TestColumnNamedReferencesOnHasMany(t *testing.T) {
	r := NewRegistry(Config{})
	r.MustRegister(&Sensor{}, Table())
	r.MustRegister(&Station{}, Table())
	require.NoError(t, r.Finalize())

	station, err := r.SchemaOf(&Station{})
	require.NoError(t, err)
	assert.Equal(t, "ID", station.RelationshipsByName["Sensors"].References)

	sess := openSession(t, r)
	row := &Station{Name: "north", Sensors: []Sensor{{Serial: "s-1"}}}
	require.NoError(t, sess.Create(row))
	assert.Equal(t, row.ID, row.Sensors[0].StationID)

	var reloaded Station
	require.NoError(t, sess.First(&reloaded, row.ID))
	require.Len(t, reloaded.Sensors, 1)
	assert.Equal(t, "s-1", reloaded.Sensors[0].Serial)
}

type wrongShape struct {
	Model
	Things []Tag `gorm:"-" inherit:"belongsTo"`
}

func TestRelationshipShapeValidation(t *testing.T) {
	r := NewRegistry(Config{})
	_, err := r.Register(&wrongShape{}, Table())
	assert.ErrorIs(t, err, ErrConfiguration)
}
