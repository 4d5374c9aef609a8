package inherit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTagSetting(t *testing.T) {
	settings := ParseTagSetting("primaryKey;column:uid;not null;size:64", ";")

	assert.Equal(t, "PRIMARYKEY", settings["PRIMARYKEY"])
	assert.Equal(t, "uid", settings["COLUMN"])
	assert.Equal(t, "NOT NULL", settings["NOT NULL"])
	assert.Equal(t, "64", settings["SIZE"])
}

func TestParseTagSettingEscapedSeparator(t *testing.T) {
	settings := ParseTagSetting(`default:a\;b`, ";")
	assert.Equal(t, "a;b", settings["DEFAULT"])
}

func TestParseTagSettingColonValues(t *testing.T) {
	settings := ParseTagSetting("fk:groups.id;comment:a:b", ";")
	assert.Equal(t, "groups.id", settings["FK"])
	assert.Equal(t, "a:b", settings["COMMENT"])
}

func TestCheckTruth(t *testing.T) {
	assert.True(t, checkTruth("true"))
	assert.True(t, checkTruth("PRIMARYKEY"))
	assert.False(t, checkTruth("false"))
	assert.False(t, checkTruth("FALSE"))
	assert.False(t, checkTruth(""))
}
