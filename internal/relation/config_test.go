package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseInterface(t *testing.T) {
	raw := []byte("endpoints: 10.1.2.3:3306\nusername: relation-7\npassword: s3cret\ndatabase: continuous_writes_database\n")

	cfg, err := Parse(raw, "")
	require.NoError(t, err)
	assert.Equal(t, Config{
		Host:     "10.1.2.3",
		Port:     "3306",
		Username: "relation-7",
		Password: "s3cret",
		Database: "continuous_writes_database",
	}, cfg)
	assert.Equal(t, "10.1.2.3:3306", cfg.Addr())
}

func TestParseLegacyInterface(t *testing.T) {
	raw := []byte("host: mysql.example\nport: \"3306\"\nuser: legacy\npassword: hunter2\n")

	cfg, err := Parse(raw, "testdb")
	require.NoError(t, err)
	assert.Equal(t, Config{
		Host:     "mysql.example",
		Port:     "3306",
		Username: "legacy",
		Password: "hunter2",
		Database: "testdb",
	}, cfg)
}

func TestParseLegacyInterfaceRequiresDatabaseName(t *testing.T) {
	raw := []byte("host: mysql.example\nport: \"3306\"\nuser: legacy\npassword: hunter2\n")

	_, err := Parse(raw, "")
	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"database"}, invalid.Missing)
}

func TestParseMissingKeys(t *testing.T) {
	raw := []byte("endpoints: 10.1.2.3:3306\ndatabase: d\n")

	_, err := Parse(raw, "")
	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.ElementsMatch(t, []string{"username", "password"}, invalid.Missing)
}

func TestParseMalformedEndpoints(t *testing.T) {
	raw := []byte("endpoints: just-a-host\nusername: u\npassword: p\ndatabase: d\n")

	_, err := Parse(raw, "")
	require.ErrorContains(t, err, "malformed endpoints")
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte("\t{nope"), "")
	require.ErrorContains(t, err, "failed to parse relation data")
}

func TestValidateEmptyConfig(t *testing.T) {
	var invalid *InvalidConfigError
	require.ErrorAs(t, Config{}.Validate(), &invalid)
	assert.Len(t, invalid.Missing, 5)
}
