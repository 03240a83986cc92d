package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectAcceptsPostgresAndSqlite(t *testing.T) {
	for _, typ := range []string{"postgres", "PostgreSQL", "sqlite"} {
		d, err := Dialect(Config{Type: typ, Host: "localhost", Port: "5432", Name: "staybook"})
		require.NoError(t, err, typ)
		assert.NotNil(t, d)
	}
}

func TestDialectRefusesUnsupportedTypes(t *testing.T) {
	for _, typ := range []string{"mysql", "mariadb", ""} {
		d, err := Dialect(Config{Type: typ})
		assert.ErrorIs(t, err, ErrUnsupportedDialect, typ)
		assert.Nil(t, d)
	}
}
