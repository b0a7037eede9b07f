package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"MYSQL", TypeMySQL},
		{"mysql", TypeMySQL},
		{" MySql ", TypeMySQL},
		{"mariadb", TypeMySQL},
		{"POSTGRESQL", TypePostgreSQL},
		{"postgres", TypePostgreSQL},
		{"pg", TypePostgreSQL},
		{"oracle", "ORACLE"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeType(tt.input))
		})
	}
}

func TestRegistry(t *testing.T) {
	logger := logging.NewNopLogger()
	mysql := NewMySQL(WithToolRunner(&fakeRunner{}), WithLogger(logger))
	postgres := NewPostgres(WithToolRunner(&fakeRunner{}), WithLogger(logger))
	registry := NewRegistry(mysql, postgres)

	assert.Equal(t, []string{TypeMySQL, TypePostgreSQL}, registry.Types())

	got, err := registry.Get("mysql")
	require.NoError(t, err)
	assert.Same(t, mysql, got)

	got, err = registry.Get("Postgres")
	require.NoError(t, err)
	assert.Same(t, postgres, got)

	_, err = registry.Get("ORACLE")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedEngine)
	assert.Contains(t, err.Error(), "ORACLE")
}

func TestRegistryRegisterReplaces(t *testing.T) {
	logger := logging.NewNopLogger()
	registry := NewRegistry(NewMySQL(WithToolRunner(&fakeRunner{}), WithLogger(logger)))

	replacement := NewMySQL(WithToolRunner(&fakeRunner{}), WithLogger(logger), WithBinaries("mariadb-dump", "mariadb"))
	registry.Register(replacement)

	got, err := registry.Get(TypeMySQL)
	require.NoError(t, err)
	assert.Same(t, replacement, got)
	assert.Len(t, registry.Types(), 1)
}
