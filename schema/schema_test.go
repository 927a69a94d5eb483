package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchemaYAML = `
id: com.example.user.v1
version: "1.0"
name: User
description: a minimal user record
status: active
schema: |
  type User struct {
    name String
    age Int
  }
`

func writeSchemaFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestRegistryLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "user.yaml", userSchemaYAML)

	r := NewRegistry(dir)
	require.NoError(t, r.LoadSchemas(context.Background()))

	assert.Equal(t, []string{"com.example.user.v1"}, r.List())
	assert.True(t, r.IsActive("com.example.user.v1"))

	def, err := r.Get("com.example.user.v1")
	require.NoError(t, err)
	assert.Equal(t, "User", def.Name)

	err = r.Validate("com.example.user.v1", map[string]any{
		"name": "ana",
		"age":  int64(30),
	})
	assert.NoError(t, err)

	err = r.Validate("com.example.user.v1", map[string]any{
		"name": "ana",
	})
	assert.Error(t, err)

	err = r.Validate("com.example.user.v1", map[string]any{
		"name": "ana",
		"age":  "not an int",
	})
	assert.Error(t, err)
}

func TestRegistryUnknownSchema(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.LoadSchemas(context.Background()))

	_, err := r.Get("missing")
	assert.Error(t, err)

	err = r.Validate("missing", map[string]any{})
	assert.Error(t, err)
}

func TestRegistryRejectsBadDefinition(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "bad.yaml", `
id: bad
version: "1.0"
name: Bad
status: active
schema: ""
`)

	r := NewRegistry(dir)
	assert.Error(t, r.LoadSchemas(context.Background()))
}

func TestRegistryReload(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	require.NoError(t, r.LoadSchemas(context.Background()))
	assert.Empty(t, r.List())

	writeSchemaFile(t, dir, "user.yaml", userSchemaYAML)
	require.NoError(t, r.Reload(context.Background()))
	assert.Len(t, r.List(), 1)
}
