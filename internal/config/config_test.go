// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoug/pg-upsert/internal/config"
	"github.com/geocoug/pg-upsert/internal/upsert"
)

func validConfig() *config.Config {
	return &config.Config{
		Host:          "localhost",
		Port:          config.DefaultPort,
		Database:      "books",
		StagingSchema: config.DefaultStagingSchema,
		BaseSchema:    config.DefaultBaseSchema,
		Tables:        []string{"genres", "books"},
		Method:        upsert.MethodUpsert,
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingDatabase(t *testing.T) {
	c := validConfig()
	c.Database = ""
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNoTables(t *testing.T) {
	c := validConfig()
	c.Tables = nil
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadIdentifier(t *testing.T) {
	c := validConfig()
	c.Tables = []string{"books; DROP TABLE books;--"}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownMethod(t *testing.T) {
	c := validConfig()
	c.Method = upsert.Method("merge")
	assert.Error(t, c.Validate())
}

func TestValidateRejectsQuietAndInteractiveTogether(t *testing.T) {
	c := validConfig()
	c.Quiet = true
	c.Interactive = true
	assert.Error(t, c.Validate())
}

func TestLoadAcceptsKnownConfigFileKeys(t *testing.T) {
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "pg-upsert.yaml")
	content := "database: books\ntables: [\"books\", \"genres\"]\nupsert_method: insert\nstaging_schema: staging\nbase_schema: public\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	viper.Set("CONFIG_FILE", path)

	c, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "books", c.Database)
	assert.Equal(t, []string{"books", "genres"}, c.Tables)
	assert.Equal(t, upsert.MethodInsert, c.Method)
}

func TestLoadRejectsUnknownConfigFileKey(t *testing.T) {
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "pg-upsert.yaml")
	content := "database: books\ntables: [\"books\"]\nbogus_key: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	viper.Set("CONFIG_FILE", path)

	_, err := config.Load()
	assert.Error(t, err)
}
