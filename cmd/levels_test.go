package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealpost/sealpost-cli/config"
	"github.com/sealpost/sealpost-cli/pkg/pipeline"
)

func levelsTestCatalog() pipeline.Catalog {
	return pipeline.Catalog{
		{ID: "secret", Name: "Secret", Rank: 4, RequiresEncryption: true},
		{ID: "public", Name: "Public", Rank: 1},
		{ID: "confidential", Name: "Confidential", Rank: 3, RequiresEncryption: true},
	}
}

func TestRunLevelsText(t *testing.T) {
	out := &bytes.Buffer{}
	levelsDeps = LevelsCommandDeps{
		Config: config.DefaultConfig(),
		Out:    out,
		CatalogFn: func(ctx context.Context) (pipeline.Catalog, error) {
			return levelsTestCatalog(), nil
		},
	}
	t.Cleanup(func() { levelsDeps = LevelsCommandDeps{} })
	LevelsCmd.SetContext(context.Background())

	require.NoError(t, runLevels(LevelsCmd, nil))

	text := out.String()
	assert.Contains(t, text, "ID")
	assert.Contains(t, text, "confidential")
	assert.Contains(t, text, "required")

	// Sorted by rank: public first, secret last.
	assert.Less(t, bytes.Index(out.Bytes(), []byte("public")), bytes.Index(out.Bytes(), []byte("secret")))
}

func TestRunLevelsJSON(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := config.DefaultConfig()
	cfg.OutputFormat = config.OutputFormatJSON
	levelsDeps = LevelsCommandDeps{
		Config: cfg,
		Out:    out,
		CatalogFn: func(ctx context.Context) (pipeline.Catalog, error) {
			return levelsTestCatalog(), nil
		},
	}
	t.Cleanup(func() { levelsDeps = LevelsCommandDeps{} })
	LevelsCmd.SetContext(context.Background())

	require.NoError(t, runLevels(LevelsCmd, nil))

	var catalog pipeline.Catalog
	require.NoError(t, json.Unmarshal(out.Bytes(), &catalog))
	require.Len(t, catalog, 3)
	assert.Equal(t, "public", catalog[0].ID, "catalog is sorted by rank")
}
