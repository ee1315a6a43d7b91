package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"nomination-workers/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerActivities(t *testing.T) {
	activities, err := workerActivities()
	require.NoError(t, err)

	var taskTypes []string
	for _, a := range activities {
		taskTypes = append(taskTypes, a.TaskType)
		assert.Contains(t, a.ErrorCodes, "INPUT_VALIDATION_FAILED")
		assert.Equal(t, 3, a.Retries)

		var schema map[string]interface{}
		require.NoError(t, json.Unmarshal(a.InputSchema, &schema), a.ID)
		assert.Equal(t, "object", schema["type"])
	}
	assert.Equal(t, []string{"allocation.run", "allocation.advance", "nominations.publish", "nominations.notify"}, taskTypes)
}

func TestCatalogWriteAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity-registry.json")

	require.NoError(t, writeCatalog(path))
	assert.NoError(t, checkCatalog(path))

	reg, err := registry.LoadRegistry(path)
	require.NoError(t, err)
	reg.Activities = reg.Activities[:1]
	require.NoError(t, registry.SaveRegistry(path, reg))

	assert.Error(t, checkCatalog(path))
}
