// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nomination-workers/internal/common/config"
	"nomination-workers/internal/common/database"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"
	"nomination-workers/internal/session"
	"nomination-workers/internal/store"

	advanceallocation "nomination-workers/internal/workers/allocation/advance-allocation"
	publishnominations "nomination-workers/internal/workers/allocation/publish-nominations"
	runallocation "nomination-workers/internal/workers/allocation/run-allocation"
)

// services holds the live connections shared by the e2e tests.
type services struct {
	cfg      *config.Config
	pg       *database.PostgresClient
	redis    *database.RedisClient
	es       *database.ElasticsearchClient
	datasets *store.DatasetStore
	log      logger.Logger
}

// setupServices connects to PostgreSQL, Redis and Elasticsearch on localhost.
// The tests are skipped unless E2E_ENABLED is set.
func setupServices(t *testing.T) *services {
	t.Helper()
	if os.Getenv("E2E_ENABLED") == "" {
		t.Skip("E2E_ENABLED not set")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"
	cfg.Database.Elasticsearch.URL = "http://localhost:9200"

	ctx := context.Background()
	log := logger.NewTestLogger(t)

	pg, err := database.NewPostgres(ctx, cfg.Database.Postgres)
	require.NoError(t, err, "PostgreSQL connection failed")
	t.Cleanup(func() { pg.Close() })

	rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
	require.NoError(t, err, "Redis connection failed")
	t.Cleanup(func() { rdb.Close() })

	es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	require.NoError(t, err)
	require.NoError(t, es.Ping(ctx), "Elasticsearch ping failed")

	datasets := store.NewDatasetStore(pg.DB, log)
	require.NoError(t, datasets.Migrate(ctx))

	return &services{cfg: cfg, pg: pg, redis: rdb, es: es, datasets: datasets, log: log}
}

// seedDatasets stores a two-institute scenario where S2 and S3 hold each
// other's preferred seats.
func seedDatasets(t *testing.T, s *services, prefix string) (string, string) {
	t.Helper()
	ctx := context.Background()

	capsID, appsID := prefix+"-caps", prefix+"-apps"
	caps := models.NewRecordSet([]string{"ID code", "BC", "MGR", "PHD", "ALL"},
		models.Row{"ID code": "X1", "BC": 0, "MGR": 0, "PHD": 0, "ALL": 1},
		models.Row{"ID code": "X2", "BC": 0, "MGR": 0, "PHD": 0, "ALL": 1},
	)
	apps := models.NewRecordSet(
		[]string{"Číslo UK", "ID code", "Studying for degree", "NOMINOVÁN", "PRIORITA", "Pořadí", "E-mail"},
		models.Row{"Číslo UK": "S2", "ID code": "X1", "Studying for degree": "Master", "NOMINOVÁN": "ANO", "PRIORITA": 2, "Pořadí": 1, "E-mail": "s2@example.org"},
		models.Row{"Číslo UK": "S2", "ID code": "X2", "Studying for degree": "Master", "NOMINOVÁN": "", "PRIORITA": 1, "Pořadí": 2, "E-mail": "s2@example.org"},
		models.Row{"Číslo UK": "S3", "ID code": "X2", "Studying for degree": "Master", "NOMINOVÁN": "ANO", "PRIORITA": 2, "Pořadí": 1, "E-mail": "s3@example.org"},
		models.Row{"Číslo UK": "S3", "ID code": "X1", "Studying for degree": "Master", "NOMINOVÁN": "", "PRIORITA": 1, "Pořadí": 2, "E-mail": "s3@example.org"},
	)
	require.NoError(t, s.datasets.SaveRecordSet(ctx, capsID, store.KindCapacities, caps))
	require.NoError(t, s.datasets.SaveRecordSet(ctx, appsID, store.KindApplications, apps))
	return capsID, appsID
}

func TestRunAndPublish(t *testing.T) {
	s := setupServices(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	prefix := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	capsID, appsID := seedDatasets(t, s, prefix)

	runHandler, err := runallocation.NewHandler(runallocation.NewConfig(s.cfg), s.datasets, nil, s.log)
	require.NoError(t, err)

	out, err := runHandler.Execute(ctx, &runallocation.Input{
		RunID:                prefix,
		CapacityDatasetID:    capsID,
		ApplicationDatasetID: appsID,
	})
	require.NoError(t, err)
	assert.Equal(t, prefix, out.RunID)
	assert.Positive(t, out.ResultRows)

	result, err := s.datasets.LoadOutput(ctx, prefix, store.OutputResult)
	require.NoError(t, err)
	assert.Equal(t, out.ResultRows, result.Len())

	pubHandler, err := publishnominations.NewHandler(publishnominations.NewConfig(s.cfg), s.datasets, s.es.Client, nil, s.log)
	require.NoError(t, err)

	pubOut, err := pubHandler.Execute(ctx, &publishnominations.Input{RunID: prefix, Index: "nominations-e2e"})
	require.NoError(t, err)
	assert.Equal(t, out.ResultRows, pubOut.Indexed)
}

func TestStepModeMatchesFullRun(t *testing.T) {
	s := setupServices(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	prefix := fmt.Sprintf("e2e-step-%d", time.Now().UnixNano())
	capsID, appsID := seedDatasets(t, s, prefix)

	advHandler, err := advanceallocation.NewHandler(advanceallocation.NewConfig(s.cfg), advanceallocation.Dependencies{
		Datasets: s.datasets,
		Sessions: session.NewStore(s.redis.Client, s.log),
		Logger:   s.log,
	})
	require.NoError(t, err)

	input := &advanceallocation.Input{RunID: prefix, CapacityDatasetID: capsID, ApplicationDatasetID: appsID}
	var last *advanceallocation.Output
	for i := 0; i < 60; i++ {
		last, err = advHandler.Execute(ctx, input)
		require.NoError(t, err)
		if last.Finished {
			break
		}
	}
	require.NotNil(t, last)
	require.True(t, last.Finished, "step mode did not finish")

	stepped, err := s.datasets.LoadOutput(ctx, prefix, store.OutputResult)
	require.NoError(t, err)

	runHandler, err := runallocation.NewHandler(runallocation.NewConfig(s.cfg), s.datasets, nil, s.log)
	require.NoError(t, err)
	_, err = runHandler.Execute(ctx, &runallocation.Input{RunID: prefix + "-full", CapacityDatasetID: capsID, ApplicationDatasetID: appsID})
	require.NoError(t, err)

	full, err := s.datasets.LoadOutput(ctx, prefix+"-full", store.OutputResult)
	require.NoError(t, err)
	assert.Equal(t, full.Rows, stepped.Rows)
}
