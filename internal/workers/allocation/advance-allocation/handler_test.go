package advanceallocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"nomination-workers/internal/allocation"
	"nomination-workers/internal/common/config"
	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"
	"nomination-workers/internal/session"
	"nomination-workers/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type fakeStore struct {
	datasets map[string]models.RecordSet
	loads    int

	savedRun     *store.RunRecord
	savedOutputs map[string]models.RecordSet
}

func (f *fakeStore) LoadRecordSet(_ context.Context, id string) (models.RecordSet, error) {
	f.loads++
	set, ok := f.datasets[id]
	if !ok {
		return models.RecordSet{}, apperrors.NewDatasetNotFoundError(id)
	}
	return set, nil
}

func (f *fakeStore) SaveRun(_ context.Context, run store.RunRecord, outputs map[string]models.RecordSet) error {
	f.savedRun = &run
	f.savedOutputs = outputs
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 1,
		Timeout:       30 * time.Second,
		SessionTTL:    time.Hour,
	}
}

func createTestStore() *fakeStore {
	return &fakeStore{datasets: map[string]models.RecordSet{
		"caps": models.NewRecordSet([]string{"ID code", "BC", "MGR", "PHD", "ALL"},
			models.Row{"ID code": "X1", "BC": 0, "MGR": 0, "PHD": 0, "ALL": 5}),
		"apps": models.NewRecordSet([]string{"Číslo UK", "ID code", "Studying for degree", "NOMINOVÁN", "PRIORITA", "Pořadí"},
			models.Row{"Číslo UK": "S1", "ID code": "X1", "Studying for degree": "Bachelor", "NOMINOVÁN": "ANO", "PRIORITA": 1, "Pořadí": 1},
			models.Row{"Číslo UK": "S2", "ID code": "X1", "Studying for degree": "Bachelor", "NOMINOVÁN": "", "PRIORITA": 1, "Pořadí": 2}),
	}}
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func newTestHandler(t *testing.T, datasets DatasetStore, sessions SessionStore) *Handler {
	h, err := NewHandler(createTestConfig(), Dependencies{
		Datasets: datasets,
		Sessions: sessions,
		Logger:   logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

func startInput(runID string) *Input {
	return &Input{RunID: runID, CapacityDatasetID: "caps", ApplicationDatasetID: "apps"}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_StepsUntilFinished(t *testing.T) {
	client, mr := setupRedis(t)
	datasets := createTestStore()
	h := newTestHandler(t, datasets, session.NewStore(client, nil))
	ctx := context.Background()

	var outputs []*Output
	for i := 0; i < 6; i++ {
		out, err := h.Execute(ctx, startInput("run-s"))
		require.NoError(t, err, "step %d", i+1)
		outputs = append(outputs, out)
		if i < 5 {
			assert.False(t, out.Finished)
			assert.Nil(t, datasets.savedRun, "outputs are saved only when the run finishes")
		}
	}

	for i, out := range outputs {
		assert.Equal(t, i+1, out.Step)
	}
	assert.Equal(t, string(allocation.PhaseStep1Done), outputs[0].Phase)
	assert.Equal(t, int(allocation.StepFilterDuplicates), outputs[0].NextStep)

	last := outputs[5]
	assert.True(t, last.Finished)
	assert.Equal(t, string(allocation.PhaseFinished), last.Phase)
	assert.Equal(t, 1, last.Iteration)
	assert.Equal(t, 2, datasets.loads, "datasets are read once when the session starts")

	require.NotNil(t, datasets.savedRun)
	assert.Equal(t, "run-s", datasets.savedRun.ID)
	assert.Len(t, datasets.savedRun.Log, 6)
	assert.Len(t, datasets.savedOutputs[store.OutputResult].Rows, 1)

	assert.True(t, mr.Exists(session.Key("run-s")))
	assert.Equal(t, time.Hour, mr.TTL(session.Key("run-s")))

	_, err := h.Execute(ctx, startInput("run-s"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeWorkflowFinished))
}

func TestHandler_Execute_NoSessionWithoutDatasets(t *testing.T) {
	client, _ := setupRedis(t)
	h := newTestHandler(t, createTestStore(), session.NewStore(client, nil))

	_, err := h.Execute(context.Background(), &Input{RunID: "run-x"})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

func TestHandler_Execute_Restart(t *testing.T) {
	client, _ := setupRedis(t)
	sessions := session.NewStore(client, nil)
	h := newTestHandler(t, createTestStore(), sessions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.Execute(ctx, startInput("run-r"))
		require.NoError(t, err)
	}

	in := startInput("run-r")
	in.Restart = true
	out, err := h.Execute(ctx, in)

	require.NoError(t, err)
	assert.Equal(t, int(allocation.StepComputeOccupancy), out.Step)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_FailedStepKeepsSession(t *testing.T) {
	client, _ := setupRedis(t)
	sessions := session.NewStore(client, nil)
	h := newTestHandler(t, createTestStore(), sessions)
	ctx := context.Background()

	in := startInput("run-f")
	in.ApplicationSchema = map[string]string{"rank": "Order"}
	for i := 0; i < 2; i++ {
		_, err := h.Execute(ctx, in)
		require.NoError(t, err)
	}

	_, err := h.Execute(ctx, in)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSchemaColumnMissing))

	snap, err := sessions.Load(ctx, "run-f")
	require.NoError(t, err)
	assert.Equal(t, allocation.StepNormalizeOrdering, snap.State.NextStep)
	assert.Len(t, snap.Log, 2)
}

func TestHandler_Execute_SessionStoreUnavailable(t *testing.T) {
	client, mock := redismock.NewClientMock()
	h := newTestHandler(t, createTestStore(), session.NewStore(client, nil))

	mock.ExpectGet(session.Key("run-e")).SetErr(errors.New("connection refused"))

	_, err := h.Execute(context.Background(), startInput("run-e"))

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionStoreFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Configuration Tests
// ==========================

func TestNewConfig_SessionTTL(t *testing.T) {
	cfg := NewConfig(&config.Config{
		Workers:    map[string]config.WorkerConfig{ConfigKey: {Enabled: false, Timeout: 5000}},
		Allocation: config.AllocationConfig{SessionTTL: 600},
	})

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
}

func TestConfig_Validate(t *testing.T) {
	cfg := createTestConfig()
	cfg.SessionTTL = -time.Second
	assert.Error(t, cfg.Validate())
}
