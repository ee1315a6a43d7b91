package main

import (
	"encoding/json"
	"fmt"
	"time"

	"nomination-workers/internal/common/config"
	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/validation"
	adv "nomination-workers/internal/workers/allocation/advance-allocation"
	ntf "nomination-workers/internal/workers/allocation/notify-nominations"
	pub "nomination-workers/internal/workers/allocation/publish-nominations"
	run "nomination-workers/internal/workers/allocation/run-allocation"
	"nomination-workers/pkg/registry"
)

const catalogVersion = "1.0.0"

func activity(id, name, description, taskType string, schema validation.JSONSchema, timeout time.Duration, codes ...apperrors.ErrorCode) (registry.Activity, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return registry.Activity{}, fmt.Errorf("encode schema of %s: %w", id, err)
	}
	errorCodes := []string{string(apperrors.ErrCodeInputValidationFailed)}
	for _, c := range codes {
		errorCodes = append(errorCodes, string(c))
	}
	return registry.Activity{
		ID:          id,
		DisplayName: name,
		Description: description,
		Category:    "allocation",
		TaskType:    taskType,
		InputSchema: raw,
		ErrorCodes:  errorCodes,
		Timeout:     timeout.String(),
		Retries:     config.GetWorkerConfig(&config.Config{}, id).MaxRetries,
	}, nil
}

// workerActivities describes every job worker the worker manager registers.
func workerActivities() ([]registry.Activity, error) {
	var out []registry.Activity
	add := func(a registry.Activity, err error) error {
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	}

	runCfg := run.DefaultConfig()
	if err := add(activity(run.ConfigKey, "Run Allocation",
		"Runs the whole nomination pipeline on two stored datasets and saves the outputs",
		run.TaskType, run.GetInputSchema(), runCfg.Timeout,
		apperrors.ErrCodeDatasetNotFound, apperrors.ErrCodeSchemaColumnMissing,
		apperrors.ErrCodeDatabaseInsertFailed, apperrors.ErrCodeTimeout)); err != nil {
		return nil, err
	}

	advCfg := adv.DefaultConfig()
	if err := add(activity(adv.ConfigKey, "Advance Allocation",
		"Executes one pipeline step and keeps the working set in the session store",
		adv.TaskType, adv.GetInputSchema(), advCfg.Timeout,
		apperrors.ErrCodeSessionNotFound, apperrors.ErrCodeSessionStoreFailed,
		apperrors.ErrCodeWorkflowFinished, apperrors.ErrCodeSchemaColumnMissing)); err != nil {
		return nil, err
	}

	pubCfg := pub.DefaultConfig()
	if err := add(activity(pub.ConfigKey, "Publish Nominations",
		"Indexes the accepted applications of a run",
		pub.TaskType, pub.GetInputSchema(), pubCfg.Timeout,
		apperrors.ErrCodeRunNotFound, apperrors.ErrCodeElasticsearchConnectionFailed,
		apperrors.ErrCodeIndexPublishFailed)); err != nil {
		return nil, err
	}

	ntfCfg := ntf.DefaultConfig()
	if err := add(activity(ntf.ConfigKey, "Notify Nominations",
		"Tells every student of a run whether they were nominated",
		ntf.TaskType, ntf.GetInputSchema(), ntfCfg.Timeout,
		apperrors.ErrCodeRunNotFound, apperrors.ErrCodeNotificationSendFailed)); err != nil {
		return nil, err
	}

	return out, nil
}

func writeCatalog(path string) error {
	activities, err := workerActivities()
	if err != nil {
		return err
	}
	reg := &registry.ActivityRegistry{
		Version:     catalogVersion,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Activities:  activities,
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	if err := registry.SaveRegistry(path, reg); err != nil {
		return err
	}
	fmt.Printf("Wrote %d activities to %s\n", len(activities), path)
	return nil
}

// checkCatalog reports workers missing from the registry at path.
func checkCatalog(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return err
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	activities, err := workerActivities()
	if err != nil {
		return err
	}
	if missing := reg.Missing(activities); len(missing) > 0 {
		return fmt.Errorf("registry %s is missing %v", path, missing)
	}
	fmt.Printf("Registry %s lists all %d workers\n", path, len(activities))
	return nil
}
