// cmd/tools/allocation-runner/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"nomination-workers/internal/allocation"
	"nomination-workers/internal/common/config"
	"nomination-workers/internal/common/database"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"
	"nomination-workers/internal/store"
)

func main() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	stepCmd := flag.NewFlagSet("step", flag.ExitOnError)
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	catalogCmd := flag.NewFlagSet("catalog", flag.ExitOnError)

	// run
	runCaps := runCmd.String("capacities", "", "Capacity table (.json or .csv)")
	runApps := runCmd.String("applications", "", "Application table (.json or .csv)")
	runOut := runCmd.String("out", "out", "Output directory")
	runConfig := runCmd.String("config", "", "YAML file with an allocation section")
	runLevel := runCmd.String("log-level", "info", "Log level")

	// step
	stepSession := stepCmd.String("session", "session.json", "Session file, created when missing")
	stepCaps := stepCmd.String("capacities", "", "Capacity table, needed to start a session")
	stepApps := stepCmd.String("applications", "", "Application table, needed to start a session")
	stepOut := stepCmd.String("out", "out", "Output directory once the run finishes")
	stepConfig := stepCmd.String("config", "", "YAML file with an allocation section")
	stepLevel := stepCmd.String("log-level", "info", "Log level")

	// import
	importFile := importCmd.String("file", "", "Table to import (.json or .csv)")
	importID := importCmd.String("id", "", "Dataset id")
	importKind := importCmd.String("kind", store.KindApplications, "capacities or applications")

	// catalog
	catalogPath := catalogCmd.String("path", "configs/activity-registry.json", "Path to registry file")
	catalogCheck := catalogCmd.Bool("check", false, "Only verify that the registry lists every worker")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		runCmd.Parse(os.Args[2:])
		if *runCaps == "" || *runApps == "" {
			fmt.Println("Error: capacities and applications are required for run.")
			runCmd.Usage()
			os.Exit(1)
		}
		err = runAll(*runCaps, *runApps, *runOut, *runConfig, *runLevel)

	case "step":
		stepCmd.Parse(os.Args[2:])
		err = stepOnce(*stepSession, *stepCaps, *stepApps, *stepOut, *stepConfig, *stepLevel)

	case "import":
		importCmd.Parse(os.Args[2:])
		if *importFile == "" || *importID == "" {
			fmt.Println("Error: file and id are required for import.")
			importCmd.Usage()
			os.Exit(1)
		}
		err = importDataset(*importFile, *importID, *importKind)

	case "catalog":
		catalogCmd.Parse(os.Args[2:])
		if *catalogCheck {
			err = checkCatalog(*catalogPath)
		} else {
			err = writeCatalog(*catalogPath)
		}

	default:
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func newWorkflow(runID, capsPath, appsPath, configPath string, log logger.Logger) (*allocation.Workflow, config.AllocationConfig, error) {
	ac, err := loadAllocationConfig(configPath)
	if err != nil {
		return nil, ac, err
	}
	caps, err := readRecordSet(capsPath)
	if err != nil {
		return nil, ac, err
	}
	apps, err := readRecordSet(appsPath)
	if err != nil {
		return nil, ac, err
	}
	return allocation.NewWorkflow(allocation.Inputs{
		RunID:             runID,
		Capacities:        caps,
		Applications:      apps,
		CapacitySchema:    models.DefaultCapacitySchema().Merge(ac.CapacitySchema),
		ApplicationSchema: models.DefaultApplicationSchema().Merge(ac.ApplicationSchema),
	}, log), ac, nil
}

func runAll(capsPath, appsPath, outDir, configPath, level string) error {
	log := logger.NewStructured(level, "console")
	w, ac, err := newWorkflow("offline", capsPath, appsPath, configPath, log)
	if err != nil {
		return err
	}
	if err := w.RunAll(context.Background()); err != nil {
		return err
	}
	if err := writeOutputs(w, outDir, ac.ResultProjection); err != nil {
		return err
	}
	fmt.Printf("Finished after %d iterations: %d working rows, %d nominated\n",
		w.Iterations(), w.Working().Len(), w.Result().Len())
	return nil
}

func stepOnce(sessionPath, capsPath, appsPath, outDir, configPath, level string) error {
	log := logger.NewStructured(level, "console")

	var (
		w   *allocation.Workflow
		ac  config.AllocationConfig
		err error
	)
	data, readErr := os.ReadFile(sessionPath)
	switch {
	case readErr == nil:
		snap, err := allocation.UnmarshalSnapshot(data)
		if err != nil {
			return err
		}
		if w, err = allocation.Restore(snap, log); err != nil {
			return err
		}
		if ac, err = loadAllocationConfig(configPath); err != nil {
			return err
		}
	case errors.Is(readErr, os.ErrNotExist):
		if capsPath == "" || appsPath == "" {
			return fmt.Errorf("no session at %s: capacities and applications are required to start one", sessionPath)
		}
		if w, ac, err = newWorkflow("offline", capsPath, appsPath, configPath, log); err != nil {
			return err
		}
	default:
		return readErr
	}

	entry, err := w.Step()
	if err != nil {
		return err
	}
	fmt.Println(entry.Message)

	data, err = allocation.MarshalSnapshot(w.Snapshot())
	if err != nil {
		return err
	}
	if err := os.WriteFile(sessionPath, data, 0o644); err != nil {
		return err
	}

	if w.Finished() {
		fmt.Printf("Finished after %d iterations\n", w.Iterations())
		return writeOutputs(w, outDir, ac.ResultProjection)
	}
	return nil
}

func writeOutputs(w *allocation.Workflow, outDir string, projection []string) error {
	for name, set := range store.Outputs(w, projection) {
		if err := writeJSON(outDir, name+".json", set); err != nil {
			return err
		}
	}
	return writeJSON(outDir, "log.json", w.Log())
}

func importDataset(path, id, kind string) error {
	if kind != store.KindCapacities && kind != store.KindApplications {
		return fmt.Errorf("unknown kind %q", kind)
	}
	set, err := readRecordSet(path)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewStructured(cfg.Logging.Level, "console")

	ctx := context.Background()
	pg, err := database.NewPostgres(ctx, cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	datasets := store.NewDatasetStore(pg.DB, log)
	if err := datasets.Migrate(ctx); err != nil {
		return err
	}
	if err := datasets.SaveRecordSet(ctx, id, kind, set); err != nil {
		return err
	}
	fmt.Printf("Imported %d rows into dataset %s\n", set.Len(), id)
	return nil
}

func help() {
	fmt.Println("Usage: allocation-runner <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  run     Run the whole allocation on two tables and write the outputs")
	fmt.Println("  step    Execute one step, keeping the workflow in a session file")
	fmt.Println("  import  Store a table as a dataset for the workers")
	fmt.Println("  catalog Write or check the activity registry of the workers")
}
