package store

// schemaStatements create the dataset and run tables when they are missing.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS datasets (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		columns    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS dataset_rows (
		dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		row_index  INTEGER NOT NULL,
		data       JSONB NOT NULL,
		PRIMARY KEY (dataset_id, row_index)
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_runs (
		id                  TEXT PRIMARY KEY,
		capacity_dataset    TEXT NOT NULL,
		application_dataset TEXT NOT NULL,
		iterations          INTEGER NOT NULL,
		finished            BOOLEAN NOT NULL,
		log                 JSONB NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS allocation_outputs (
		run_id  TEXT NOT NULL REFERENCES allocation_runs(id) ON DELETE CASCADE,
		output  TEXT NOT NULL,
		columns JSONB NOT NULL,
		rows    JSONB NOT NULL,
		PRIMARY KEY (run_id, output)
	)`,
}
