package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"nomination-workers/internal/common/config"
	"nomination-workers/internal/models"

	"github.com/spf13/viper"
)

// readRecordSet loads a table from a JSON record set or a CSV export with a
// header row. CSV cells are kept as text.
func readRecordSet(path string) (models.RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.RecordSet{}, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return decodeCSV(f)
	}

	var set models.RecordSet
	if err := json.NewDecoder(f).Decode(&set); err != nil {
		return models.RecordSet{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return models.NewRecordSet(set.Columns, set.Rows...), nil
}

func decodeCSV(r io.Reader) (models.RecordSet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return models.RecordSet{}, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	set := models.NewRecordSet(header)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.RecordSet{}, err
		}
		row := make(models.Row, len(header))
		for i, label := range header {
			if i < len(record) {
				row[label] = record[i]
			} else {
				row[label] = ""
			}
		}
		set.Rows = append(set.Rows, row)
	}
	return set, nil
}

func writeJSON(dir, name string, v interface{}) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// loadAllocationConfig reads the allocation section of a YAML file. An empty
// path gives the defaults.
func loadAllocationConfig(path string) (config.AllocationConfig, error) {
	var ac config.AllocationConfig
	if path == "" {
		return ac, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return ac, fmt.Errorf("read %s: %w", path, err)
	}
	if err := v.UnmarshalKey("allocation", &ac); err != nil {
		return ac, fmt.Errorf("decode allocation section: %w", err)
	}
	return ac, nil
}
