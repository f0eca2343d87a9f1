// Package storage persists simulation runs: a metadata.json plus a
// trace.csv per run, under a common base directory.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/epsimlab/epsim/internal/trace"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration"`
	RelTol    float64   `json:"rtol"`
	AbsTol    float64   `json:"atol"`
	Columns   []string  `json:"columns"`
	Samples   int       `json:"samples"`
}

// Save writes one run and returns its generated ID.
func (s *Store) Save(model string, duration, rtol, atol float64, log *trace.Log) (string, error) {
	runID := fmt.Sprintf("%s_%d", model, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Model:     model,
		Timestamp: time.Now(),
		Duration:  duration,
		RelTol:    rtol,
		AbsTol:    atol,
		Columns:   log.Names(),
		Samples:   log.Len(),
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "trace.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, log); err != nil {
		return "", err
	}
	return runID, nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadTrace reads a stored run's samples back into a log.
func (s *Store) LoadTrace(runID string) (*trace.Log, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "trace.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("storage: run %s has an empty trace", runID)
	}

	header := records[0]
	if len(header) < 1 || header[0] != "time" {
		return nil, fmt.Errorf("storage: run %s has a malformed trace header", runID)
	}
	log, err := trace.New(header[1:])
	if err != nil {
		return nil, err
	}

	row := make([]float64, len(header)-1)
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) != len(header) {
			return nil, fmt.Errorf("storage: run %s trace row %d has %d fields, want %d",
				runID, i, len(record), len(header))
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("storage: run %s trace row %d: %w", runID, i, err)
		}
		for j := 1; j < len(record); j++ {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf("storage: run %s trace row %d: %w", runID, i, err)
			}
			row[j-1] = v
		}
		if err := log.Append(t, row); err != nil {
			return nil, err
		}
	}
	return log, nil
}
