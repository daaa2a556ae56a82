// Package storage persists completed runs: JSON metadata plus CSV
// voltage traces, one directory per run. It consumes snapshots only and
// never touches live engine state.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/san-kum/tissuesim/internal/config"
	"github.com/san-kum/tissuesim/internal/runner"
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
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Timestamp   time.Time `json:"timestamp"`
	Seed        int64     `json:"seed"`
	Dt          float64   `json:"dt"`
	Duration    float64   `json:"duration"`
	Scheme      string    `json:"scheme"`
	Cells       int       `json:"cells"`
	Steps       int       `json:"steps"`
	Warnings    int       `json:"warnings"`
	Termination string    `json:"termination"`
}

// Save writes one run directory: metadata.json and voltages.csv with a
// time column plus one column per cell [mV].
func (s *Store) Save(cfg *config.Config, res *runner.Result) (string, error) {
	runID := fmt.Sprintf("%s_%d", cfg.Name, time.Now().Unix())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	cells := 0
	if len(res.Snapshots) > 0 {
		cells = len(res.Snapshots[0].Vm)
	}
	meta := RunMetadata{
		ID:          runID,
		Name:        cfg.Name,
		Timestamp:   time.Now(),
		Seed:        cfg.Seed,
		Dt:          cfg.Sim.Dt,
		Duration:    cfg.Sim.Duration,
		Scheme:      cfg.Sim.Scheme,
		Cells:       cells,
		Steps:       res.Steps,
		Warnings:    res.Warnings,
		Termination: res.Termination.String(),
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

	csvFile, err := os.Create(filepath.Join(runDir, "voltages.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if len(res.Snapshots) == 0 {
		return runID, nil
	}

	header := []string{"time"}
	for ci := 0; ci < cells; ci++ {
		header = append(header, fmt.Sprintf("vm%d", ci))
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, snap := range res.Snapshots {
		row := make([]string, 0, cells+1)
		row = append(row, strconv.FormatFloat(snap.Time, 'g', 9, 64))
		for _, vm := range snap.Vm {
			row = append(row, strconv.FormatFloat(vm*1e3, 'g', 9, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, w.Error()
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
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
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

// LoadVoltages reads the saved traces back: times [s] and per-snapshot
// voltage rows [mV].
func (s *Store) LoadVoltages(runID string) ([]float64, [][]float64, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "voltages.csv"))
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return []float64{}, [][]float64{}, nil
	}

	times := make([]float64, 0, len(records)-1)
	rows := make([][]float64, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 2 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: bad time value %q", record[0])
		}
		row := make([]float64, 0, len(record)-1)
		for _, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("storage: bad voltage value %q", field)
			}
			row = append(row, v)
		}
		times = append(times, t)
		rows = append(rows, row)
	}
	return times, rows, nil
}
