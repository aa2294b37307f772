package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/san-kum/simbridge/internal/host"
	"github.com/san-kum/simbridge/internal/statestore"
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

// RunMetadata describes one host run.
type RunMetadata struct {
	ID           string             `json:"id"`
	Preset       string             `json:"preset"`
	IntegratorID string             `json:"integrator_id"`
	Step         string             `json:"step"`
	Timestamp    time.Time          `json:"timestamp"`
	Passes       int                `json:"passes"`
	States       []string           `json:"states"`
	Final        map[string]float64 `json:"final"`
	Error        string             `json:"error,omitempty"`
}

// Save writes metadata.json and states.csv under a new run directory. The
// caller fills Preset, Step and Error; the rest is taken from traj.
func (s *Store) Save(meta RunMetadata, traj *host.Trajectory) (string, error) {
	now := time.Now()
	if meta.ID == "" {
		name := meta.Preset
		if name == "" {
			name = "run"
		}
		meta.ID = fmt.Sprintf("%s_%d", name, now.UnixNano())
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = now
	}
	meta.IntegratorID = traj.IntegratorID
	meta.States = append([]string(nil), traj.Names...)
	meta.Passes = 0
	if n := len(traj.Snapshots); n > 0 {
		meta.Passes = traj.Snapshots[n-1].Pass
	}
	meta.Final = make(map[string]float64, len(traj.Names))
	for name, v := range traj.Final() {
		if f, ok := statestore.ToFloat(v); ok {
			meta.Final[name] = f
		}
	}

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
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

	csvFile, err := os.Create(filepath.Join(runDir, "states.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, traj); err != nil {
		return "", err
	}
	return meta.ID, nil
}

// WriteCSV writes a pass column followed by one column per state. Values that
// are not numbers are written as text.
func WriteCSV(w io.Writer, traj *host.Trajectory) error {
	cw := csv.NewWriter(w)

	header := append([]string{"pass"}, traj.Names...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, snap := range traj.Snapshots {
		row := []string{strconv.Itoa(snap.Pass)}
		for _, name := range traj.Names {
			row = append(row, formatValue(snap.States[name]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := statestore.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', 6, 64)
	}
	return fmt.Sprint(v)
}

// List returns every recorded run, oldest first.
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

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadStates reads states.csv back as a per-state series. Cells that are not
// numbers read as 0.
func (s *Store) LoadStates(runID string) (names []string, passes []int, series map[string][]float64, err error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "states.csv"))
	if err != nil {
		return nil, nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	if len(records) == 0 {
		return []string{}, []int{}, map[string][]float64{}, nil
	}

	names = records[0][1:]
	series = make(map[string][]float64, len(names))
	passes = make([]int, 0, len(records)-1)

	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		pass, err := strconv.Atoi(record[0])
		if err != nil {
			continue
		}
		passes = append(passes, pass)

		for j, name := range names {
			var val float64
			if j+1 < len(record) {
				val, _ = strconv.ParseFloat(record[j+1], 64)
			}
			series[name] = append(series[name], val)
		}
	}

	return names, passes, series, nil
}
