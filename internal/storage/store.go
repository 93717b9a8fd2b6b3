package storage

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	filePrefix = "Auto_"
	fileSuffix = ".dat"
	separator  = ", "
)

// ErrClosed is returned when writing to a trial log that was already closed.
var ErrClosed = errors.New("storage: trial log closed")

// Store owns the directory trial logs are written to.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string {
	return s.baseDir
}

// FileName is the deterministic log name for one trial.
func FileName(k float64, count int) string {
	return fmt.Sprintf("%sk=%1.3f_count=%d%s", filePrefix, k, count, fileSuffix)
}

// ParseFileName recovers (k, count) from a name produced by FileName.
func ParseFileName(name string) (float64, int, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return 0, 0, fmt.Errorf("not a trial log: %s", base)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
	kPart, countPart, ok := strings.Cut(body, "_count=")
	if !ok || !strings.HasPrefix(kPart, "k=") {
		return 0, 0, fmt.Errorf("not a trial log: %s", base)
	}
	k, err := strconv.ParseFloat(strings.TrimPrefix(kPart, "k="), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", base, err)
	}
	count, err := strconv.Atoi(countPart)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", base, err)
	}
	return k, count, nil
}

func (s *Store) Path(k float64, count int) string {
	return filepath.Join(s.baseDir, FileName(k, count))
}

// Open creates (or truncates) the log for trial (k, count).
func (s *Store) Open(k float64, count int) (*TrialLog, error) {
	path := s.Path(k, count)
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &TrialLog{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// TrialLog is one open trial file. It is not safe for concurrent use.
type TrialLog struct {
	f       *os.File
	w       *bufio.Writer
	path    string
	records int
}

// FormatRecord renders one line without the trailing newline: elapsed
// seconds followed by every sample value, all with six decimals.
func FormatRecord(elapsed float64, sample []float64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(elapsed, 'f', 6, 64))
	for _, v := range sample {
		b.WriteString(separator)
		b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
	}
	return b.String()
}

func (t *TrialLog) Write(elapsed float64, sample []float64) error {
	if t.f == nil {
		return ErrClosed
	}
	if _, err := t.w.WriteString(FormatRecord(elapsed, sample) + "\n"); err != nil {
		return err
	}
	t.records++
	return nil
}

func (t *TrialLog) Path() string { return t.path }
func (t *TrialLog) Records() int { return t.records }

// Close flushes and releases the file. Closing twice is a no-op.
func (t *TrialLog) Close() error {
	if t.f == nil {
		return nil
	}
	flushErr := t.w.Flush()
	closeErr := t.f.Close()
	t.f = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Trial is a parsed trial log.
type Trial struct {
	K       float64
	Count   int
	Times   []float64
	Torques [][]float64
}

// Joint returns the time series of one joint.
func (t *Trial) Joint(i int) []float64 {
	out := make([]float64, 0, len(t.Torques))
	for _, row := range t.Torques {
		if i < len(row) {
			out = append(out, row[i])
		}
	}
	return out
}

func (t *Trial) Duration() float64 {
	if len(t.Times) == 0 {
		return 0
	}
	return t.Times[len(t.Times)-1]
}

// ReadTrial parses a trial log. Every record must have the same field count.
func ReadTrial(path string) (*Trial, error) {
	k, count, err := ParseFileName(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = 0

	trial := &Trial{K: k, Count: count}
	for line := 1; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		values := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d field %d: %w", path, line, j+1, err)
			}
			values[j] = v
		}
		trial.Times = append(trial.Times, values[0])
		trial.Torques = append(trial.Torques, values[1:])
	}
	return trial, nil
}

// TrialInfo describes a trial log found on disk.
type TrialInfo struct {
	Path  string
	K     float64
	Count int
	Size  int64
}

// List returns the trial logs in the store ordered by (count, k).
func (s *Store) List() ([]TrialInfo, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TrialInfo{}, nil
		}
		return nil, err
	}

	trials := make([]TrialInfo, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		k, count, err := ParseFileName(entry.Name())
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		trials = append(trials, TrialInfo{
			Path:  filepath.Join(s.baseDir, entry.Name()),
			K:     k,
			Count: count,
			Size:  info.Size(),
		})
	}

	sort.Slice(trials, func(i, j int) bool {
		if trials[i].Count != trials[j].Count {
			return trials[i].Count < trials[j].Count
		}
		return trials[i].K < trials[j].K
	})
	return trials, nil
}
