package triallog

import (
	"fmt"
	"sync"

	"github.com/san-kum/autosim/internal/sweep"
)

// FakeStore hands out in-memory trial logs. OpenErr fails every Open;
// WriteErr and CloseErr are copied into each log it creates.
type FakeStore struct {
	mu sync.Mutex

	OpenErr  error
	WriteErr error
	CloseErr error

	logs []*FakeLog
}

func New() *FakeStore {
	return &FakeStore{}
}

func (s *FakeStore) Open(k float64, count int) (sweep.TrialLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	l := &FakeLog{
		path:     fmt.Sprintf("mem/Auto_k=%1.3f_count=%d.dat", k, count),
		writeErr: s.WriteErr,
		closeErr: s.CloseErr,
	}
	s.logs = append(s.logs, l)
	return l, nil
}

func (s *FakeStore) Logs() []*FakeLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FakeLog(nil), s.logs...)
}

// FakeLog keeps written records in memory.
type FakeLog struct {
	mu       sync.Mutex
	path     string
	writeErr error
	closeErr error
	records  [][]float64
	closes   int
}

func (l *FakeLog) Write(elapsed float64, sample []float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.records = append(l.records, append([]float64{elapsed}, sample...))
	return nil
}

func (l *FakeLog) Path() string { return l.path }

func (l *FakeLog) Records() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *FakeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return l.closeErr
}

func (l *FakeLog) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}
