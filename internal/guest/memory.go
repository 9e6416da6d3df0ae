package guest

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store, used by tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	writes  []Write
}

// Write is a single recorded WriteField call.
type Write struct {
	Row   int
	Field string
	Value string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store holding records. Row positions are
// assigned from slice order.
func NewMemoryStore(records ...Record) *MemoryStore {
	s := &MemoryStore{}
	for i, r := range records {
		r.Row = i
		s.records = append(s.records, r)
	}
	return s
}

func (s *MemoryStore) Guests(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *MemoryStore) WriteField(ctx context.Context, row int, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 0 || row >= len(s.records) {
		return fmt.Errorf("row %d out of range", row)
	}
	r := &s.records[row]
	switch field {
	case FieldVideoURL:
		r.VideoURL = value
	case FieldStatus:
		r.Status = value
	case FieldBlessing:
		r.Blessing = value
	case FieldAudioURL:
		r.AudioURL = value
	default:
		return fmt.Errorf("field %q is not writable", field)
	}
	s.writes = append(s.writes, Write{Row: row, Field: field, Value: value})
	return nil
}

// Writes returns every successful WriteField call in order.
func (s *MemoryStore) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Record returns the current state of row.
func (s *MemoryStore) Record(row int) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[row]
}
