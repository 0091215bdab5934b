package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// ExportStore keeps export records in insertion order.
type ExportStore struct {
	mu      sync.RWMutex
	records []webview.ExportRecord
	ids     map[string]struct{}
}

// NewExportStore constructs an ExportStore.
func NewExportStore() *ExportStore {
	return &ExportStore{ids: make(map[string]struct{})}
}

// StoreExport appends a record. IDs must be unique.
func (s *ExportStore) StoreExport(_ context.Context, record webview.ExportRecord) error {
	if record.ID == "" {
		return errors.New("export record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[record.ID]; exists {
		return errors.New("export record already exists")
	}
	s.ids[record.ID] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

// Exports returns a copy of all stored records.
func (s *ExportStore) Exports() []webview.ExportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]webview.ExportRecord, len(s.records))
	copy(out, s.records)
	return out
}
