// Package memory is an in-memory report writer used by tests and
// worker runs without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"tally/internal/core"
	ports "tally/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	rows []core.Transaction
}

var (
	_ ports.ReportWriter  = (*Store)(nil)
	_ ports.ReportDeleter = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

func (s *Store) AppendTransaction(_ context.Context, tx core.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace on re-export of the same transaction.
	for i, row := range s.rows {
		if row.ID == tx.ID {
			s.rows[i] = tx
			return fmt.Sprintf("row-%d", i+1), nil
		}
	}
	s.rows = append(s.rows, tx)
	return fmt.Sprintf("row-%d", len(s.rows)), nil
}

func (s *Store) RemoveTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, row := range s.rows {
		if row.ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// Rows returns a copy of the exported rows.
func (s *Store) Rows() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Transaction, len(s.rows))
	copy(out, s.rows)
	return out
}
