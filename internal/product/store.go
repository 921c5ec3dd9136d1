// Package product implements the mock product catalog backing the scanner:
// an in-memory store, its HTTP API, and lookup adapters for the coordinator.
package product

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
)

// ErrNotFound is returned when no record exists for a barcode.
var ErrNotFound = errors.New("product not found")

// ValidationError rejects an action without touching the record.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Store is an in-memory catalog keyed by barcode. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]schemas.ProductRecord
	logger  *zap.Logger
}

// NewStore builds a store seeded with demo fixtures.
func NewStore(logger *zap.Logger) *Store {
	s := &Store{
		records: make(map[string]schemas.ProductRecord),
		logger:  logger.Named("product"),
	}
	now := time.Now().UTC()
	for _, rec := range []schemas.ProductRecord{
		{ID: "123456789", Name: "Sample Product", Price: 19.99, Stock: 50},
		{ID: "4006381333931", Name: "Ballpoint Pen, Blue", Price: 2.49, Stock: 320},
		{ID: "9780140157376", Name: "Paperback Novel", Price: 11.00, Stock: 12},
	} {
		rec.UpdatedAt = now
		s.records[rec.ID] = rec
	}
	return s
}

// Get returns the record for the barcode or ErrNotFound.
func (s *Store) Get(code string) (schemas.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[code]
	if !ok {
		return schemas.ProductRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns every record ordered by barcode.
func (s *Store) List() []schemas.ProductRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.ProductRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put inserts or replaces a record.
func (s *Store) Put(rec schemas.ProductRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.ID] = rec
}

// Apply mutates a record according to the action. A rejected action leaves
// the record unchanged and returns a *ValidationError.
func (s *Store) Apply(code string, action schemas.ProductAction) (schemas.ProductRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[code]
	if !ok {
		return schemas.ProductRecord{}, ErrNotFound
	}

	switch action.Action {
	case schemas.ActionIncreaseStock:
		if action.Quantity <= 0 {
			return schemas.ProductRecord{}, &ValidationError{Reason: "quantity must be positive"}
		}
		rec.Stock += action.Quantity
	case schemas.ActionDecreaseStock:
		if action.Quantity <= 0 {
			return schemas.ProductRecord{}, &ValidationError{Reason: "quantity must be positive"}
		}
		if action.Quantity > rec.Stock {
			return schemas.ProductRecord{}, &ValidationError{Reason: "insufficient stock"}
		}
		rec.Stock -= action.Quantity
	case schemas.ActionSetPrice:
		if action.Price < 0 {
			return schemas.ProductRecord{}, &ValidationError{Reason: "price must not be negative"}
		}
		rec.Price = action.Price
	default:
		return schemas.ProductRecord{}, &ValidationError{Reason: fmt.Sprintf("unknown action %q", action.Action)}
	}

	rec.UpdatedAt = time.Now().UTC()
	s.records[code] = rec
	s.logger.Debug("Product updated.",
		zap.String("barcode", code),
		zap.String("action", action.Action),
		zap.Int("stock", rec.Stock))
	return rec, nil
}
