package domain

import "sync"

// BookStorage is a venue -> symbol -> book lookup for consumers that need
// read access outside a venue's delivery goroutine (health endpoints,
// snapshots on demand). Writers are the per-venue materializers.
type BookStorage struct {
	mu      sync.RWMutex
	storage map[VenueID]map[string]*MaterializedBook
}

func NewBookStorage() *BookStorage {
	return &BookStorage{
		storage: make(map[VenueID]map[string]*MaterializedBook),
	}
}

func (s *BookStorage) Add(venue VenueID, symbol string, book *MaterializedBook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.storage[venue]; !ok {
		s.storage[venue] = make(map[string]*MaterializedBook)
	}
	s.storage[venue][symbol] = book
}

func (s *BookStorage) Get(venue VenueID, symbol string) (*MaterializedBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books, ok := s.storage[venue]
	if !ok {
		return nil, ErrVenueNotFound
	}
	book, ok := books[symbol]
	if !ok {
		return nil, ErrBookNotFound
	}
	return book, nil
}

// Remove drops a venue's books, e.g. when the venue is disabled.
func (s *BookStorage) Remove(venue VenueID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, venue)
}

func (s *BookStorage) BookCount(venue VenueID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.storage[venue])
}
