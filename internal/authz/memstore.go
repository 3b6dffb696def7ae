package authz

import (
	"context"
	"sort"
	"sync"

	"sellergate.io/internal/audit"
)

// InMemory is a process-local Store. Reads take a shared lock and never wait on
// another seller's write; Mutate is serialized per seller.
type InMemory struct {
	mu       sync.RWMutex
	records  map[string]Record
	byPair   map[pairKey]string
	bySeller map[string]map[string]struct{}

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	audit audit.Store
}

type pairKey struct {
	seller  string
	product string
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty store that appends audit entries to log. A nil log
// gets a private in-memory ledger.
func NewInMemory(log audit.Store) *InMemory {
	if log == nil {
		log = audit.NewInMemory()
	}
	return &InMemory{
		records:  make(map[string]Record),
		byPair:   make(map[pairKey]string),
		bySeller: make(map[string]map[string]struct{}),
		locks:    make(map[string]*sync.Mutex),
		audit:    log,
	}
}

// Audit returns the ledger Mutate appends to.
func (s *InMemory) Audit() audit.Store { return s.audit }

func (s *InMemory) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemory) FindByPair(_ context.Context, sellerID, productID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.lookupPair(sellerID, productID)
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemory) CountApproved(_ context.Context, sellerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countApproved(sellerID), nil
}

func (s *InMemory) ListRejected(_ context.Context, sellerID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for id := range s.bySeller[sellerID] {
		if rec := s.records[id]; rec.Status == StatusRejected {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HasApproved reports whether the pair has an approved record.
func (s *InMemory) HasApproved(_ context.Context, sellerID, productID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.lookupPair(sellerID, productID)
	return ok && rec.Status == StatusApproved, nil
}

// ApprovedAmong returns the subset of productIDs the seller is approved for.
func (s *InMemory) ApprovedAmong(_ context.Context, sellerID string, productIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(productIDs))
	for _, pid := range productIDs {
		if rec, ok := s.lookupPair(sellerID, pid); ok && rec.Status == StatusApproved {
			out[pid] = true
		}
	}
	return out, nil
}

// ApprovedProducts lists every product the seller is approved for.
func (s *InMemory) ApprovedProducts(_ context.Context, sellerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id := range s.bySeller[sellerID] {
		if rec := s.records[id]; rec.Status == StatusApproved {
			out = append(out, rec.ProductID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) Mutate(ctx context.Context, target Target, fn MutateFunc) (Record, audit.Entry, error) {
	sellerID := target.SellerID
	if target.ID != "" {
		s.mu.RLock()
		rec, ok := s.records[target.ID]
		s.mu.RUnlock()
		if !ok {
			return fn(nil, 0)
		}
		sellerID = rec.SellerID
	}

	lock := s.sellerLock(sellerID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	var current *Record
	if target.ID != "" {
		if rec, ok := s.records[target.ID]; ok {
			c := rec.Clone()
			current = &c
		}
	} else if rec, ok := s.lookupPair(target.SellerID, target.ProductID); ok {
		c := rec.Clone()
		current = &c
	}
	approved := s.countApproved(sellerID)
	s.mu.RUnlock()

	next, entry, err := fn(current, approved)
	if err != nil {
		return Record{}, audit.Entry{}, err
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		return Record{}, audit.Entry{}, err
	}

	s.mu.Lock()
	s.put(next.Clone())
	s.mu.Unlock()
	return next, entry, nil
}

func (s *InMemory) sellerLock(sellerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sellerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sellerID] = l
	}
	return l
}

func (s *InMemory) lookupPair(sellerID, productID string) (Record, bool) {
	id, ok := s.byPair[pairKey{sellerID, productID}]
	if !ok {
		return Record{}, false
	}
	rec, ok := s.records[id]
	return rec, ok
}

func (s *InMemory) countApproved(sellerID string) int {
	n := 0
	for id := range s.bySeller[sellerID] {
		if s.records[id].Status == StatusApproved {
			n++
		}
	}
	return n
}

func (s *InMemory) put(rec Record) {
	s.records[rec.ID] = rec
	s.byPair[pairKey{rec.SellerID, rec.ProductID}] = rec.ID
	set, ok := s.bySeller[rec.SellerID]
	if !ok {
		set = make(map[string]struct{})
		s.bySeller[rec.SellerID] = set
	}
	set[rec.ID] = struct{}{}
}
