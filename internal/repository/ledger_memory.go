package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/pkg/keylock"
)

// MemoryLedgerStore keeps the ledger in process memory. Writes made inside
// WithinStudent are staged and published together when fn succeeds.
type MemoryLedgerStore struct {
	locks *keylock.Table

	mu        sync.RWMutex
	accounts  map[string]models.Account
	entries   []models.LedgerEntry
	byID      map[string]int
	reversals map[string]models.LedgerReversal
}

// NewMemoryLedgerStore returns an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		locks:     keylock.New(),
		accounts:  make(map[string]models.Account),
		byID:      make(map[string]int),
		reversals: make(map[string]models.LedgerReversal),
	}
}

// WithinStudent runs fn while holding the student's lock.
func (s *MemoryLedgerStore) WithinStudent(ctx context.Context, studentID string, fn StudentFunc) error {
	unlock := s.locks.Lock(studentID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memLedgerTx{store: s, studentID: studentID}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryLedgerStore) commit(tx *memLedgerTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.account != nil {
		s.accounts[tx.studentID] = *tx.account
	}
	for _, e := range tx.entries {
		s.byID[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	for _, r := range tx.reversals {
		s.reversals[r.OriginalEntryID] = r
	}
}

// GetAccount fetches a student's account.
func (s *MemoryLedgerStore) GetAccount(ctx context.Context, studentID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &account, nil
}

// GetEntry fetches one entry with its reversal annotation.
func (s *MemoryLedgerStore) GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	view := s.viewLocked(s.entries[idx])
	return &view, nil
}

// ListEntries returns a student's entries, newest first.
func (s *MemoryLedgerStore) ListEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryView, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []models.LedgerEntryView
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.StudentID != filter.StudentID {
			continue
		}
		if filter.Kind != nil && e.Kind != *filter.Kind {
			continue
		}
		if filter.Source != nil && e.Source != *filter.Source {
			continue
		}
		if filter.From != nil && e.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.OccurredAt.After(*filter.To) {
			continue
		}
		matched = append(matched, s.viewLocked(e))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})
	page, size := normalisePage(filter.Page, filter.PageSize)
	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return []models.LedgerEntryView{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// SumEarned totals earned points for a quota query.
func (s *MemoryLedgerStore) SumEarned(ctx context.Context, q models.QuotaQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, e := range s.entries {
		if matchesQuota(e, q) {
			total += e.Amount
		}
	}
	return total, nil
}

func (s *MemoryLedgerStore) viewLocked(e models.LedgerEntry) models.LedgerEntryView {
	view := models.LedgerEntryView{LedgerEntry: e}
	view.Metadata = e.Metadata.Clone()
	if r, ok := s.reversals[e.ID]; ok {
		id := r.ReversalEntryID
		view.ReversalEntryID = &id
		view.Reversed = true
	}
	return view
}

func matchesQuota(e models.LedgerEntry, q models.QuotaQuery) bool {
	if e.StudentID != q.StudentID || e.Kind != models.KindEarned {
		return false
	}
	if q.Source != nil && e.Source != *q.Source {
		return false
	}
	var bucket time.Time
	switch q.Window {
	case models.WindowWeekly:
		bucket = e.WeekBucket
	case models.WindowMonthly:
		bucket = e.MonthBucket
	default:
		bucket = e.DayBucket
	}
	return bucket.Equal(q.Bucket)
}

type memLedgerTx struct {
	store     *MemoryLedgerStore
	studentID string

	account   *models.Account
	entries   []models.LedgerEntry
	reversals []models.LedgerReversal
}

func (t *memLedgerTx) Account(ctx context.Context) (*models.Account, error) {
	if t.account != nil {
		copied := *t.account
		return &copied, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	account, ok := t.store.accounts[t.studentID]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (t *memLedgerTx) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	account.StudentID = t.studentID
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Level < 1 {
		account.Level = 1
	}
	staged := *account
	t.account = &staged
	return nil
}

func (t *memLedgerTx) SaveAccount(ctx context.Context, account *models.Account) error {
	current, err := t.Account(ctx)
	if err != nil {
		return err
	}
	if current == nil || current.Version != account.Version {
		return ErrVersionConflict
	}
	account.Version++
	account.UpdatedAt = time.Now().UTC()
	staged := *account
	t.account = &staged
	return nil
}

func (t *memLedgerTx) SumEarned(ctx context.Context, q models.QuotaQuery) (int, error) {
	q.StudentID = t.studentID
	total, err := t.store.SumEarned(ctx, q)
	if err != nil {
		return 0, err
	}
	for _, e := range t.entries {
		if matchesQuota(e, q) {
			total += e.Amount
		}
	}
	return total, nil
}

func (t *memLedgerTx) FindEarnedBySourceRef(ctx context.Context, source models.PointSource, sourceRef string) (*models.LedgerEntry, error) {
	match := func(e models.LedgerEntry) bool {
		return e.StudentID == t.studentID && e.Kind == models.KindEarned && e.Source == source &&
			e.SourceRef != nil && *e.SourceRef == sourceRef
	}
	for _, e := range t.entries {
		if match(e) {
			found := e
			return &found, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, e := range t.store.entries {
		if match(e) {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memLedgerTx) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.StudentID = t.studentID
	if entry.Kind == models.KindEarned && entry.SourceRef != nil {
		existing, err := t.FindEarnedBySourceRef(ctx, entry.Source, *entry.SourceRef)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateSourceRef
		}
	}
	staged := *entry
	staged.Metadata = entry.Metadata.Clone()
	t.entries = append(t.entries, staged)
	return nil
}

func (t *memLedgerTx) FindReversal(ctx context.Context, originalID string) (*models.LedgerReversal, error) {
	for _, r := range t.reversals {
		if r.OriginalEntryID == originalID {
			found := r
			return &found, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if r, ok := t.store.reversals[originalID]; ok {
		return &r, nil
	}
	return nil, nil
}

func (t *memLedgerTx) RecordReversal(ctx context.Context, reversal *models.LedgerReversal) error {
	existing, err := t.FindReversal(ctx, reversal.OriginalEntryID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateSourceRef
	}
	if reversal.CreatedAt.IsZero() {
		reversal.CreatedAt = time.Now().UTC()
	}
	t.reversals = append(t.reversals, *reversal)
	return nil
}
