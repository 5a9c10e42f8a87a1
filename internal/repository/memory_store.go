package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-points-api/internal/models"
)

// MemoryPolicyStore keeps limit policies in process memory.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]models.LimitPolicy
}

// NewMemoryPolicyStore returns an empty store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]models.LimitPolicy)}
}

func policyKey(scope models.PolicyScope, entityID *string) string {
	if entityID == nil {
		return string(scope) + ":"
	}
	return string(scope) + ":" + *entityID
}

// FindByScope returns the policy for scope/entityID or sql.ErrNoRows.
func (s *MemoryPolicyStore) FindByScope(ctx context.Context, scope models.PolicyScope, entityID *string) (*models.LimitPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[policyKey(scope, entityID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return clonePolicy(policy), nil
}

// EnsureGlobal stores defaults as the global policy unless one exists.
func (s *MemoryPolicyStore) EnsureGlobal(ctx context.Context, defaults *models.LimitPolicy) (*models.LimitPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := policyKey(models.ScopeGlobal, nil)
	if existing, ok := s.policies[key]; ok {
		return clonePolicy(existing), nil
	}
	now := time.Now().UTC()
	stored := *clonePolicy(*defaults)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Scope = models.ScopeGlobal
	stored.EntityID = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.policies[key] = stored
	return clonePolicy(stored), nil
}

// List returns policies ordered by scope and entity.
func (s *MemoryPolicyStore) List(ctx context.Context, scope *models.PolicyScope) ([]models.LimitPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LimitPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		if scope != nil && p.Scope != *scope {
			continue
		}
		out = append(out, *clonePolicy(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return policyKey(out[i].Scope, out[i].EntityID) < policyKey(out[j].Scope, out[j].EntityID)
	})
	return out, nil
}

// Upsert creates or replaces the policy for its (scope, entity).
func (s *MemoryPolicyStore) Upsert(ctx context.Context, policy *models.LimitPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := policyKey(policy.Scope, policy.EntityID)
	now := time.Now().UTC()
	if existing, ok := s.policies[key]; ok {
		policy.ID = existing.ID
		policy.CreatedAt = existing.CreatedAt
	} else {
		if policy.ID == "" {
			policy.ID = uuid.NewString()
		}
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	s.policies[key] = *clonePolicy(*policy)
	return nil
}

// Delete removes a policy or returns sql.ErrNoRows.
func (s *MemoryPolicyStore) Delete(ctx context.Context, scope models.PolicyScope, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := policyKey(scope, &entityID)
	if _, ok := s.policies[key]; !ok {
		return sql.ErrNoRows
	}
	delete(s.policies, key)
	return nil
}

func clonePolicy(p models.LimitPolicy) *models.LimitPolicy {
	out := p
	if p.SourceLimits != nil {
		out.SourceLimits = make(models.SourceLimits, len(p.SourceLimits))
		for k, v := range p.SourceLimits {
			out.SourceLimits[k] = v
		}
	}
	return &out
}

// MemorySchoolRuleStore keeps school rules in process memory.
type MemorySchoolRuleStore struct {
	mu    sync.RWMutex
	rules map[string]models.SchoolPointRule
}

// NewMemorySchoolRuleStore returns an empty store.
func NewMemorySchoolRuleStore() *MemorySchoolRuleStore {
	return &MemorySchoolRuleStore{rules: make(map[string]models.SchoolPointRule)}
}

// Get returns the rule of a school or sql.ErrNoRows.
func (s *MemorySchoolRuleStore) Get(ctx context.Context, schoolID string) (*models.SchoolPointRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[schoolID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rule, nil
}

// Upsert creates or replaces a school's rule.
func (s *MemorySchoolRuleStore) Upsert(ctx context.Context, rule *models.SchoolPointRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.UpdatedAt = time.Now().UTC()
	stored := *rule
	if rule.TaskCategoryPoints != nil {
		stored.TaskCategoryPoints = make(models.CategoryPoints, len(rule.TaskCategoryPoints))
		for k, v := range rule.TaskCategoryPoints {
			stored.TaskCategoryPoints[k] = v
		}
	}
	s.rules[rule.SchoolID] = stored
	return nil
}

// MemoryDeadLetterStore keeps dead letters in process memory.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	letters []models.DeadLetter
}

// NewMemoryDeadLetterStore returns an empty store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

// Create stores a dead letter.
func (s *MemoryDeadLetterStore) Create(ctx context.Context, letter *models.DeadLetter) error {
	prepareDeadLetter(letter)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, *letter)
	return nil
}

// Get returns one dead letter or sql.ErrNoRows.
func (s *MemoryDeadLetterStore) Get(ctx context.Context, id string) (*models.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.letters {
		if l.ID == id {
			found := l
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// List returns dead letters newest first.
func (s *MemoryDeadLetterStore) List(ctx context.Context, filter models.DeadLetterFilter) ([]models.DeadLetter, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []models.DeadLetter
	for i := len(s.letters) - 1; i >= 0; i-- {
		l := s.letters[i]
		if filter.Status != nil && l.Status != *filter.Status {
			continue
		}
		if filter.StudentID != "" && l.StudentID != filter.StudentID {
			continue
		}
		matched = append(matched, l)
	}
	page, size := normalisePage(filter.Page, filter.PageSize)
	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return []models.DeadLetter{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// MarkResolved flags a pending dead letter as handled.
func (s *MemoryDeadLetterStore) MarkResolved(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.letters {
		if s.letters[i].ID == id && s.letters[i].Status == models.DeadLetterPending {
			resolved := at
			s.letters[i].Status = models.DeadLetterResolved
			s.letters[i].ResolvedAt = &resolved
			return nil
		}
	}
	return sql.ErrNoRows
}
