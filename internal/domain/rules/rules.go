// Package rules holds the active per-event-type point values consulted by the
// scoring engine. The table is read-mostly: the engine only ever reads the
// rule active at the moment of use, mutation happens through the configuration
// surface (UpdateRule, or a watched rules file). No versioning or
// effective-dating is provided; an edit takes effect for all future
// applications and recalculations immediately.
package rules

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/okian/leadscore/internal/domain/model"
)

// Store is the rule table. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	rules map[model.EventType]model.ScoringRule
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithRules replaces the seeded defaults with the given rule set.
func WithRules(rs []model.ScoringRule) Option {
	return func(s *Store) {
		s.rules = make(map[model.EventType]model.ScoringRule, len(rs))
		for _, r := range rs {
			s.rules[r.EventType] = r
		}
	}
}

// Defaults returns the built-in rule set used when no rules file is
// configured.
func Defaults() []model.ScoringRule {
	return []model.ScoringRule{
		{EventType: model.EventPageView, Points: 5, Active: true, Description: "visited a tracked page"},
		{EventType: model.EventEmailOpen, Points: 10, Active: true, Description: "opened a campaign email"},
		{EventType: model.EventFormSubmission, Points: 25, Active: true, Description: "submitted a form"},
		{EventType: model.EventDemoRequest, Points: 50, Active: true, Description: "requested a demo"},
		{EventType: model.EventPurchase, Points: 100, Active: true, Description: "completed a purchase"},
	}
}

// NewStore creates a rule store seeded with Defaults unless overridden.
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.rules == nil {
		s.rules = make(map[model.EventType]model.ScoringRule)
		for _, r := range Defaults() {
			s.rules[r.EventType] = r
		}
	}
	return s
}

// ActiveRule returns the rule for eventType if one exists and is active.
// Absence and inactivity are distinct failures so callers can report them
// separately; both are retryable since configuration may catch up.
func (s *Store) ActiveRule(ctx context.Context, eventType model.EventType) (model.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[eventType]
	if !ok {
		return model.ScoringRule{}, fmt.Errorf("%w: %s", ErrNoRule, eventType)
	}
	if !r.Active {
		return model.ScoringRule{}, fmt.Errorf("%w: %s", ErrRuleInactive, eventType)
	}
	return r, nil
}

// Rule returns the rule for eventType regardless of its active flag.
func (s *Store) Rule(ctx context.Context, eventType model.EventType) (model.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[eventType]
	if !ok {
		return model.ScoringRule{}, fmt.Errorf("%w: %s", ErrNoRule, eventType)
	}
	return r, nil
}

// Rules returns all configured rules sorted by event type.
func (s *Store) Rules(ctx context.Context) []model.ScoringRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ScoringRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// Update inserts or replaces the rule for rule.EventType. Takes effect for
// all future ApplyEvent and Recalculate calls immediately.
func (s *Store) Update(ctx context.Context, rule model.ScoringRule) error {
	if rule.EventType == "" {
		return fmt.Errorf("%w: empty event type", ErrInvalidRule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.EventType] = rule
	return nil
}

// rulesFile mirrors the YAML shape of a rules file.
type rulesFile struct {
	Rules []model.ScoringRule `yaml:"rules"`
}

// LoadFile replaces the whole table with the rules parsed from a YAML file.
// On parse failure the previous table remains active.
func (s *Store) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadRules, err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %w", ErrLoadRules, err)
	}
	if len(f.Rules) == 0 {
		return fmt.Errorf("%w: no rules in %s", ErrLoadRules, path)
	}
	for _, r := range f.Rules {
		if r.EventType == "" {
			return fmt.Errorf("%w: rule with empty event type in %s", ErrInvalidRule, path)
		}
	}

	next := make(map[model.EventType]model.ScoringRule, len(f.Rules))
	for _, r := range f.Rules {
		next[r.EventType] = r
	}

	s.mu.Lock()
	s.rules = next
	s.mu.Unlock()
	return nil
}
