package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pimsync/runtime/internal/filter"
)

// LoadRuleSet returns the stored filter rule set, ErrNotFound when none was saved.
func (s *Store) LoadRuleSet(ctx context.Context) (*filter.RuleSet, error) {
	query := "SELECT document FROM filter_rules WHERE id = 1"
	var doc string
	err := s.q.QueryRowContext(ctx, query).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filter rule set: %w", ErrNotFound)
	}
	if err != nil {
		return nil, s.classify(err, "load_rules", query, 0)
	}

	var rs filter.RuleSet
	if err := json.Unmarshal([]byte(doc), &rs); err != nil {
		return nil, fmt.Errorf("decoding stored filter rule set: %w", err)
	}
	return &rs, nil
}

// SaveRuleSet replaces the stored filter rule set.
func (s *Store) SaveRuleSet(ctx context.Context, rs *filter.RuleSet) error {
	if rs == nil {
		query := "DELETE FROM filter_rules WHERE id = 1"
		_, err := s.q.ExecContext(ctx, query)
		return s.classify(err, "save_rules", query, 0)
	}
	doc, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encoding filter rule set: %w", err)
	}
	query := "INSERT INTO filter_rules (id, document) VALUES (1, " + s.ph(1) + ")" +
		" ON CONFLICT (id) DO UPDATE SET document = excluded.document, updated_at = CURRENT_TIMESTAMP"
	_, err = s.q.ExecContext(ctx, query, string(doc))
	return s.classify(err, "save_rules", query, 1)
}
