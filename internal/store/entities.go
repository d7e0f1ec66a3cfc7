package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/pimsync/runtime/internal/database"
	"github.com/pimsync/runtime/pkg/catalog"
)

// maxBindParams stays under the smallest driver limit on bound parameters.
const maxBindParams = 900

// Entity is a stored catalog entity.
type Entity struct {
	ID     int64
	Class  catalog.EntityClass
	Key    string
	Code   string
	Parent string
	Data   map[string]interface{}
}

// Keys returns the keys of every stored entity of class, sorted.
func (s *Store) Keys(ctx context.Context, class catalog.EntityClass) ([]string, error) {
	query := "SELECT key FROM entities WHERE class = " + s.ph(1) + " ORDER BY key"
	rows, err := s.q.QueryContext(ctx, query, string(class))
	if err != nil {
		return nil, s.classify(err, "keys", query, 1)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, s.classify(err, "keys", query, 1)
		}
		keys = append(keys, k)
	}
	return keys, s.classify(rows.Err(), "keys", query, 1)
}

// Count returns the number of stored entities of class.
func (s *Store) Count(ctx context.Context, class catalog.EntityClass) (int, error) {
	query := "SELECT COUNT(*) FROM entities WHERE class = " + s.ph(1)
	var n int
	if err := s.q.QueryRowContext(ctx, query, string(class)).Scan(&n); err != nil {
		return 0, s.classify(err, "count", query, 1)
	}
	return n, nil
}

// Get returns the entity of class stored under key.
func (s *Store) Get(ctx context.Context, class catalog.EntityClass, key string) (Entity, error) {
	query := "SELECT id, code, parent_code, data FROM entities WHERE class = " + s.ph(1) + " AND key = " + s.ph(2)
	e := Entity{Class: class, Key: key}
	var data string
	err := s.q.QueryRowContext(ctx, query, string(class), key).Scan(&e.ID, &e.Code, &e.Parent, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("%s %q: %w", class, key, ErrNotFound)
	}
	if err != nil {
		return Entity{}, s.classify(err, "get", query, 2)
	}
	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return Entity{}, fmt.Errorf("decoding %s %q: %w", class, key, err)
	}
	return e, nil
}

// Upsert writes rec under (class, rec.Key()) and returns its id. created
// reports whether no entity existed under that key before.
func (s *Store) Upsert(ctx context.Context, class catalog.EntityClass, rec catalog.Record) (id int64, created bool, err error) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return 0, false, fmt.Errorf("encoding %s %q: %w", class, rec.Key(), err)
	}
	if rec.Data == nil {
		data = []byte("{}")
	}

	lookup := "SELECT id FROM entities WHERE class = " + s.ph(1) + " AND key = " + s.ph(2)
	var existing int64
	switch err := s.q.QueryRowContext(ctx, lookup, string(class), rec.Key()).Scan(&existing); {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return 0, false, s.classify(err, "upsert", lookup, 2)
	}

	query := "INSERT INTO entities (class, key, code, parent_code, data) VALUES (" +
		s.ph(1) + ", " + s.ph(2) + ", " + s.ph(3) + ", " + s.ph(4) + ", " + s.ph(5) + ")" +
		" ON CONFLICT (class, key) DO UPDATE SET code = excluded.code, parent_code = excluded.parent_code," +
		" data = excluded.data, updated_at = CURRENT_TIMESTAMP RETURNING id"
	err = s.q.QueryRowContext(ctx, query, string(class), rec.Key(), rec.Code, rec.Parent, string(data)).Scan(&id)
	if err != nil {
		return 0, false, s.classify(err, "upsert", query, 5)
	}
	return id, created, nil
}

// ReplaceReferences sets the outgoing references of the entity fromID to the
// given targets, grouped by class. Targets that are not stored are returned
// as "class:key" and skipped.
func (s *Store) ReplaceReferences(ctx context.Context, fromID int64, targets map[catalog.EntityClass][]string) ([]string, error) {
	del := "DELETE FROM entity_references WHERE from_id = " + s.ph(1)
	if _, err := s.q.ExecContext(ctx, del, fromID); err != nil {
		return nil, s.classify(err, "references", del, 1)
	}

	classes := make([]string, 0, len(targets))
	for c := range targets {
		classes = append(classes, string(c))
	}
	sort.Strings(classes)

	var missing []string
	insert := "INSERT INTO entity_references (from_id, to_id) VALUES (" + s.ph(1) + ", " + s.ph(2) + ") ON CONFLICT DO NOTHING"
	for _, c := range classes {
		keys := targets[catalog.EntityClass(c)]
		ids, err := s.idsByKey(ctx, catalog.EntityClass(c), keys)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			toID, ok := ids[k]
			if !ok {
				missing = append(missing, c+":"+k)
				continue
			}
			if _, err := s.q.ExecContext(ctx, insert, fromID, toID); err != nil {
				return nil, s.classify(err, "references", insert, 2)
			}
		}
	}
	return missing, nil
}

// References returns the ids the entity fromID points at.
func (s *Store) References(ctx context.Context, fromID int64) ([]int64, error) {
	query := "SELECT to_id FROM entity_references WHERE from_id = " + s.ph(1) + " ORDER BY to_id"
	return s.scanIDs(ctx, "references", query, fromID)
}

func (s *Store) idsByKey(ctx context.Context, class catalog.EntityClass, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for start := 0; start < len(keys); start += maxBindParams {
		end := min(start+maxBindParams, len(keys))
		chunk := keys[start:end]

		query := "SELECT id, key FROM entities WHERE class = " + s.ph(1) + " AND key IN (" + database.Placeholders(s.driver, 2, len(chunk)) + ")"
		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(class))
		for _, k := range chunk {
			args = append(args, k)
		}
		rows, err := s.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, s.classify(err, "lookup", query, len(args))
		}
		for rows.Next() {
			var id int64
			var k string
			if err := rows.Scan(&id, &k); err != nil {
				rows.Close()
				return nil, s.classify(err, "lookup", query, len(args))
			}
			out[k] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, s.classify(err, "lookup", query, len(args))
		}
	}
	return out, nil
}

// IDsNotIn returns the ids of the entities of class whose key is not in
// keep, in one query. An empty keep selects the whole class. Beyond the bind
// parameter limit the keys are filtered after reading the class.
func (s *Store) IDsNotIn(ctx context.Context, class catalog.EntityClass, keep []string) ([]int64, error) {
	if len(keep) == 0 {
		query := "SELECT id FROM entities WHERE class = " + s.ph(1) + " ORDER BY id"
		return s.scanIDs(ctx, "ids_not_in", query, string(class))
	}

	if len(keep) >= maxBindParams {
		return s.idsNotInScan(ctx, class, keep)
	}

	query := "SELECT id FROM entities WHERE class = " + s.ph(1) +
		" AND key NOT IN (" + database.Placeholders(s.driver, 2, len(keep)) + ") ORDER BY id"
	args := make([]any, 0, len(keep)+1)
	args = append(args, string(class))
	for _, k := range keep {
		args = append(args, k)
	}
	return s.scanIDs(ctx, "ids_not_in", query, args...)
}

func (s *Store) idsNotInScan(ctx context.Context, class catalog.EntityClass, keep []string) ([]int64, error) {
	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		kept[k] = struct{}{}
	}
	query := "SELECT id, key FROM entities WHERE class = " + s.ph(1) + " ORDER BY id"
	rows, err := s.q.QueryContext(ctx, query, string(class))
	if err != nil {
		return nil, s.classify(err, "ids_not_in", query, 1)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		var k string
		if err := rows.Scan(&id, &k); err != nil {
			return nil, s.classify(err, "ids_not_in", query, 1)
		}
		if _, ok := kept[k]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, s.classify(rows.Err(), "ids_not_in", query, 1)
}

// DeleteByIDs deletes the given entities, leaving alone those another entity
// still references. It returns how many were actually deleted.
func (s *Store) DeleteByIDs(ctx context.Context, ids []int64) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += maxBindParams {
		end := min(start+maxBindParams, len(ids))
		chunk := ids[start:end]

		query := "DELETE FROM entities WHERE id IN (" + database.Placeholders(s.driver, 1, len(chunk)) + ")" +
			" AND NOT EXISTS (SELECT 1 FROM entity_references r WHERE r.to_id = entities.id)"
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		res, err := s.q.ExecContext(ctx, query, args...)
		if err != nil {
			return deleted, s.classify(err, "delete", query, len(args))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, s.classify(err, "delete", query, len(args))
		}
		deleted += int(n)
	}
	return deleted, nil
}

// AttributeTypes maps every stored attribute code to its remote type code.
func (s *Store) AttributeTypes(ctx context.Context) (map[string]string, error) {
	query := "SELECT code, data FROM entities WHERE class = " + s.ph(1)
	rows, err := s.q.QueryContext(ctx, query, string(catalog.Attributes))
	if err != nil {
		return nil, s.classify(err, "attribute_types", query, 1)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var code, data string
		if err := rows.Scan(&code, &data); err != nil {
			return nil, s.classify(err, "attribute_types", query, 1)
		}
		var attr struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(data), &attr); err != nil {
			return nil, fmt.Errorf("decoding attribute %q: %w", code, err)
		}
		types[code] = attr.Type
	}
	return types, s.classify(rows.Err(), "attribute_types", query, 1)
}

// SelectAttributes returns the sorted codes of the stored attributes whose
// remote type is one of remoteTypes.
func (s *Store) SelectAttributes(ctx context.Context, remoteTypes ...string) ([]string, error) {
	types, err := s.AttributeTypes(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(remoteTypes))
	for _, t := range remoteTypes {
		wanted[t] = true
	}
	var codes []string
	for code, t := range types {
		if wanted[t] {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *Store) scanIDs(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(err, op, query, len(args))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, s.classify(err, op, query, len(args))
		}
		ids = append(ids, id)
	}
	return ids, s.classify(rows.Err(), op, query, len(args))
}
