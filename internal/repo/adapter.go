package repo

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Store is the table-keyed access contract action handlers run against.
// Update returns the rows as they look after the write; Delete returns the
// pre-deletion snapshots so subscribers can be told what disappeared.
type Store interface {
	Select(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error)
	Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error)
	Update(ctx context.Context, table string, filter, values map[string]any) ([]map[string]any, error)
	Delete(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error)
}

// adapterTables is the closed set of tables reachable through the generic
// adapter. Everything else goes through typed repo methods.
var adapterTables = map[string]struct{}{
	"tasks":          {},
	"project_tasks":  {},
	"cost_tracking":  {},
	"quality_checks": {},
}

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func checkTable(table string) error {
	if _, ok := adapterTables[table]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}

func checkColumns(cols []string) error {
	for _, c := range cols {
		if !identPattern.MatchString(c) {
			return fmt.Errorf("invalid column name %q", c)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func whereClause(filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, fmt.Errorf("filter required")
	}
	keys := sortedKeys(filter)
	if err := checkColumns(keys); err != nil {
		return "", nil, err
	}
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, k+"=?")
		args = append(args, filter[k])
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (r Repo) Select(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT * FROM `+table+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (r Repo) Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("row required")
	}
	keys := sortedKeys(row)
	if err := checkColumns(keys); err != nil {
		return nil, err
	}
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, row[k])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, table, strings.Join(keys, ","), placeholders)
	if _, err := r.DB.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return row, nil
}

func (r Repo) Update(ctx context.Context, table string, filter, values map[string]any) ([]map[string]any, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("values required")
	}
	ids, err := r.matchingIDs(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	valKeys := sortedKeys(values)
	if err := checkColumns(valKeys); err != nil {
		return nil, err
	}
	sets := make([]string, 0, len(valKeys))
	args := make([]any, 0, len(valKeys)+len(ids))
	for _, k := range valKeys {
		sets = append(sets, k+"=?")
		args = append(args, values[k])
	}
	inClause, idArgs := idIn(ids)
	args = append(args, idArgs...)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id IN (%s)`, table, strings.Join(sets, ","), inClause)
	if _, err := r.DB.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return r.rowsByID(ctx, table, ids)
}

func (r Repo) Delete(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	snapshots, err := r.Select(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM `+table+where, args...); err != nil {
		return nil, fmt.Errorf("delete %s: %w", table, err)
	}
	return snapshots, nil
}

func (r Repo) matchingIDs(ctx context.Context, table string, filter map[string]any) ([]string, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM `+table+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) rowsByID(ctx context.Context, table string, ids []string) ([]map[string]any, error) {
	inClause, args := idIn(ids)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE id IN (%s)`, table, inClause), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func idIn(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			switch v := vals[i].(type) {
			case []byte:
				row[c] = string(v)
			default:
				row[c] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
