package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"queueline/internal/domain"
)

const accessItemSelect = `SELECT ai.id, ai.workbasket_id, w.key, ai.access_id, COALESCE(ai.access_name,''), ai.permissions
FROM access_items ai JOIN workbaskets w ON w.id=ai.workbasket_id`

func scanAccessItem(row rowScanner) (domain.AccessItem, error) {
	var it domain.AccessItem
	var perms int64
	err := row.Scan(&it.ID, &it.WorkbasketID, &it.WorkbasketKey, &it.AccessID, &it.AccessName, &perms)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	it.Permissions = domain.Permission(perms)
	return it, err
}

func (r Repo) InsertAccessItem(ctx context.Context, q Querier, it domain.AccessItem) error {
	_, err := q.ExecContext(ctx, `INSERT INTO access_items(id,workbasket_id,access_id,access_name,permissions) VALUES (?,?,?,?,?)`,
		it.ID, it.WorkbasketID, it.AccessID, nullable(it.AccessName), int64(it.Permissions))
	return err
}

func (r Repo) GetAccessItem(ctx context.Context, q Querier, id string) (domain.AccessItem, error) {
	return scanAccessItem(q.QueryRowContext(ctx, accessItemSelect+` WHERE ai.id=?`, id))
}

// AccessItemExists reports whether accessID already holds a row on the workbasket.
func (r Repo) AccessItemExists(ctx context.Context, q Querier, workbasketID, accessID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM access_items WHERE workbasket_id=? AND access_id=?`, workbasketID, accessID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) UpdateAccessItem(ctx context.Context, q Querier, it domain.AccessItem) error {
	res, err := q.ExecContext(ctx, `UPDATE access_items SET access_name=?, permissions=? WHERE id=?`,
		nullable(it.AccessName), int64(it.Permissions), it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAccessItem(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM access_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccessItemsForWorkbasket removes every grant on a workbasket.
func (r Repo) DeleteAccessItemsForWorkbasket(ctx context.Context, q Querier, workbasketID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM access_items WHERE workbasket_id=?`, workbasketID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAccessItemsForAccessor removes every grant of one accessor.
func (r Repo) DeleteAccessItemsForAccessor(ctx context.Context, q Querier, accessID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM access_items WHERE access_id=?`, accessID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AccessItemFilters narrows ListAccessItems. Empty fields do not filter.
type AccessItemFilters struct {
	WorkbasketIDs []string
	AccessIDs     []string
}

func (r Repo) ListAccessItems(ctx context.Context, q Querier, f AccessItemFilters) ([]domain.AccessItem, error) {
	clauses := []string{"1=1"}
	var args []any
	if len(f.WorkbasketIDs) > 0 {
		clauses = append(clauses, "ai.workbasket_id IN ("+placeholders(len(f.WorkbasketIDs))+")")
		args = append(args, stringArgs(f.WorkbasketIDs)...)
	}
	if len(f.AccessIDs) > 0 {
		clauses = append(clauses, "ai.access_id IN ("+placeholders(len(f.AccessIDs))+")")
		args = append(args, stringArgs(f.AccessIDs)...)
	}
	query := fmt.Sprintf(`%s WHERE %s ORDER BY w.key, ai.access_id`, accessItemSelect, strings.Join(clauses, " AND "))
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AccessItem
	for rows.Next() {
		it, err := scanAccessItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// GrantsFor returns the access rows on one workbasket matching any of accessIDs.
func (r Repo) GrantsFor(ctx context.Context, q Querier, workbasketID string, accessIDs []string) ([]domain.AccessItem, error) {
	if len(accessIDs) == 0 {
		return nil, nil
	}
	return r.ListAccessItems(ctx, q, AccessItemFilters{WorkbasketIDs: []string{workbasketID}, AccessIDs: accessIDs})
}
