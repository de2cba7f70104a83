package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"queueline/internal/domain"
)

const workbasketColumns = `id,key,domain,name,description,owner,type,org_level_1,org_level_2,org_level_3,org_level_4,custom_json,marked_for_deletion,created,modified`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkbasket(row rowScanner) (domain.Workbasket, error) {
	var w domain.Workbasket
	var desc, owner, l1, l2, l3, l4, custom sql.NullString
	var marked int
	err := row.Scan(&w.ID, &w.Key, &w.Domain, &w.Name, &desc, &owner, &w.Type, &l1, &l2, &l3, &l4, &custom, &marked, &w.Created, &w.Modified)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Description = desc.String
	w.Owner = owner.String
	w.OrgLevel1, w.OrgLevel2, w.OrgLevel3, w.OrgLevel4 = l1.String, l2.String, l3.String, l4.String
	w.MarkedForDeletion = marked != 0
	w.Custom, err = decodeStrings(custom)
	return w, err
}

func (r Repo) InsertWorkbasket(ctx context.Context, q Querier, w domain.Workbasket) error {
	_, err := q.ExecContext(ctx, `INSERT INTO workbaskets(`+workbasketColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Key, w.Domain, w.Name, nullable(w.Description), nullable(w.Owner), string(w.Type),
		nullable(w.OrgLevel1), nullable(w.OrgLevel2), nullable(w.OrgLevel3), nullable(w.OrgLevel4),
		encodeStrings(w.Custom), boolInt(w.MarkedForDeletion), w.Created, w.Modified)
	return err
}

func (r Repo) GetWorkbasket(ctx context.Context, q Querier, id string) (domain.Workbasket, error) {
	return scanWorkbasket(q.QueryRowContext(ctx, `SELECT `+workbasketColumns+` FROM workbaskets WHERE id=?`, id))
}

// GetWorkbasketByKey looks a workbasket up by key and domain, ignoring case.
func (r Repo) GetWorkbasketByKey(ctx context.Context, q Querier, key, dom string) (domain.Workbasket, error) {
	return scanWorkbasket(q.QueryRowContext(ctx, `SELECT `+workbasketColumns+` FROM workbaskets WHERE lower(key)=lower(?) AND lower(domain)=lower(?)`, key, dom))
}

func (r Repo) WorkbasketExists(ctx context.Context, q Querier, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM workbaskets WHERE id=?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateWorkbasket overwrites the mutable columns when the stored modified
// stamp still equals expectModified. It reports whether a row was written.
func (r Repo) UpdateWorkbasket(ctx context.Context, q Querier, w domain.Workbasket, expectModified string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE workbaskets SET name=?,description=?,owner=?,type=?,org_level_1=?,org_level_2=?,org_level_3=?,org_level_4=?,custom_json=?,modified=? WHERE id=? AND modified=?`,
		w.Name, nullable(w.Description), nullable(w.Owner), string(w.Type),
		nullable(w.OrgLevel1), nullable(w.OrgLevel2), nullable(w.OrgLevel3), nullable(w.OrgLevel4),
		encodeStrings(w.Custom), w.Modified, w.ID, expectModified)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) MarkWorkbasketForDeletion(ctx context.Context, q Querier, id, modified string) error {
	_, err := q.ExecContext(ctx, `UPDATE workbaskets SET marked_for_deletion=1, modified=? WHERE id=?`, modified, id)
	return err
}

func (r Repo) DeleteWorkbasket(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM workbaskets WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksInWorkbasket counts tasks referencing the workbasket in any state.
func (r Repo) CountTasksInWorkbasket(ctx context.Context, q Querier, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE workbasket_id=?`, id).Scan(&n)
	return n, err
}

// WorkbasketFilters narrows ListWorkbaskets.
type WorkbasketFilters struct {
	IDs      []string
	Domain   string
	Type     domain.WorkbasketType
	Key      string
	NameLike string
	Marked   *bool

	// VisibleTo restricts results to workbaskets where the access ids hold
	// every bit of Required. Ignored when empty.
	VisibleTo []string
	Required  domain.Permission
	Page      Page
}

func (r Repo) ListWorkbaskets(ctx context.Context, q Querier, f WorkbasketFilters) ([]domain.Workbasket, error) {
	clauses := []string{"1=1"}
	var args []any
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(f.IDs))+")")
		args = append(args, stringArgs(f.IDs)...)
	}
	if f.Domain != "" {
		clauses = append(clauses, "lower(domain)=lower(?)")
		args = append(args, f.Domain)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, string(f.Type))
	}
	if f.Key != "" {
		clauses = append(clauses, "lower(key)=lower(?)")
		args = append(args, f.Key)
	}
	if f.NameLike != "" {
		clauses = append(clauses, "lower(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.NameLike)+"%")
	}
	if f.Marked != nil {
		clauses = append(clauses, "marked_for_deletion=?")
		args = append(args, boolInt(*f.Marked))
	}
	if len(f.VisibleTo) > 0 {
		clause, vargs := visibilityClause("workbaskets.id", f.VisibleTo, f.Required)
		clauses = append(clauses, clause)
		args = append(args, vargs...)
	}
	if c, cargs := f.Page.clause("created", "id"); c != "" {
		clauses = append(clauses, c)
		args = append(args, cargs...)
	}
	query := fmt.Sprintf(`SELECT %s FROM workbaskets WHERE %s ORDER BY created DESC, id DESC LIMIT ?`, workbasketColumns, strings.Join(clauses, " AND "))
	args = append(args, f.Page.limit())
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workbasket
	for rows.Next() {
		w, err := scanWorkbasket(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// visibilityClause requires, for each bit of required, an access row of one
// of accessIDs on the workbasket column carrying that bit. Bits may come from
// different rows, matching how evaluation unions grants.
func visibilityClause(wbCol string, accessIDs []string, required domain.Permission) (string, []any) {
	if required == 0 {
		required = domain.PermRead
	}
	var parts []string
	var args []any
	for bit := domain.Permission(1); bit <= domain.PermAll; bit <<= 1 {
		if required&bit == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf(`EXISTS (SELECT 1 FROM access_items ai WHERE ai.workbasket_id=%s AND ai.access_id IN (%s) AND (ai.permissions & ?) != 0)`,
			wbCol, placeholders(len(accessIDs))))
		args = append(args, stringArgs(accessIDs)...)
		args = append(args, int64(bit))
	}
	return "(" + strings.Join(parts, " AND ") + ")", args
}

// ListMarkedWorkbasketIDs returns ids of workbaskets pending deletion.
func (r Repo) ListMarkedWorkbasketIDs(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM workbaskets WHERE marked_for_deletion=1 ORDER BY id`)
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
