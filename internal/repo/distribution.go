package repo

import (
	"context"
	"database/sql"

	"queueline/internal/domain"
)

// InsertEdge adds source -> target. Existing edges are left untouched.
func (r Repo) InsertEdge(ctx context.Context, q Querier, sourceID, targetID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO distribution_targets(source_id,target_id) VALUES (?,?)`, sourceID, targetID)
	return err
}

// DeleteEdge removes source -> target and reports whether it existed.
func (r Repo) DeleteEdge(ctx context.Context, q Querier, sourceID, targetID string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM distribution_targets WHERE source_id=? AND target_id=?`, sourceID, targetID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteEdgesFrom removes every outgoing edge of source.
func (r Repo) DeleteEdgesFrom(ctx context.Context, q Querier, sourceID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM distribution_targets WHERE source_id=?`, sourceID)
	return err
}

// DeleteEdgesTouching removes every edge where id is source or target.
func (r Repo) DeleteEdgesTouching(ctx context.Context, q Querier, id string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM distribution_targets WHERE source_id=? OR target_id=?`, id, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) EdgeExists(ctx context.Context, q Querier, sourceID, targetID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM distribution_targets WHERE source_id=? AND target_id=?`, sourceID, targetID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// TargetsOf lists the workbaskets source may distribute to.
func (r Repo) TargetsOf(ctx context.Context, q Querier, sourceID string) ([]domain.Workbasket, error) {
	return r.edgeQuery(ctx, q, `SELECT `+prefixed("w.", workbasketColumns)+` FROM distribution_targets d JOIN workbaskets w ON w.id=d.target_id WHERE d.source_id=? ORDER BY w.key, w.id`, sourceID)
}

// SourcesOf lists the workbaskets that may distribute to target.
func (r Repo) SourcesOf(ctx context.Context, q Querier, targetID string) ([]domain.Workbasket, error) {
	return r.edgeQuery(ctx, q, `SELECT `+prefixed("w.", workbasketColumns)+` FROM distribution_targets d JOIN workbaskets w ON w.id=d.source_id WHERE d.target_id=? ORDER BY w.key, w.id`, targetID)
}

// CountEdgesTouching counts edges where id is source or target.
func (r Repo) CountEdgesTouching(ctx context.Context, q Querier, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM distribution_targets WHERE source_id=? OR target_id=?`, id, id).Scan(&n)
	return n, err
}

func (r Repo) edgeQuery(ctx context.Context, q Querier, query string, arg string) ([]domain.Workbasket, error) {
	rows, err := q.QueryContext(ctx, query, arg)
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
