package repo

import (
	"context"
	"database/sql"

	"queueline/internal/domain"
)

const commentColumns = `id,task_id,text_field,creator,created,modified`

func scanComment(row rowScanner) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(&c.ID, &c.TaskID, &c.Text, &c.Creator, &c.Created, &c.Modified)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, q Querier, c domain.Comment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_comments(`+commentColumns+`) VALUES (?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.Text, c.Creator, c.Created, c.Modified)
	return err
}

func (r Repo) GetComment(ctx context.Context, q Querier, id string) (domain.Comment, error) {
	return scanComment(q.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM task_comments WHERE id=?`, id))
}

func (r Repo) UpdateComment(ctx context.Context, q Querier, c domain.Comment, expectModified string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE task_comments SET text_field=?, modified=? WHERE id=? AND modified=?`, c.Text, c.Modified, c.ID, expectModified)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) DeleteComment(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM task_comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListComments returns the comments of one task, oldest first.
func (r Repo) ListComments(ctx context.Context, q Querier, taskID string) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+commentColumns+` FROM task_comments WHERE task_id=? ORDER BY created, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountComments(ctx context.Context, q Querier, taskID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_comments WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}
