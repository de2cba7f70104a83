package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"queueline/internal/domain"
)

const classificationColumns = `id,key,domain,category,type,name,description,priority,service_level,created,modified`

func scanClassification(row rowScanner) (domain.Classification, error) {
	var c domain.Classification
	var category, typ, name, desc, sl sql.NullString
	err := row.Scan(&c.ID, &c.Key, &c.Domain, &category, &typ, &name, &desc, &c.Priority, &sl, &c.Created, &c.Modified)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.Category, c.Type, c.Name, c.Description, c.ServiceLevel = category.String, typ.String, name.String, desc.String, sl.String
	return c, err
}

func (r Repo) InsertClassification(ctx context.Context, q Querier, c domain.Classification) error {
	_, err := q.ExecContext(ctx, `INSERT INTO classifications(`+classificationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Key, c.Domain, nullable(c.Category), nullable(c.Type), nullable(c.Name), nullable(c.Description),
		c.Priority, nullable(c.ServiceLevel), c.Created, c.Modified)
	return err
}

func (r Repo) GetClassification(ctx context.Context, q Querier, id string) (domain.Classification, error) {
	return scanClassification(q.QueryRowContext(ctx, `SELECT `+classificationColumns+` FROM classifications WHERE id=?`, id))
}

func (r Repo) GetClassificationByKey(ctx context.Context, q Querier, key, dom string) (domain.Classification, error) {
	return scanClassification(q.QueryRowContext(ctx, `SELECT `+classificationColumns+` FROM classifications WHERE lower(key)=lower(?) AND lower(domain)=lower(?)`, key, dom))
}

func (r Repo) UpdateClassification(ctx context.Context, q Querier, c domain.Classification, expectModified string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE classifications SET category=?,type=?,name=?,description=?,priority=?,service_level=?,modified=? WHERE id=? AND modified=?`,
		nullable(c.Category), nullable(c.Type), nullable(c.Name), nullable(c.Description), c.Priority, nullable(c.ServiceLevel),
		c.Modified, c.ID, expectModified)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) DeleteClassification(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM classifications WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountClassificationReferences counts tasks and attachments using the classification.
func (r Repo) CountClassificationReferences(ctx context.Context, q Querier, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM tasks WHERE classification_id=?) + (SELECT COUNT(*) FROM attachments WHERE classification_id=?)`, id, id).Scan(&n)
	return n, err
}

type ClassificationFilters struct {
	Domain   string
	Category string
	Keys     []string
}

func (r Repo) ListClassifications(ctx context.Context, q Querier, f ClassificationFilters) ([]domain.Classification, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Domain != "" {
		clauses = append(clauses, "lower(domain)=lower(?)")
		args = append(args, f.Domain)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if len(f.Keys) > 0 {
		clauses = append(clauses, "key IN ("+placeholders(len(f.Keys))+")")
		args = append(args, stringArgs(f.Keys)...)
	}
	query := fmt.Sprintf(`SELECT %s FROM classifications WHERE %s ORDER BY domain, key`, classificationColumns, strings.Join(clauses, " AND "))
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Classification
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
