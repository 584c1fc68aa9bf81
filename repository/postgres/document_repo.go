package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/filter"
	"github.com/fastygo/opendatahub/repository"
)

// DB is the subset of pgxpool.Pool the repositories use.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type documentRepository struct {
	db DB
}

// NewDocumentRepository returns a Postgres-backed store of jsonb documents.
func NewDocumentRepository(db DB) repository.DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Find(ctx context.Context, q repository.DocumentQuery) (*repository.DocumentPage, error) {
	countSQL, countArgs := selectDocuments(q.Table, q.Where, "count(*)").Build()

	var total int64
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, err
	}

	page := &repository.DocumentPage{Total: total, Items: []repository.StoredDocument{}}
	if total == 0 || int64(q.Offset) >= total {
		return page, nil
	}

	sb := selectDocuments(q.Table, q.Where, "id", "data")
	if q.Order != nil {
		sb.OrderBy(q.Order.SQL(sb))
	}
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}
	if q.Offset > 0 {
		sb.Offset(q.Offset)
	}
	query, args := sb.Build()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *doc)
	}
	return page, rows.Err()
}

func (r *documentRepository) FindIDs(ctx context.Context, q repository.DocumentQuery) ([]string, error) {
	sb := selectDocuments(q.Table, q.Where, "id")
	if q.Order != nil {
		sb.OrderBy(q.Order.SQL(sb))
	}
	query, args := sb.Build()
	return r.queryIDs(ctx, query, args)
}

func (r *documentRepository) ListIDs(ctx context.Context, table string, where filter.Predicate) ([]string, error) {
	query, args := selectDocuments(table, where, "id").Build()
	return r.queryIDs(ctx, query, args)
}

func (r *documentRepository) queryIDs(ctx context.Context, query string, args []interface{}) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *documentRepository) Get(ctx context.Context, table, id string, where filter.Predicate) (*repository.StoredDocument, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "data").From(quoteTable(table))
	sb.Where(sb.Equal("id", id))
	if where != nil {
		sb.Where(where.SQL(sb))
	}
	query, args := sb.Build()

	return scanDocument(r.db.QueryRow(ctx, query, args...))
}

func (r *documentRepository) GetMany(ctx context.Context, table string, ids []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s WHERE id = ANY($1)`, quoteTable(table))
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc.Data
	}
	return out, rows.Err()
}

// Write upserts the document and appends the audit rows in one transaction.
func (r *documentRepository) Write(ctx context.Context, w repository.DocumentWrite) error {
	if w.ID == "" || len(w.Data) == 0 {
		return domain.ErrInvalidPayload
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := writeDocument(ctx, tx, w); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func writeDocument(ctx context.Context, tx pgx.Tx, w repository.DocumentWrite) error {
	upsert := fmt.Sprintf(`
	INSERT INTO %s (id, data)
	VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data
	`, quoteTable(w.Table))
	if _, err := tx.Exec(ctx, upsert, w.ID, w.Data); err != nil {
		return err
	}

	if w.Raw != nil {
		const insertRaw = `
		INSERT INTO rawdata (type, datasource, sourceinterface, sourceid, sourceurl, importdate, license, rawformat, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
		`
		raw := w.Raw
		if err := tx.QueryRow(ctx, insertRaw,
			raw.Type,
			raw.Datasource,
			raw.SourceInterface,
			raw.SourceID,
			raw.SourceURL,
			raw.ImportDate,
			raw.License,
			raw.RawFormat,
			string(raw.Raw),
		).Scan(&raw.ID); err != nil {
			return err
		}
	}

	if w.Change != nil {
		const insertChange = `
		INSERT INTO rawchanges (type, datasource, sourceid, editsource, editedby, date, license, changes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		c := w.Change
		if _, err := tx.Exec(ctx, insertChange,
			c.Type,
			c.Datasource,
			c.SourceID,
			c.EditSource,
			c.EditedBy,
			c.Date,
			c.License,
			c.Changes,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *documentRepository) Delete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteTable(table))
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func selectDocuments(table string, where filter.Predicate, cols ...string) *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cols...).From(quoteTable(table))
	if where != nil {
		sb.Where(where.SQL(sb))
	}
	return sb
}

func scanDocument(row interface {
	Scan(dest ...interface{}) error
}) (*repository.StoredDocument, error) {
	var doc repository.StoredDocument
	if err := row.Scan(&doc.ID, &doc.Data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func quoteTable(table string) string {
	return pgx.Identifier{table}.Sanitize()
}
