package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/blog-autopilot/internal/models"
	"github.com/blog-autopilot/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

var postColumns = []string{
	"id", "topic", "instructions", "topic_fingerprint", "stage", "title", "content",
	"word_count", "reading_minutes", "citations", "seo_meta", "thumbnail_ref",
	"scheduled_at", "published_at", "retries", "manual_retries",
	"failed_stage", "failure_kind", "failure_reason", "version",
	"created_at", "updated_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository implements storage.Store on PostgreSQL
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// New opens a connection pool and verifies it with a ping
func New(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing sql.DB
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Migrate applies the embedded schema migrations
func (r *Repository) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(r.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (r *Repository) Close() error {
	return r.db.Close()
}

// Post operations

func (r *Repository) Create(ctx context.Context, post *models.Post) error {
	now := r.now()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	post.Version = 1

	values, err := postValues(post)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("posts").Columns(postColumns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Post, error) {
	query, args, err := psql.Select(postColumns...).From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	post, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select post: %w", err)
	}
	return post, nil
}

func (r *Repository) Save(ctx context.Context, post *models.Post, expectedVersion int64) error {
	next := post.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = r.now()

	values, err := postValues(next)
	if err != nil {
		return err
	}
	update := psql.Update("posts").Where(sq.Eq{"id": post.ID, "version": expectedVersion})
	for i, col := range postColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		update = update.Set(col, values[i])
	}

	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.Get(ctx, post.ID); err != nil {
			return err
		}
		return storage.ErrVersionConflict
	}

	post.Version = next.Version
	post.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *Repository) Query(ctx context.Context, filter storage.PostFilter) ([]*models.Post, error) {
	query, args, err := buildQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]*models.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return posts, nil
}

func buildQuery(filter storage.PostFilter) sq.SelectBuilder {
	q := psql.Select(postColumns...).From("posts")

	if len(filter.Stages) > 0 {
		stages := make([]string, len(filter.Stages))
		for i, s := range filter.Stages {
			stages[i] = string(s)
		}
		q = q.Where(sq.Eq{"stage": stages})
	}
	if filter.ExcludeID != "" {
		q = q.Where(sq.NotEq{"id": filter.ExcludeID})
	}
	if filter.HasSchedule != nil {
		if *filter.HasSchedule {
			q = q.Where(sq.NotEq{"scheduled_at": nil})
		} else {
			q = q.Where(sq.Eq{"scheduled_at": nil})
		}
	}
	if filter.ScheduledBefore != nil {
		q = q.Where(sq.LtOrEq{"scheduled_at": *filter.ScheduledBefore})
	}
	if filter.ScheduledFrom != nil {
		q = q.Where(sq.GtOrEq{"scheduled_at": *filter.ScheduledFrom})
	}
	if filter.ScheduledUntil != nil {
		q = q.Where(sq.Lt{"scheduled_at": *filter.ScheduledUntil})
	}

	dir := " ASC"
	if filter.OrderDesc {
		dir = " DESC"
	}
	q = q.OrderBy(filter.OrderColumn()+dir, "id"+dir)

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

// Calendar operations

func (r *Repository) NextIndex(ctx context.Context, calendar string) (int64, error) {
	query, args, err := psql.Insert("calendar_counters").
		Columns("calendar", "next_index").
		Values(calendar, 1).
		Suffix("ON CONFLICT (calendar) DO UPDATE SET next_index = calendar_counters.next_index + 1, updated_at = NOW() RETURNING next_index - 1").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build counter upsert: %w", err)
	}

	var idx int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&idx); err != nil {
		return 0, fmt.Errorf("advance calendar counter: %w", err)
	}
	return idx, nil
}

// Fingerprint operations

func (r *Repository) HasFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM topic_records WHERE fingerprint = $1)`, fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return exists, nil
}

func (r *Repository) AddFingerprint(ctx context.Context, record *models.TopicRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO topic_records (fingerprint, topic, tokens) VALUES ($1, $2, $3)
         ON CONFLICT (fingerprint) DO NOTHING`,
		record.Fingerprint, record.Topic, pq.StringArray(record.Tokens),
	)
	if err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

func (r *Repository) ListFingerprints(ctx context.Context) ([]*models.TopicRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint, topic, tokens, created_at FROM topic_records ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var records []*models.TopicRecord
	for rows.Next() {
		var rec models.TopicRecord
		var tokens pq.StringArray
		if err := rows.Scan(&rec.Fingerprint, &rec.Topic, &tokens, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		rec.Tokens = models.StringSlice(tokens)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var p models.Post
	var scheduledAt, publishedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.Topic, &p.Instructions, &p.TopicFingerprint, &p.Stage, &p.Title, &p.Content,
		&p.WordCount, &p.ReadingMinutes, &p.Citations, &p.SEOMeta, &p.ThumbnailRef,
		&scheduledAt, &publishedAt, &p.Retries, &p.ManualRetries,
		&p.FailedStage, &p.FailureKind, &p.FailureReason, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		p.ScheduledAt = &t
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
	return &p, nil
}

// postValues returns column values in postColumns order
func postValues(p *models.Post) ([]interface{}, error) {
	citations, err := jsonText(p.Citations, p.Citations == nil, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode citations: %w", err)
	}
	seo, err := jsonText(p.SEOMeta, false, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode seo meta: %w", err)
	}
	retries, err := jsonText(p.Retries, p.Retries == nil, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode retries: %w", err)
	}

	return []interface{}{
		p.ID, p.Topic, p.Instructions, p.TopicFingerprint, string(p.Stage), p.Title, p.Content,
		p.WordCount, p.ReadingMinutes, citations, seo, p.ThumbnailRef,
		p.ScheduledAt, p.PublishedAt, retries, p.ManualRetries,
		string(p.FailedStage), string(p.FailureKind), p.FailureReason, p.Version,
		p.CreatedAt, p.UpdatedAt,
	}, nil
}

func jsonText(v driver.Valuer, empty bool, fallback string) (string, error) {
	if empty {
		return fallback, nil
	}
	val, err := v.Value()
	if err != nil {
		return "", err
	}
	b, ok := val.([]byte)
	if !ok {
		return "", fmt.Errorf("unexpected JSON value %T", val)
	}
	return string(b), nil
}

var _ storage.Store = (*Repository)(nil)
