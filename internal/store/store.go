package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"koffey/internal/llm"
	"koffey/internal/storage"
)

// Store is the Postgres archive backend. Documents are validated with the
// same schemas as the object-store backends before they reach the database.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type ArchiveJob struct {
	ID        string
	Kind      string
	RecordKey string
	Status    string
	Error     string
	CreatedAt time.Time
}

func (s *Store) SaveConversation(ctx context.Context, rec storage.ConversationRecord) (storage.Response, error) {
	key, err := storage.ConversationKey(rec.ID())
	if err != nil {
		return failed(key, err)
	}
	doc, err := storage.EncodeConversation(rec)
	if err != nil {
		return failed(key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversations (key, opportunity_id, ts, customer_name, doc)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (key) DO UPDATE SET customer_name = EXCLUDED.customer_name, doc = EXCLUDED.doc, updated_at = now()`,
		key, rec.OpportunityID, rec.Timestamp, rec.CustomerName, doc)
	if err != nil {
		return failed(key, fmt.Errorf("save conversation: %w", err))
	}
	return storage.Response{Success: true, Key: key}, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (storage.ConversationRecord, error) {
	key, err := storage.ConversationKey(id)
	if err != nil {
		return storage.ConversationRecord{}, err
	}
	doc, err := s.document(ctx, `SELECT doc FROM conversations WHERE key = $1`, key)
	if err != nil {
		return storage.ConversationRecord{}, err
	}
	return storage.DecodeConversation(doc)
}

func (s *Store) SaveAnalysis(ctx context.Context, rec storage.AnalysisRecord) (storage.Response, error) {
	key, err := storage.AnalysisKey(rec.ID())
	if err != nil {
		return failed(key, err)
	}
	doc, err := storage.EncodeAnalysis(rec)
	if err != nil {
		return failed(key, err)
	}
	missing := fieldNames(rec.Analysis.Missing())
	_, err = s.db.ExecContext(ctx, `INSERT INTO meddpic_analyses (key, opportunity_id, ts, missing_fields, doc)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (key) DO UPDATE SET missing_fields = EXCLUDED.missing_fields, doc = EXCLUDED.doc, updated_at = now()`,
		key, rec.OpportunityID, rec.Timestamp, missing, doc)
	if err != nil {
		return failed(key, fmt.Errorf("save analysis: %w", err))
	}
	return storage.Response{Success: true, Key: key}, nil
}

func (s *Store) GetAnalysis(ctx context.Context, id string) (storage.AnalysisRecord, error) {
	key, err := storage.AnalysisKey(id)
	if err != nil {
		return storage.AnalysisRecord{}, err
	}
	doc, err := s.document(ctx, `SELECT doc FROM meddpic_analyses WHERE key = $1`, key)
	if err != nil {
		return storage.AnalysisRecord{}, err
	}
	return storage.DecodeAnalysis(doc)
}

// ListConversationIDs returns the newest conversation ids for an opportunity.
func (s *Store) ListConversationIDs(ctx context.Context, opportunityID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT opportunity_id, ts FROM conversations
		WHERE opportunity_id = $1
		ORDER BY ts DESC
		LIMIT $2`, opportunityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var opp, ts string
		if err := rows.Scan(&opp, &ts); err != nil {
			return nil, err
		}
		ids = append(ids, opp+"/"+ts)
	}
	return ids, rows.Err()
}

func (s *Store) RecordArchiveJob(ctx context.Context, job ArchiveJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO archive_jobs (id, kind, record_key, status, error) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET record_key = EXCLUDED.record_key, status = EXCLUDED.status, error = EXCLUDED.error`,
		job.ID, job.Kind, job.RecordKey, job.Status, job.Error)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *Store) ListArchiveJobs(ctx context.Context, limit int) ([]ArchiveJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id::text, kind, record_key, status, error, created_at
		FROM archive_jobs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchiveJob
	for rows.Next() {
		var j ArchiveJob
		if err := rows.Scan(&j.ID, &j.Kind, &j.RecordKey, &j.Status, &j.Error, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) document(ctx context.Context, query, key string) ([]byte, error) {
	var doc []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func failed(key string, err error) (storage.Response, error) {
	return storage.Response{Success: false, Key: key, Error: err.Error()}, err
}

func fieldNames(fields []llm.Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, string(f))
	}
	return out
}
