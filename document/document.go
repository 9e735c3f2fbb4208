// Package document stores files uploaded for a client.
package document

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/db"
	"creditflow/storage"
)

const (
	DefaultType = "OTHER"
	DownloadTTL = 600 * time.Second
)

var (
	ErrNotFound   = errors.New("document: not found")
	ErrValidation = errors.New("document: validation failed")
)

// Document mirrors the documents table.
type Document struct {
	ID         string
	ClientID   string
	Type       string
	Filename   string
	StorageKey string
	CreatedAt  time.Time
}

// Upload is one received file.
type Upload struct {
	Type     string
	Filename string
	MimeType string
	Data     []byte
}

// Repository persists document records.
type Repository interface {
	Create(ctx context.Context, q db.Querier, d Document) (Document, error)
	ListForClient(ctx context.Context, clientID string) ([]Document, error)
	Get(ctx context.Context, clientID, documentID string) (Document, error)
}

// Service handles uploads and downloads of client documents.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	store    storage.Store
	access   access.Authorizer
	activity activity.Writer
	now      func() time.Time
	linkTTL  time.Duration
}

func NewService(pool db.TxBeginner, repo Repository, store storage.Store, authz access.Authorizer, log activity.Writer) *Service {
	return &Service{pool: pool, repo: repo, store: store, access: authz, activity: log, now: time.Now, linkTTL: DownloadTTL}
}

func (s *Service) WithDownloadTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.linkTTL = ttl
	}
	return s
}

// WithClock overrides the time source used for storage keys.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Upload stores the file under the client and logs DOC_UPLOADED.
func (s *Service) Upload(ctx context.Context, actor access.Actor, clientID string, up Upload) (Document, error) {
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return Document{}, err
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(up.Filename), `\`, "/"))
	if len(up.Data) == 0 || name == "" || name == "." || name == "/" {
		return Document{}, fmt.Errorf("%w: no file uploaded", ErrValidation)
	}
	docType := strings.TrimSpace(up.Type)
	if docType == "" {
		docType = DefaultType
	}
	mime := up.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}

	key := fmt.Sprintf("clients/%s/documents/%d-%s", clientID, s.now().UnixMilli(), name)
	obj, err := s.store.Put(ctx, key, up.Data, mime)
	if err != nil {
		return Document{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := s.repo.Create(ctx, tx, Document{ClientID: clientID, Type: docType, Filename: name, StorageKey: obj.Key})
	if err != nil {
		return Document{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(clientID),
		Action:   activity.ActionDocUploaded,
		Detail:   fmt.Sprintf("%s: %s", doc.Type, doc.Filename),
	}); err != nil {
		return Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("document: commit tx: %w", err)
	}
	return doc, nil
}

// List returns the client's documents, newest first.
func (s *Service) List(ctx context.Context, actor access.Actor, clientID string) ([]Document, error) {
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListForClient(ctx, clientID)
}

// DownloadURL returns a short-lived link to a document of the client.
func (s *Service) DownloadURL(ctx context.Context, actor access.Actor, clientID, documentID string) (string, error) {
	if err := s.access.Require(ctx, actor, clientID); err != nil {
		return "", err
	}
	doc, err := s.repo.Get(ctx, clientID, documentID)
	if err != nil {
		return "", err
	}
	return s.store.SignedURL(ctx, doc.StorageKey, s.linkTTL)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, q db.Querier, d Document) (Document, error) {
	const insertSQL = `
		INSERT INTO documents (client_id, type, filename, storage_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, client_id, type, filename, storage_key, created_at
	`
	var out Document
	if err := q.QueryRow(ctx, insertSQL, d.ClientID, d.Type, d.Filename, d.StorageKey).
		Scan(&out.ID, &out.ClientID, &out.Type, &out.Filename, &out.StorageKey, &out.CreatedAt); err != nil {
		if db.IsForeignKeyViolation(err) {
			return Document{}, fmt.Errorf("%w: unknown client %s", ErrValidation, d.ClientID)
		}
		return Document{}, fmt.Errorf("document: create: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListForClient(ctx context.Context, clientID string) ([]Document, error) {
	const query = `
		SELECT id, client_id, type, filename, storage_key, created_at
		FROM documents
		WHERE client_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("document: list: %w", err)
	}
	defer rows.Close()

	out := make([]Document, 0, 8)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ClientID, &d.Type, &d.Filename, &d.StorageKey, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("document: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, clientID, documentID string) (Document, error) {
	if !db.ValidID(clientID) || !db.ValidID(documentID) {
		return Document{}, ErrNotFound
	}
	const query = `
		SELECT id, client_id, type, filename, storage_key, created_at
		FROM documents
		WHERE id = $1 AND client_id = $2
	`
	var d Document
	if err := r.pool.QueryRow(ctx, query, documentID, clientID).
		Scan(&d.ID, &d.ClientID, &d.Type, &d.Filename, &d.StorageKey, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("document: get: %w", err)
	}
	return d, nil
}
