package letter

import (
	"context"
	"fmt"
	"time"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/client"
	"creditflow/db"
	"creditflow/dispute"
	"creditflow/storage"
)

// DownloadTTL is how long a letter download link stays valid unless
// overridden with WithDownloadTTL.
const DownloadTTL = 600 * time.Second

// DisputeSource loads a dispute with its items.
type DisputeSource interface {
	Get(ctx context.Context, disputeID string) (dispute.Dispute, error)
}

// ClientSource loads the client named on the letter.
type ClientSource interface {
	Get(ctx context.Context, clientID string) (client.Client, error)
}

// Service generates, lists and hands out dispute letters.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	disputes DisputeSource
	clients  ClientSource
	renderer Renderer
	store    storage.Store
	access   access.Authorizer
	activity activity.Writer
	now      func() time.Time
	linkTTL  time.Duration
}

func NewService(pool db.TxBeginner, repo Repository, disputes DisputeSource, clients ClientSource, renderer Renderer, store storage.Store, authz access.Authorizer, log activity.Writer) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		disputes: disputes,
		clients:  clients,
		renderer: renderer,
		store:    store,
		access:   authz,
		activity: log,
		now:      time.Now,
		linkTTL:  DownloadTTL,
	}
}

// WithDownloadTTL sets how long signed download links stay valid.
func (s *Service) WithDownloadTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.linkTTL = ttl
	}
	return s
}

// WithClock overrides the time source used for letter dates and keys.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// TemplateID names the letter template for a bureau and round.
func TemplateID(bureau string, round int) string {
	return fmt.Sprintf("BUREAU_%s_ROUND_%d", bureau, round)
}

// Generate renders the dispute's letter, stores the PDF and records it.
func (s *Service) Generate(ctx context.Context, actor access.Actor, disputeID string) (dispute.Letter, error) {
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return dispute.Letter{}, err
	}
	if err := s.access.Require(ctx, actor, d.ClientID); err != nil {
		return dispute.Letter{}, err
	}
	c, err := s.clients.Get(ctx, d.ClientID)
	if err != nil {
		return dispute.Letter{}, err
	}

	now := s.now()
	pdf, err := s.renderer.Render(Content{Dispute: d, ClientName: c.FullName(), Date: now})
	if err != nil {
		return dispute.Letter{}, err
	}

	key := fmt.Sprintf("clients/%s/letters/%s-%d.pdf", d.ClientID, d.ID, now.UnixMilli())
	if _, err := s.store.Put(ctx, key, pdf, "application/pdf"); err != nil {
		return dispute.Letter{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dispute.Letter{}, fmt.Errorf("letter: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.Create(ctx, tx, d.ID, TemplateID(d.Bureau, d.Round), key)
	if err != nil {
		return dispute.Letter{}, err
	}

	if err := s.activity.Append(ctx, tx, activity.Entry{
		ActorID:  actor.ActorID(),
		ClientID: activity.StringPtr(d.ClientID),
		Action:   activity.ActionLetterGenerated,
		Detail:   l.ID,
	}); err != nil {
		return dispute.Letter{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return dispute.Letter{}, fmt.Errorf("letter: commit tx: %w", err)
	}
	return l, nil
}

// ListForDispute returns the dispute's letters, newest first.
func (s *Service) ListForDispute(ctx context.Context, actor access.Actor, disputeID string) ([]dispute.Letter, error) {
	d, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.access.Require(ctx, actor, d.ClientID); err != nil {
		return nil, err
	}
	return s.repo.ListForDispute(ctx, disputeID)
}

// DownloadURL returns a short-lived link to the letter PDF.
func (s *Service) DownloadURL(ctx context.Context, actor access.Actor, letterID string) (string, error) {
	l, err := s.repo.Get(ctx, letterID)
	if err != nil {
		return "", err
	}
	if err := s.access.Require(ctx, actor, l.ClientID); err != nil {
		return "", err
	}
	return s.store.SignedURL(ctx, l.PDFKey, s.linkTTL)
}
