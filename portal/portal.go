// Package portal serves the client-facing view of a case: dashboard,
// progress and downloads, always scoped to the caller's linked client.
package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"creditflow/access"
	"creditflow/audit"
	"creditflow/auth"
	"creditflow/dispute"
	"creditflow/document"
	"creditflow/letter"
	"creditflow/report"
	"creditflow/storage"
)

const (
	DownloadTTL = 600 * time.Second

	dashboardDisputes  = 20
	dashboardDocuments = 50
	milestoneWeight    = 20

	DocTypeID           = "ID"
	DocTypeProofAddress = "POA"
)

// ErrNoLink is returned for a CLIENT user without a portal link.
var ErrNoLink = errors.New("portal: no client link")

type LinkResolver interface {
	PortalClientID(ctx context.Context, userID string) (string, error)
}

type SnapshotSource interface {
	LatestSnapshot(ctx context.Context, clientID string) (report.Snapshot, error)
}

type AuditSource interface {
	Latest(ctx context.Context, snapshotID string) (audit.Latest, error)
}

type DisputeSource interface {
	ListForClient(ctx context.Context, clientID string, limit int) ([]dispute.Dispute, error)
}

type DocumentSource interface {
	ListForClient(ctx context.Context, clientID string) ([]document.Document, error)
	Get(ctx context.Context, clientID, documentID string) (document.Document, error)
}

type LetterSource interface {
	Get(ctx context.Context, letterID string) (letter.Stored, error)
}

// SnapshotView is the newest snapshot with its newest audit, if any.
type SnapshotView struct {
	report.Snapshot
	LatestAudit *audit.Latest
}

// Dashboard is everything the portal home page shows.
type Dashboard struct {
	ClientID       string
	LatestSnapshot *SnapshotView
	Disputes       []dispute.Dispute
	Documents      []document.Document
}

// Progress scores five milestones at 20% each.
type Progress struct {
	Percent   int
	NextSteps []string
}

type Service struct {
	links     LinkResolver
	snapshots SnapshotSource
	audits    AuditSource
	disputes  DisputeSource
	documents DocumentSource
	letters   LetterSource
	store     storage.Store
	linkTTL   time.Duration
}

func NewService(links LinkResolver, snapshots SnapshotSource, audits AuditSource, disputes DisputeSource, documents DocumentSource, letters LetterSource, store storage.Store) *Service {
	return &Service{
		links:     links,
		snapshots: snapshots,
		audits:    audits,
		disputes:  disputes,
		documents: documents,
		letters:   letters,
		store:     store,
		linkTTL:   DownloadTTL,
	}
}

// WithDownloadTTL sets the lifetime of portal download links.
func (s *Service) WithDownloadTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.linkTTL = ttl
	}
	return s
}

// ClientID resolves the client a CLIENT actor is linked to.
func (s *Service) ClientID(ctx context.Context, actor access.Actor) (string, error) {
	if actor.Role != auth.RoleClient {
		return "", access.ErrForbidden
	}
	clientID, err := s.links.PortalClientID(ctx, actor.UserID)
	if err != nil {
		return "", fmt.Errorf("portal: resolve link: %w", err)
	}
	if clientID == "" {
		return "", ErrNoLink
	}
	return clientID, nil
}

func (s *Service) Dashboard(ctx context.Context, actor access.Actor) (Dashboard, error) {
	clientID, err := s.ClientID(ctx, actor)
	if err != nil {
		return Dashboard{}, err
	}

	out := Dashboard{ClientID: clientID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		view, err := s.latestSnapshot(gctx, clientID)
		out.LatestSnapshot = view
		return err
	})
	g.Go(func() error {
		disputes, err := s.disputes.ListForClient(gctx, clientID, dashboardDisputes)
		out.Disputes = disputes
		return err
	})
	g.Go(func() error {
		docs, err := s.documents.ListForClient(gctx, clientID)
		if len(docs) > dashboardDocuments {
			docs = docs[:dashboardDocuments]
		}
		out.Documents = docs
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

func (s *Service) latestSnapshot(ctx context.Context, clientID string) (*SnapshotView, error) {
	snap, err := s.snapshots.LatestSnapshot(ctx, clientID)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	latest, err := s.audits.Latest(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	view := &SnapshotView{Snapshot: snap}
	if latest.Run != nil {
		view.LatestAudit = &latest
	}
	return view, nil
}

// Progress checks ID and proof of address uploads, a snapshot, an audit of
// the newest snapshot and a letter on the newest dispute.
func (s *Service) Progress(ctx context.Context, actor access.Actor) (Progress, error) {
	clientID, err := s.ClientID(ctx, actor)
	if err != nil {
		return Progress{}, err
	}

	var (
		docs     []document.Document
		view     *SnapshotView
		disputes []dispute.Dispute
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		docs, err = s.documents.ListForClient(gctx, clientID)
		return err
	})
	g.Go(func() (err error) {
		view, err = s.latestSnapshot(gctx, clientID)
		return err
	})
	g.Go(func() (err error) {
		disputes, err = s.disputes.ListForClient(gctx, clientID, 1)
		return err
	})
	if err := g.Wait(); err != nil {
		return Progress{}, err
	}

	var hasID, hasPOA bool
	for _, d := range docs {
		switch d.Type {
		case DocTypeID:
			hasID = true
		case DocTypeProofAddress:
			hasPOA = true
		}
	}
	hasSnapshot := view != nil
	hasAudit := hasSnapshot && view.LatestAudit != nil
	hasLetter := len(disputes) > 0 && len(disputes[0].Letters) > 0

	return Score(hasID, hasPOA, hasSnapshot, hasAudit, hasLetter), nil
}

// Score turns milestone flags into a percentage and the steps still open.
func Score(hasID, hasPOA, hasSnapshot, hasAudit, hasLetter bool) Progress {
	p := Progress{NextSteps: []string{}}
	for _, done := range []bool{hasID, hasPOA, hasSnapshot, hasAudit, hasLetter} {
		if done {
			p.Percent += milestoneWeight
		}
	}
	if !hasID {
		p.NextSteps = append(p.NextSteps, "Upload your ID")
	}
	if !hasPOA {
		p.NextSteps = append(p.NextSteps, "Upload your proof of address")
	}
	if !hasSnapshot {
		p.NextSteps = append(p.NextSteps, "We need your credit report added")
	}
	if hasSnapshot && !hasAudit {
		p.NextSteps = append(p.NextSteps, "Audit is pending")
	}
	if hasAudit && !hasLetter {
		p.NextSteps = append(p.NextSteps, "Dispute letter is being prepared")
	}
	return p
}

// LetterDownloadURL signs a link to one of the caller's letters. A letter of
// another client reads as not found.
func (s *Service) LetterDownloadURL(ctx context.Context, actor access.Actor, letterID string) (string, error) {
	clientID, err := s.ClientID(ctx, actor)
	if err != nil {
		return "", err
	}
	l, err := s.letters.Get(ctx, letterID)
	if err != nil {
		return "", err
	}
	if l.ClientID != clientID {
		return "", letter.ErrNotFound
	}
	return s.store.SignedURL(ctx, l.PDFKey, s.linkTTL)
}

func (s *Service) DocumentDownloadURL(ctx context.Context, actor access.Actor, documentID string) (string, error) {
	clientID, err := s.ClientID(ctx, actor)
	if err != nil {
		return "", err
	}
	d, err := s.documents.Get(ctx, clientID, documentID)
	if err != nil {
		return "", err
	}
	return s.store.SignedURL(ctx, d.StorageKey, s.linkTTL)
}
