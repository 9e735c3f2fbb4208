// Package wizard assembles the staff view of one snapshot: the client, its
// tradelines, the latest audit and the client's recent disputes.
package wizard

import (
	"context"

	"golang.org/x/sync/errgroup"

	"creditflow/access"
	"creditflow/audit"
	"creditflow/client"
	"creditflow/dispute"
	"creditflow/report"
)

const recentDisputes = 10

type SnapshotSource interface {
	GetSnapshot(ctx context.Context, snapshotID string) (report.Snapshot, error)
	ListTradelines(ctx context.Context, snapshotID string) ([]report.Tradeline, error)
}

type ClientSource interface {
	Get(ctx context.Context, clientID string) (client.Client, error)
}

type AuditSource interface {
	Latest(ctx context.Context, snapshotID string) (audit.Latest, error)
}

type DisputeSource interface {
	ListForClient(ctx context.Context, clientID string, limit int) ([]dispute.Dispute, error)
}

// Overview is the snapshot page payload. LatestAudit is nil before the
// first audit run.
type Overview struct {
	Snapshot    report.Snapshot
	Client      client.Client
	Tradelines  []report.Tradeline
	LatestAudit *audit.Latest
	Disputes    []dispute.Dispute
}

type Service struct {
	snapshots SnapshotSource
	clients   ClientSource
	audits    AuditSource
	disputes  DisputeSource
	access    access.Authorizer
}

func NewService(snapshots SnapshotSource, clients ClientSource, audits AuditSource, disputes DisputeSource, authz access.Authorizer) *Service {
	return &Service{
		snapshots: snapshots,
		clients:   clients,
		audits:    audits,
		disputes:  disputes,
		access:    authz,
	}
}

func (s *Service) Snapshot(ctx context.Context, actor access.Actor, snapshotID string) (Overview, error) {
	snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return Overview{}, err
	}
	if err := s.access.Require(ctx, actor, snap.ClientID); err != nil {
		return Overview{}, err
	}

	out := Overview{Snapshot: snap}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Client, err = s.clients.Get(gctx, snap.ClientID)
		return err
	})
	g.Go(func() (err error) {
		out.Tradelines, err = s.snapshots.ListTradelines(gctx, snapshotID)
		return err
	})
	g.Go(func() error {
		latest, err := s.audits.Latest(gctx, snapshotID)
		if err != nil {
			return err
		}
		if latest.Run != nil {
			out.LatestAudit = &latest
		}
		return nil
	})
	g.Go(func() (err error) {
		out.Disputes, err = s.disputes.ListForClient(gctx, snap.ClientID, recentDisputes)
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}
