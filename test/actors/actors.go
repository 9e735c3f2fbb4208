// Package actors holds the concurrent workloads the stress test runs
// against one database.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"creditflow/access"
	"creditflow/automation"
	"creditflow/dispute"
	"creditflow/providerjob"
)

// StressProvider tags every import made by Importer.
const StressProvider = "STRESS"

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func jitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// Sweeper runs automation passes back to back. Phase errors caused by
// contention are tolerated; a cancelled context ends the loop.
func Sweeper(ctx context.Context, runner *automation.Runner, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if _, err := runner.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		jitter(20, 40)
	}
}

// Importer queues provider imports for clientID.
func Importer(ctx context.Context, jobs *providerjob.Service, actor access.Actor, clientID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		payload := fmt.Sprintf(`{"tradelines":[{"furnisher":"Stress Bank %d","type":"Credit Card","status":"Open","balance":%d.50}]}`, i, rand.Intn(5000))
		_, err := jobs.Enqueue(ctx, actor, providerjob.ImportRequest{
			ClientID: clientID,
			Provider: StressProvider,
			JSON:     payload,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("enqueue import: %w", err)
		}
		jitter(30, 50)
	}
}

// Resender marks DRAFT follow-up rounds for clientID as SENT with a due date
// already behind us, feeding the next escalation.
func Resender(ctx context.Context, pool *pgxpool.Pool, repo *dispute.PGRepository, clientID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		list, err := repo.ListForClient(ctx, clientID, 50)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("list disputes: %w", err)
		}
		for _, d := range list {
			if d.Status != dispute.StatusDraft {
				continue
			}
			sent := time.Now().Add(-40 * 24 * time.Hour)
			due := sent.Add(30 * 24 * time.Hour)
			if _, err := repo.UpdateStatus(ctx, pool, d.ID, dispute.StatusSent, &sent, &due); err != nil {
				if errors.Is(err, dispute.ErrNotFound) || ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("resend dispute %s: %w", d.ID, err)
			}
		}
		jitter(50, 100)
	}
}
