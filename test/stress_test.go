package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/auth"
	"creditflow/automation"
	"creditflow/config"
	"creditflow/dispute"
	"creditflow/mail"
	"creditflow/providerjob"
	"creditflow/report"
	"creditflow/task"
	"creditflow/test/actors"
	"creditflow/test/infra"
	"creditflow/test/oracles"
)

var (
	flDuration = flag.Duration("duration", 30*time.Second, "how long to run the stress workload")
	flSweepers = flag.Int("sweepers", 4, "number of concurrent automation runners")
	flClients  = flag.Int("clients", 6, "number of seeded clients")
	flSeed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN      = flag.String("dsn", "", "existing Postgres DSN to reuse instead of a container")
)

// TestSweepConcurrency runs several automation runners over the same
// database while imports and re-sent rounds keep arriving, and checks after
// every tick that nothing was escalated, reminded or imported twice.
func TestSweepConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test needs Postgres; skipped in -short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	pgC, dsn, err := infra.StartPostgres(ctx, *flDSN)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.OpenMigrated(ctx, dsn, pgC.Shared())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seeded := mustSeed(t, ctx, pool, *flClients)

	logger := zap.NewNop()
	checker := access.NewChecker(access.NewStore(pool))
	activityLog := activity.NewLog(pool, checker)
	disputeRepo := dispute.NewRepository(pool)
	jobSvc := providerjob.NewService(pool, providerjob.NewRepository(pool), report.NewRepository(pool), checker, activityLog, logger)
	sender := mail.NewLogSender(mail.NewComposer(config.MailConfig{}), logger)
	cfg := config.AutomationConfig{
		EnableReminders:      true,
		ReminderOffsets:      []int{7, 3, 1},
		AutoCreateNextRounds: true,
		JobBatch:             5,
	}
	admin := access.Actor{UserID: seeded.adminID, Role: auth.RoleAdmin}

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flSweepers; i++ {
		runner := automation.NewRunner(pool, disputeRepo, task.NewRepository(pool), automation.PGReminderLog{}, jobSvc, sender, activityLog, cfg, logger)
		g.Go(func() error { return actors.Sweeper(gctx, runner, stop) })
	}
	for _, clientID := range seeded.clientIDs {
		clientID := clientID
		g.Go(func() error { return actors.Importer(gctx, jobSvc, admin, clientID, stop) })
		g.Go(func() error { return actors.Resender(gctx, pool, disputeRepo, clientID, stop) })
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(gctx, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx, pool)
				t.Fatalf("oracle %s failed, first row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// One quiet pass drains what the workload left queued, then the oracles
	// must still hold on the settled state.
	final := automation.NewRunner(pool, disputeRepo, task.NewRepository(pool), automation.PGReminderLog{}, jobSvc, sender, activityLog, cfg, logger)
	if _, err := final.RunOnce(ctx); err != nil {
		t.Logf("final pass: %v", err)
	}
	if name, row, err := oracles.Run(ctx, pool); err != nil || name != "" {
		dumpRecent(t, ctx, pool)
		t.Fatalf("settled oracle %s failed: %s %v (seed=%d)", name, row, err, seed)
	}

	var rounds int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM disputes WHERE round > 1`).Scan(&rounds); err != nil {
		t.Fatalf("count rounds: %v", err)
	}
	if rounds == 0 {
		t.Fatalf("expected escalation to open follow-up rounds")
	}
}

type seedIDs struct {
	adminID   string
	clientIDs []string
}

// mustSeed creates one admin and n clients. Each client gets an overdue
// round 1 dispute per bureau and a dispute due in three days for reminders.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, n int) seedIDs {
	t.Helper()
	var s seedIDs
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, role) VALUES ($1, 'x', 'ADMIN') RETURNING id`,
		fmt.Sprintf("admin%d@example.com", rand.Int63()),
	).Scan(&s.adminID); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	for i := 0; i < n; i++ {
		var clientID string
		if err := pool.QueryRow(ctx,
			`INSERT INTO clients (first_name, last_name, email) VALUES ($1, 'Stress', $2) RETURNING id`,
			fmt.Sprintf("Client%d", i), fmt.Sprintf("client%d-%d@example.com", i, rand.Int63()),
		).Scan(&clientID); err != nil {
			t.Fatalf("seed client: %v", err)
		}
		s.clientIDs = append(s.clientIDs, clientID)

		for _, bureau := range []string{"EX", "EQ"} {
			var disputeID string
			if err := pool.QueryRow(ctx, `
				INSERT INTO disputes (client_id, bureau, round, status, sent_at, due_at)
				VALUES ($1, $2, 1, 'SENT', now() - interval '35 days', now() - interval '5 days')
				RETURNING id`, clientID, bureau,
			).Scan(&disputeID); err != nil {
				t.Fatalf("seed overdue dispute: %v", err)
			}
			if _, err := pool.Exec(ctx,
				`INSERT INTO dispute_items (dispute_id, position, reason) VALUES ($1, 0, 'Balance reported above limit')`,
				disputeID,
			); err != nil {
				t.Fatalf("seed dispute item: %v", err)
			}
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO disputes (client_id, bureau, round, status, sent_at, due_at)
			VALUES ($1, 'TU', 1, 'SENT', now() - interval '27 days', now() + interval '2 days 12 hours')`,
			clientID,
		); err != nil {
			t.Fatalf("seed reminder dispute: %v", err)
		}
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"disputes", `SELECT id, client_id, bureau, round, status, due_at FROM disputes ORDER BY created_at DESC LIMIT 50`},
		{"tasks", `SELECT id, client_id, type, dedupe_key, status FROM tasks ORDER BY created_at DESC LIMIT 50`},
		{"provider_jobs", `SELECT id, status, error, updated_at FROM provider_jobs ORDER BY updated_at DESC LIMIT 50`},
		{"activity_logs", `SELECT id, client_id, action, detail, created_at FROM activity_logs ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
