package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/audit"
	"creditflow/auth"
	"creditflow/automation"
	"creditflow/client"
	"creditflow/config"
	"creditflow/db"
	"creditflow/dispute"
	"creditflow/document"
	"creditflow/letter"
	"creditflow/mail"
	"creditflow/portal"
	"creditflow/providerjob"
	"creditflow/report"
	"creditflow/storage"
	"creditflow/task"
	"creditflow/wizard"
)

// app owns the pool and every service built on it.
type app struct {
	pool     *pgxpool.Pool
	services Services
	runner   *automation.Runner
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sender, err := mail.New(cfg.Mail, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("mail: %w", err)
	}

	accessStore := access.NewStore(pool)
	checker := access.NewChecker(accessStore)
	activityLog := activity.NewLog(pool, checker)

	authRepo := auth.NewRepository(pool)
	clientRepo := client.NewRepository(pool)
	reportRepo := report.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)
	taskRepo := task.NewRepository(pool)
	disputeRepo := dispute.NewRepository(pool)
	letterRepo := letter.NewRepository(pool)
	documentRepo := document.NewRepository(pool)
	jobRepo := providerjob.NewRepository(pool)

	authSvc := auth.NewService(pool, authRepo, cfg.Auth.JWTSecret).WithTTLs(cfg.Auth.TokenTTL, cfg.Auth.InviteTTL)
	auditSvc := audit.NewService(pool, auditRepo, reportRepo, checker, activityLog, logger)
	jobSvc := providerjob.NewService(pool, jobRepo, reportRepo, checker, activityLog, logger)

	services := Services{
		Auth:     authSvc,
		Clients:  client.NewService(pool, clientRepo, authSvc, sender, checker, activityLog, cfg.Mail.PortalURL, logger),
		Reports:  report.NewService(pool, reportRepo, checker, activityLog),
		Audits:   auditSvc,
		Disputes: dispute.NewService(pool, disputeRepo, auditRepo, taskRepo, checker, activityLog, cfg.Disputes),
		Letters:  letter.NewService(pool, letterRepo, disputeRepo, clientRepo, letter.PDFRenderer{}, store, checker, activityLog).WithDownloadTTL(cfg.Storage.SignedURLTTL),
		Docs:     document.NewService(pool, documentRepo, store, checker, activityLog).WithDownloadTTL(cfg.Storage.SignedURLTTL),
		Tasks:    task.NewService(pool, taskRepo, checker, activityLog),
		Activity: activityLog,
		Imports:  jobSvc,
		Wizard:   wizard.NewService(reportRepo, clientRepo, auditSvc, disputeRepo, checker),
		Portal:   portal.NewService(accessStore, reportRepo, auditSvc, disputeRepo, documentRepo, letterRepo, store).WithDownloadTTL(cfg.Storage.SignedURLTTL),
	}
	if local, ok := store.(*storage.LocalStore); ok {
		services.Files = local
	}

	runner := automation.NewRunner(pool, disputeRepo, taskRepo, automation.PGReminderLog{}, jobSvc, sender, activityLog, cfg.Automation, logger)

	return &app{pool: pool, services: services, runner: runner}, nil
}

func (a *app) Close() {
	a.pool.Close()
}
