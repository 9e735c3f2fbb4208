package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/audit"
	"creditflow/auth"
	"creditflow/client"
	"creditflow/config"
	"creditflow/dispute"
	"creditflow/document"
	"creditflow/letter"
	"creditflow/metrics"
	"creditflow/portal"
	"creditflow/providerjob"
	"creditflow/report"
	"creditflow/storage"
	"creditflow/task"
	"creditflow/wizard"
)

const actorKey = "actor"

type authService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	SetPasswordFromInvite(ctx context.Context, req auth.SetPasswordRequest) error
	VerifyToken(token string) (string, auth.Role, error)
}

type clientService interface {
	ListForUser(ctx context.Context, actor access.Actor) ([]client.Client, error)
	Create(ctx context.Context, actor access.Actor, req client.CreateRequest) (client.Client, error)
	Assign(ctx context.Context, actor access.Actor, req client.AssignRequest) (client.Assignment, error)
	ListAssignments(ctx context.Context, actor access.Actor, clientID string) ([]client.Assignment, error)
}

type reportService interface {
	CreateSnapshot(ctx context.Context, actor access.Actor, req report.CreateSnapshotRequest) (report.Snapshot, error)
	ListSnapshots(ctx context.Context, actor access.Actor, clientID string) ([]report.Snapshot, error)
	GetSnapshot(ctx context.Context, actor access.Actor, snapshotID string) (report.Snapshot, error)
	AddTradeline(ctx context.Context, actor access.Actor, snapshotID string, in report.TradelineInput) (report.Tradeline, error)
	ListTradelines(ctx context.Context, actor access.Actor, snapshotID string) ([]report.Tradeline, error)
}

type auditService interface {
	RunAudit(ctx context.Context, actor access.Actor, snapshotID string) (audit.Result, error)
	LatestFindings(ctx context.Context, actor access.Actor, snapshotID string) (audit.Latest, error)
}

type disputeService interface {
	Create(ctx context.Context, actor access.Actor, req dispute.CreateRequest) (dispute.CreateResult, error)
	UpdateStatus(ctx context.Context, actor access.Actor, disputeID string, req dispute.UpdateStatusRequest) (dispute.Dispute, error)
	Get(ctx context.Context, actor access.Actor, disputeID string) (dispute.Dispute, error)
	ListForClient(ctx context.Context, actor access.Actor, clientID string) ([]dispute.Dispute, error)
}

type letterService interface {
	Generate(ctx context.Context, actor access.Actor, disputeID string) (dispute.Letter, error)
	ListForDispute(ctx context.Context, actor access.Actor, disputeID string) ([]dispute.Letter, error)
	DownloadURL(ctx context.Context, actor access.Actor, letterID string) (string, error)
}

type documentService interface {
	Upload(ctx context.Context, actor access.Actor, clientID string, up document.Upload) (document.Document, error)
	List(ctx context.Context, actor access.Actor, clientID string) ([]document.Document, error)
	DownloadURL(ctx context.Context, actor access.Actor, clientID, documentID string) (string, error)
}

type taskService interface {
	Create(ctx context.Context, actor access.Actor, req task.CreateRequest) (task.Task, error)
	ListOpen(ctx context.Context, actor access.Actor) ([]task.Task, error)
	ListForClient(ctx context.Context, actor access.Actor, clientID string) ([]task.Task, error)
	MarkDone(ctx context.Context, actor access.Actor, taskID string) (task.Task, error)
}

type activityService interface {
	Recent(ctx context.Context, actor access.Actor, limit int) ([]activity.Entry, error)
	ForClient(ctx context.Context, actor access.Actor, clientID string, limit int) ([]activity.Entry, error)
}

type importService interface {
	Enqueue(ctx context.Context, actor access.Actor, req providerjob.ImportRequest) (providerjob.EnqueueResult, error)
}

type wizardService interface {
	Snapshot(ctx context.Context, actor access.Actor, snapshotID string) (wizard.Overview, error)
}

type portalService interface {
	Dashboard(ctx context.Context, actor access.Actor) (portal.Dashboard, error)
	Progress(ctx context.Context, actor access.Actor) (portal.Progress, error)
	LetterDownloadURL(ctx context.Context, actor access.Actor, letterID string) (string, error)
	DocumentDownloadURL(ctx context.Context, actor access.Actor, documentID string) (string, error)
}

// Server exposes the HTTP API. Handlers only translate between JSON and the
// domain services; every rule lives in the services.
type Server struct {
	echo   *echo.Echo
	cfg    config.HTTPConfig
	logger *zap.Logger

	authService     authService
	clientService   clientService
	reportService   reportService
	auditService    auditService
	disputeService  disputeService
	letterService   letterService
	documentService documentService
	taskService     taskService
	activityService activityService
	importService   importService
	wizardService   wizardService
	portalService   portalService
	files           *storage.LocalStore
}

// Services groups the domain services the server routes to. Files is set
// only in local storage mode.
type Services struct {
	Auth     authService
	Clients  clientService
	Reports  reportService
	Audits   auditService
	Disputes disputeService
	Letters  letterService
	Docs     documentService
	Tasks    taskService
	Activity activityService
	Imports  importService
	Wizard   wizardService
	Portal   portalService
	Files    *storage.LocalStore
}

func NewServer(cfg config.HTTPConfig, svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:             cfg,
		logger:          logger,
		authService:     svc.Auth,
		clientService:   svc.Clients,
		reportService:   svc.Reports,
		auditService:    svc.Audits,
		disputeService:  svc.Disputes,
		letterService:   svc.Letters,
		documentService: svc.Docs,
		taskService:     svc.Tasks,
		activityService: svc.Activity,
		importService:   svc.Imports,
		wizardService:   svc.Wizard,
		portalService:   svc.Portal,
		files:           svc.Files,
	}
	s.echo = s.newEcho()
	return s
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(s.requestLogger)
	if s.cfg.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(s.cfg.MaxUploadBytes, 10)))
	}

	s.registerRoutes(e)
	return e
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if s.files != nil {
		e.GET("/files/*", s.handleFile)
	}

	staff := []echo.MiddlewareFunc{s.authenticate, requireRoles(auth.RoleAdmin, auth.RoleStaff)}
	anyRole := []echo.MiddlewareFunc{s.authenticate, requireRoles(auth.RoleAdmin, auth.RoleStaff, auth.RoleClient)}

	api := e.Group("/api")

	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/set-password", s.handleSetPassword)

	api.GET("/clients", s.handleListClients, staff...)
	api.POST("/clients", s.handleCreateClient, staff...)
	api.GET("/clients/:clientId/documents", s.handleListDocuments, staff...)
	api.POST("/clients/:clientId/documents/upload", s.handleUploadDocument, anyRole...)
	api.GET("/clients/:clientId/documents/:docId/download", s.handleDocumentDownload, anyRole...)

	api.GET("/team/client/:clientId", s.handleListAssignments, staff...)
	api.POST("/team/assign", s.handleAssign, staff...)

	api.GET("/reports/client/:clientId", s.handleListSnapshots, staff...)
	api.GET("/reports/snapshot/:snapshotId", s.handleGetSnapshot, staff...)
	api.POST("/reports/snapshots", s.handleCreateSnapshot, staff...)
	api.GET("/reports/:snapshotId/tradelines", s.handleListTradelines, staff...)
	api.POST("/reports/:snapshotId/tradelines", s.handleAddTradeline, staff...)
	api.POST("/reports/:snapshotId/audit", s.handleRunAudit, staff...)
	api.GET("/reports/:snapshotId/findings", s.handleLatestFindings, staff...)

	api.POST("/disputes", s.handleCreateDispute, staff...)
	api.GET("/disputes/client/:clientId", s.handleListDisputes, staff...)
	api.GET("/disputes/:disputeId", s.handleGetDispute, staff...)
	api.PATCH("/disputes/:disputeId", s.handleUpdateDispute, staff...)

	api.POST("/letters/:disputeId/generate", s.handleGenerateLetter, staff...)
	api.GET("/letters/:letterId/download", s.handleLetterDownload, staff...)
	api.GET("/letters/dispute/:disputeId", s.handleListLetters, staff...)

	api.GET("/tasks/open", s.handleOpenTasks, staff...)
	api.GET("/tasks/client/:clientId", s.handleClientTasks, staff...)
	api.POST("/tasks", s.handleCreateTask, staff...)
	api.PATCH("/tasks/:taskId/done", s.handleTaskDone, staff...)

	api.GET("/activity/recent", s.handleRecentActivity, staff...)
	api.GET("/activity/client/:clientId", s.handleClientActivity, staff...)

	api.POST("/provider-import", s.handleProviderImport, staff...)

	api.GET("/wizard/snapshot/:snapshotId", s.handleWizardSnapshot, staff...)

	api.GET("/portal/dashboard", s.handlePortalDashboard, anyRole...)
	api.GET("/portal/progress", s.handlePortalProgress, anyRole...)
	api.GET("/portal/letters/:letterId/download", s.handlePortalLetterDownload, anyRole...)
	api.GET("/portal/documents/:docId/download", s.handlePortalDocumentDownload, anyRole...)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("starting http server", zap.String("addr", s.cfg.Addr))
	if err := s.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		took := time.Since(start)

		route := c.Path()
		status := c.Response().Status
		m := metrics.Get()
		m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(c.Request().Method, route).Observe(took.Seconds())

		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", took),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

// authenticate resolves the bearer token into an access.Actor.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			s.logger.Debug("token rejected", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(actorKey, access.Actor{UserID: userID, Role: role})
		return next(c)
	}
}

func requireRoles(roles ...auth.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := actorFrom(c)
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "role not allowed")
		}
	}
}

func actorFrom(c echo.Context) access.Actor {
	actor, _ := c.Get(actorKey).(access.Actor)
	return actor
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleError writes every error as {"error": msg} with a status derived
// from the domain sentinel it wraps.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := http.StatusInternalServerError, "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	} else if code := statusFor(err); code != 0 {
		status, msg = code, err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, access.ErrForbidden), errors.Is(err, portal.ErrNoLink):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, client.ErrNotFound),
		errors.Is(err, report.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, letter.ErrNotFound),
		errors.Is(err, document.ErrNotFound),
		errors.Is(err, task.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrValidation),
		errors.Is(err, report.ErrValidation),
		errors.Is(err, dispute.ErrValidation),
		errors.Is(err, document.ErrValidation),
		errors.Is(err, task.ErrValidation),
		errors.Is(err, providerjob.ErrValidation),
		errors.Is(err, auth.ErrValidation),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidInvite),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	}
	return 0
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleFile serves objects written by the local store.
func (s *Server) handleFile(c echo.Context) error {
	key, err := storage.KeyFromURLPath(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	path, err := s.files.Path(key)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	return c.File(path)
}
