package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"creditflow/auth"
	"creditflow/client"
	"creditflow/dispute"
	"creditflow/document"
	"creditflow/providerjob"
	"creditflow/report"
	"creditflow/task"
)

const defaultActivityLimit = 200

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// parseOptionalTime accepts RFC3339 or a bare 2006-01-02 date.
func parseOptionalTime(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *raw); err == nil {
			return &t, nil
		}
	}
	return nil, badRequest(fmt.Sprintf("%s must be an RFC3339 timestamp or YYYY-MM-DD date", field))
}

// Auth

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := s.authService.Login(c.Request().Context(), auth.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newLoginResponse(res))
}

type setPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleSetPassword(c echo.Context) error {
	var req setPasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := s.authService.SetPasswordFromInvite(c.Request().Context(), auth.SetPasswordRequest{Token: req.Token, Password: req.Password}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Clients and team

type createClientRequest struct {
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	CreatePortalUser *bool  `json:"createPortalUser"`
}

func (s *Server) handleListClients(c echo.Context) error {
	clients, err := s.clientService.ListForUser(c.Request().Context(), actorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(clients, newClientResponse))
}

func (s *Server) handleCreateClient(c echo.Context) error {
	var req createClientRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	created, err := s.clientService.Create(c.Request().Context(), actorFrom(c), client.CreateRequest{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Phone:            req.Phone,
		CreatePortalUser: req.CreatePortalUser,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newClientResponse(created))
}

type assignRequest struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
}

func (s *Server) handleAssign(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	a, err := s.clientService.Assign(c.Request().Context(), actorFrom(c), client.AssignRequest{
		ClientID: req.ClientID,
		UserID:   req.UserID,
		Role:     req.Role,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newAssignmentResponse(a))
}

func (s *Server) handleListAssignments(c echo.Context) error {
	out, err := s.clientService.ListAssignments(c.Request().Context(), actorFrom(c), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(out, newAssignmentResponse))
}

// Documents

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.documentService.List(c.Request().Context(), actorFrom(c), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(docs, newDocumentResponse))
}

func (s *Server) handleUploadDocument(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest("file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest("unreadable file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return badRequest("unreadable file")
	}

	doc, err := s.documentService.Upload(c.Request().Context(), actorFrom(c), c.Param("clientId"), document.Upload{
		Type:     c.FormValue("type"),
		Filename: fh.Filename,
		MimeType: fh.Header.Get(echo.HeaderContentType),
		Data:     data,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newDocumentResponse(doc))
}

func (s *Server) handleDocumentDownload(c echo.Context) error {
	url, err := s.documentService.DownloadURL(c.Request().Context(), actorFrom(c), c.Param("clientId"), c.Param("docId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, urlResponse{URL: url})
}

// Reports and audits

type createSnapshotRequest struct {
	ClientID   string `json:"clientId"`
	Provider   string `json:"provider"`
	ReportType string `json:"reportType"`
}

func (s *Server) handleCreateSnapshot(c echo.Context) error {
	var req createSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	snap, err := s.reportService.CreateSnapshot(c.Request().Context(), actorFrom(c), report.CreateSnapshotRequest{
		ClientID:   req.ClientID,
		Provider:   req.Provider,
		ReportType: req.ReportType,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newSnapshotResponse(snap))
}

func (s *Server) handleListSnapshots(c echo.Context) error {
	snaps, err := s.reportService.ListSnapshots(c.Request().Context(), actorFrom(c), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(snaps, newSnapshotResponse))
}

func (s *Server) handleGetSnapshot(c echo.Context) error {
	snap, err := s.reportService.GetSnapshot(c.Request().Context(), actorFrom(c), c.Param("snapshotId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSnapshotResponse(snap))
}

type addTradelineRequest struct {
	Furnisher     string  `json:"furnisher"`
	AccountType   string  `json:"accountType"`
	Status        string  `json:"status"`
	Bureau        *string `json:"bureau"`
	Balance       *int64  `json:"balance"`
	Limit         *int64  `json:"limit"`
	PaymentStatus *string `json:"paymentStatus"`
	Remarks       *string `json:"remarks"`
	OpenedDate    *string `json:"openedDate"`
}

func (s *Server) handleAddTradeline(c echo.Context) error {
	var req addTradelineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	opened, err := parseOptionalTime("openedDate", req.OpenedDate)
	if err != nil {
		return err
	}
	tl, err := s.reportService.AddTradeline(c.Request().Context(), actorFrom(c), c.Param("snapshotId"), report.TradelineInput{
		Furnisher:     req.Furnisher,
		AccountType:   req.AccountType,
		Status:        req.Status,
		Bureau:        req.Bureau,
		Balance:       req.Balance,
		Limit:         req.Limit,
		PaymentStatus: req.PaymentStatus,
		Remarks:       req.Remarks,
		OpenedDate:    opened,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newTradelineResponse(tl))
}

func (s *Server) handleListTradelines(c echo.Context) error {
	tls, err := s.reportService.ListTradelines(c.Request().Context(), actorFrom(c), c.Param("snapshotId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(tls, newTradelineResponse))
}

func (s *Server) handleRunAudit(c echo.Context) error {
	res, err := s.auditService.RunAudit(c.Request().Context(), actorFrom(c), c.Param("snapshotId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"auditRunId":    res.AuditRunID,
		"findingsCount": res.FindingsCount,
	})
}

func (s *Server) handleLatestFindings(c echo.Context) error {
	latest, err := s.auditService.LatestFindings(c.Request().Context(), actorFrom(c), c.Param("snapshotId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newAuditRunResponse(latest))
}

// Disputes and letters

type createDisputeRequest struct {
	ClientID   string   `json:"clientId"`
	Bureau     string   `json:"bureau"`
	Round      int      `json:"round"`
	FindingIDs []string `json:"findingIds"`
}

func (s *Server) handleCreateDispute(c echo.Context) error {
	var req createDisputeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := s.disputeService.Create(c.Request().Context(), actorFrom(c), dispute.CreateRequest{
		ClientID:   req.ClientID,
		Bureau:     req.Bureau,
		Round:      req.Round,
		FindingIDs: req.FindingIDs,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"disputeId": res.DisputeID,
		"items":     res.Items,
	})
}

func (s *Server) handleListDisputes(c echo.Context) error {
	out, err := s.disputeService.ListForClient(c.Request().Context(), actorFrom(c), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(out, newDisputeResponse))
}

func (s *Server) handleGetDispute(c echo.Context) error {
	d, err := s.disputeService.Get(c.Request().Context(), actorFrom(c), c.Param("disputeId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newDisputeResponse(d))
}

type updateDisputeRequest struct {
	Status string  `json:"status"`
	SentAt *string `json:"sentAt"`
}

func (s *Server) handleUpdateDispute(c echo.Context) error {
	var req updateDisputeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	sentAt, err := parseOptionalTime("sentAt", req.SentAt)
	if err != nil {
		return err
	}
	d, err := s.disputeService.UpdateStatus(c.Request().Context(), actorFrom(c), c.Param("disputeId"), dispute.UpdateStatusRequest{
		Status: req.Status,
		SentAt: sentAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newDisputeResponse(d))
}

func (s *Server) handleGenerateLetter(c echo.Context) error {
	l, err := s.letterService.Generate(c.Request().Context(), actorFrom(c), c.Param("disputeId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"letterId": l.ID})
}

func (s *Server) handleListLetters(c echo.Context) error {
	out, err := s.letterService.ListForDispute(c.Request().Context(), actorFrom(c), c.Param("disputeId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(out, newLetterResponse))
}

func (s *Server) handleLetterDownload(c echo.Context) error {
	url, err := s.letterService.DownloadURL(c.Request().Context(), actorFrom(c), c.Param("letterId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, urlResponse{URL: url})
}

// Tasks

type createTaskRequest struct {
	ClientID   string  `json:"clientId"`
	Title      string  `json:"title"`
	Notes      *string `json:"notes"`
	Type       string  `json:"type"`
	AssignedTo *string `json:"assignedTo"`
	DueAt      *string `json:"dueAt"`
}

func (s *Server) handleCreateTask(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	due, err := parseOptionalTime("dueAt", req.DueAt)
	if err != nil {
		return err
	}
	t, err := s.taskService.Create(c.Request().Context(), actorFrom(c), task.CreateRequest{
		ClientID:   req.ClientID,
		Title:      req.Title,
		Notes:      req.Notes,
		Type:       req.Type,
		AssignedTo: req.AssignedTo,
		DueAt:      due,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newTaskResponse(t))
}

func (s *Server) handleOpenTasks(c echo.Context) error {
	out, err := s.taskService.ListOpen(c.Request().Context(), actorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(out, newTaskResponse))
}

func (s *Server) handleClientTasks(c echo.Context) error {
	out, err := s.taskService.ListForClient(c.Request().Context(), actorFrom(c), c.Param("clientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(out, newTaskResponse))
}

func (s *Server) handleTaskDone(c echo.Context) error {
	t, err := s.taskService.MarkDone(c.Request().Context(), actorFrom(c), c.Param("taskId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newTaskResponse(t))
}

// Activity

func activityLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return defaultActivityLimit
	}
	return n
}

func (s *Server) handleRecentActivity(c echo.Context) error {
	out, err := s.activityService.Recent(c.Request().Context(), actorFrom(c), activityLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(out, newActivityResponse))
}

func (s *Server) handleClientActivity(c echo.Context) error {
	out, err := s.activityService.ForClient(c.Request().Context(), actorFrom(c), c.Param("clientId"), activityLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapSlice(out, newActivityResponse))
}

// Provider import and wizard

type providerImportRequest struct {
	ClientID string `json:"clientId"`
	Provider string `json:"provider"`
	JSON     string `json:"json"`
}

func (s *Server) handleProviderImport(c echo.Context) error {
	var req providerImportRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := s.importService.Enqueue(c.Request().Context(), actorFrom(c), providerjob.ImportRequest{
		ClientID: req.ClientID,
		Provider: req.Provider,
		JSON:     req.JSON,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]any{"ok": true, "jobId": res.JobID, "eventId": res.EventID})
}

func (s *Server) handleWizardSnapshot(c echo.Context) error {
	ov, err := s.wizardService.Snapshot(c.Request().Context(), actorFrom(c), c.Param("snapshotId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newWizardResponse(ov))
}

// Portal

func (s *Server) handlePortalDashboard(c echo.Context) error {
	d, err := s.portalService.Dashboard(c.Request().Context(), actorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newDashboardResponse(d))
}

func (s *Server) handlePortalProgress(c echo.Context) error {
	p, err := s.portalService.Progress(c.Request().Context(), actorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progressResponse{Percent: p.Percent, NextSteps: p.NextSteps})
}

func (s *Server) handlePortalLetterDownload(c echo.Context) error {
	url, err := s.portalService.LetterDownloadURL(c.Request().Context(), actorFrom(c), c.Param("letterId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, urlResponse{URL: url})
}

func (s *Server) handlePortalDocumentDownload(c echo.Context) error {
	url, err := s.portalService.DocumentDownloadURL(c.Request().Context(), actorFrom(c), c.Param("docId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, urlResponse{URL: url})
}
