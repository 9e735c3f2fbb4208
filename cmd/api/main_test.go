package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/access"
	"creditflow/activity"
	"creditflow/auth"
	"creditflow/config"
	"creditflow/db/dbtest"
	"creditflow/dispute"
	"creditflow/document"
	"creditflow/letter"
	"creditflow/portal"
	"creditflow/providerjob"
	"creditflow/report"
	"creditflow/task"
)

const (
	staffToken  = "staff-token"
	clientToken = "client-token"
)

type stubAuth struct {
	loginResult auth.LoginResult
	loginErr    error
	setErr      error
}

func (s *stubAuth) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuth) SetPasswordFromInvite(context.Context, auth.SetPasswordRequest) error {
	return s.setErr
}

func (s *stubAuth) VerifyToken(token string) (string, auth.Role, error) {
	switch token {
	case staffToken:
		return "staff-1", auth.RoleStaff, nil
	case clientToken:
		return "user-c", auth.RoleClient, nil
	}
	return "", "", errors.New("bad token")
}

type stubDisputes struct {
	gotActor  access.Actor
	createReq dispute.CreateRequest
	createRes dispute.CreateResult
	updateReq dispute.UpdateStatusRequest
	record    dispute.Dispute
	err       error
}

func (s *stubDisputes) Create(_ context.Context, actor access.Actor, req dispute.CreateRequest) (dispute.CreateResult, error) {
	s.gotActor, s.createReq = actor, req
	return s.createRes, s.err
}

func (s *stubDisputes) UpdateStatus(_ context.Context, actor access.Actor, _ string, req dispute.UpdateStatusRequest) (dispute.Dispute, error) {
	s.gotActor, s.updateReq = actor, req
	return s.record, s.err
}

func (s *stubDisputes) Get(_ context.Context, actor access.Actor, _ string) (dispute.Dispute, error) {
	s.gotActor = actor
	return s.record, s.err
}

func (s *stubDisputes) ListForClient(context.Context, access.Actor, string) ([]dispute.Dispute, error) {
	return []dispute.Dispute{s.record}, s.err
}

type stubPortal struct {
	progress portal.Progress
	err      error
}

func (s *stubPortal) Dashboard(_ context.Context, actor access.Actor) (portal.Dashboard, error) {
	return portal.Dashboard{ClientID: "client-1"}, s.err
}

func (s *stubPortal) Progress(context.Context, access.Actor) (portal.Progress, error) {
	return s.progress, s.err
}

func (s *stubPortal) LetterDownloadURL(context.Context, access.Actor, string) (string, error) {
	return "https://files/letter.pdf", s.err
}

func (s *stubPortal) DocumentDownloadURL(context.Context, access.Actor, string) (string, error) {
	return "https://files/doc.png", s.err
}

type stubDocuments struct {
	upload document.Upload
	client string
}

func (s *stubDocuments) Upload(_ context.Context, _ access.Actor, clientID string, up document.Upload) (document.Document, error) {
	s.client, s.upload = clientID, up
	return document.Document{ID: "doc-1", ClientID: clientID, Type: up.Type, Filename: up.Filename}, nil
}

func (s *stubDocuments) List(context.Context, access.Actor, string) ([]document.Document, error) {
	return nil, nil
}

func (s *stubDocuments) DownloadURL(context.Context, access.Actor, string, string) (string, error) {
	return "", document.ErrNotFound
}

type stubImports struct {
	req providerjob.ImportRequest
	err error
}

func (s *stubImports) Enqueue(_ context.Context, _ access.Actor, req providerjob.ImportRequest) (providerjob.EnqueueResult, error) {
	s.req = req
	return providerjob.EnqueueResult{EventID: "ev-1", JobID: "job-1"}, s.err
}

func newTestServer(svc Services) *Server {
	if svc.Auth == nil {
		svc.Auth = &stubAuth{}
	}
	return NewServer(config.HTTPConfig{Addr: ":0", MaxUploadBytes: 1 << 20}, svc, nil)
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(Services{}), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(Services{Disputes: &stubDisputes{}})

	rec := do(t, s, http.MethodGet, "/api/disputes/d-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/disputes/d-1", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", decodeError(t, rec))

	rec = do(t, s, http.MethodGet, "/api/disputes/d-1", clientToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/disputes/d-1", staffToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication_RealJWT(t *testing.T) {
	authSvc := auth.NewService(nil, nil, "test-secret")
	s := newTestServer(Services{Auth: authSvc, Disputes: &stubDisputes{}})

	sign := func(secret string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  "staff-9",
			"role": "STAFF",
			"exp":  exp.Unix(),
		})
		out, err := tok.SignedString([]byte(secret))
		require.NoError(t, err)
		return out
	}

	rec := do(t, s, http.MethodGet, "/api/disputes/d-1", sign("test-secret", time.Now().Add(time.Hour)), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/disputes/d-1", sign("other-secret", time.Now().Add(time.Hour)), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/disputes/d-1", sign("test-secret", time.Now().Add(-time.Hour)), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	stub := &stubAuth{loginResult: auth.LoginResult{
		Token: "jwt",
		User:  auth.User{ID: "u-1", Email: "a@example.com", Role: auth.RoleAdmin},
	}}
	s := newTestServer(Services{Auth: stub})

	rec := do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "a@example.com", Password: "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "jwt", resp.AccessToken)
	assert.Equal(t, "ADMIN", resp.Role)

	stub.loginErr = auth.ErrInvalidCredentials
	rec = do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "a@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetPassword_InvalidInvite(t *testing.T) {
	s := newTestServer(Services{Auth: &stubAuth{setErr: auth.ErrInvalidInvite}})

	rec := do(t, s, http.MethodPost, "/api/auth/set-password", "", setPasswordRequest{Token: "x", Password: "longenough"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, auth.ErrInvalidInvite.Error(), decodeError(t, rec))
}

func TestCreateDispute(t *testing.T) {
	stub := &stubDisputes{createRes: dispute.CreateResult{DisputeID: "d-1", Items: 2}}
	s := newTestServer(Services{Disputes: stub})

	rec := do(t, s, http.MethodPost, "/api/disputes", staffToken, createDisputeRequest{
		ClientID: "client-1", Bureau: "EX", Round: 1, FindingIDs: []string{"f1", "f2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"disputeId":"d-1","items":2}`, rec.Body.String())
	assert.Equal(t, access.Actor{UserID: "staff-1", Role: auth.RoleStaff}, stub.gotActor)
	assert.Equal(t, []string{"f1", "f2"}, stub.createReq.FindingIDs)
}

func TestUpdateDispute(t *testing.T) {
	due := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	stub := &stubDisputes{record: dispute.Dispute{ID: "d-1", Bureau: "TU", Round: 1, Status: dispute.StatusSent, DueAt: &due}}
	s := newTestServer(Services{Disputes: stub})

	rec := do(t, s, http.MethodPatch, "/api/disputes/d-1", staffToken, map[string]string{"status": "SENT", "sentAt": "2025-04-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, stub.updateReq.SentAt)
	assert.Equal(t, "2025-04-01", stub.updateReq.SentAt.Format("2006-01-02"))

	var resp disputeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SENT", resp.Status)
	require.NotNil(t, resp.DueAt)
	assert.Equal(t, "2025-05-06T09:00:00Z", *resp.DueAt)
	assert.Empty(t, resp.Items)

	rec = do(t, s, http.MethodPatch, "/api/disputes/d-1", staffToken, map[string]string{"status": "SENT", "sentAt": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", dispute.ErrNotFound, http.StatusNotFound},
		{"forbidden", access.ErrForbidden, http.StatusForbidden},
		{"validation", dispute.ErrValidation, http.StatusBadRequest},
		{"wrapped validation", errors.Join(errors.New("ctx"), task.ErrValidation), http.StatusBadRequest},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(Services{Disputes: &stubDisputes{err: tt.err}})
			rec := do(t, s, http.MethodGet, "/api/disputes/d-1", staffToken, nil)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", decodeError(t, rec))
			}
		})
	}
}

func TestProviderImport(t *testing.T) {
	stub := &stubImports{}
	s := newTestServer(Services{Imports: stub})

	rec := do(t, s, http.MethodPost, "/api/provider-import", staffToken, providerImportRequest{ClientID: "client-1", Provider: "ACME", JSON: `{"tradelines":[]}`})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"ok":true,"jobId":"job-1","eventId":"ev-1"}`, rec.Body.String())
	assert.Equal(t, "ACME", stub.req.Provider)

	stub.err = providerjob.ErrValidation
	rec = do(t, s, http.MethodPost, "/api/provider-import", staffToken, providerImportRequest{ClientID: "client-1", JSON: "not json"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortal(t *testing.T) {
	stub := &stubPortal{progress: portal.Progress{Percent: 40, NextSteps: []string{"Audit is pending"}}}
	s := newTestServer(Services{Portal: stub})

	rec := do(t, s, http.MethodGet, "/api/portal/progress", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"percent":40,"nextSteps":["Audit is pending"]}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/portal/letters/l-1/download", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://files/letter.pdf"}`, rec.Body.String())

	stub.err = portal.ErrNoLink
	rec = do(t, s, http.MethodGet, "/api/portal/dashboard", clientToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadDocument(t *testing.T) {
	stub := &stubDocuments{}
	s := newTestServer(Services{Docs: stub})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("type", "ID"))
	fw, err := mw.CreateFormFile("file", "license.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/clients/client-1/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+clientToken)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "client-1", stub.client)
	assert.Equal(t, "ID", stub.upload.Type)
	assert.Equal(t, "license.png", stub.upload.Filename)
	assert.Equal(t, []byte("png-bytes"), stub.upload.Data)

	rec = do(t, s, http.MethodGet, "/api/clients/client-1/documents/doc-9/download", clientToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadDocument_MissingFile(t *testing.T) {
	s := newTestServer(Services{Docs: &stubDocuments{}})

	req := httptest.NewRequest(http.MethodPost, "/api/clients/client-1/documents/upload", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+staffToken)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "migrate")
	assert.Contains(t, names, "automation")

	run, _, err := root.Find([]string{"automation", "run-once"})
	require.NoError(t, err)
	assert.Equal(t, "run-once", run.Name())
}

func TestMalformedIDs(t *testing.T) {
	rec := &dbtest.Recorder{}
	checker := access.NewChecker(access.NewStore(rec))
	log := activity.NewLog(rec, checker)
	s := newTestServer(Services{
		Disputes: dispute.NewService(nil, dispute.NewRepository(rec), nil, nil, checker, log, config.DisputeConfig{}),
		Reports:  report.NewService(nil, report.NewRepository(rec), checker, log),
		Letters:  letter.NewService(nil, letter.NewRepository(rec), nil, nil, nil, nil, checker, log),
		Tasks:    task.NewService(nil, task.NewRepository(rec), checker, log),
		Activity: log,
	})

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/disputes/abc", http.StatusNotFound},
		{http.MethodPatch, "/api/disputes/abc", http.StatusNotFound},
		{http.MethodGet, "/api/reports/snapshot/abc", http.StatusNotFound},
		{http.MethodGet, "/api/letters/abc/download", http.StatusNotFound},
		{http.MethodPatch, "/api/tasks/abc/done", http.StatusNotFound},
		{http.MethodGet, "/api/disputes/client/abc", http.StatusForbidden},
		{http.MethodGet, "/api/tasks/client/abc", http.StatusForbidden},
		{http.MethodGet, "/api/activity/client/abc", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var body any
			if tt.method == http.MethodPatch && strings.HasPrefix(tt.path, "/api/disputes/") {
				body = map[string]string{"status": "SENT"}
			}
			resp := do(t, s, tt.method, tt.path, staffToken, body)
			assert.Equal(t, tt.want, resp.Code, resp.Body.String())
		})
	}
	assert.Empty(t, rec.Queries)
}

func TestRecentActivity_ScopedToCaller(t *testing.T) {
	rec := &dbtest.Recorder{}
	log := activity.NewLog(rec, access.NewChecker(access.NewStore(rec)))
	s := newTestServer(Services{Activity: log})

	resp := do(t, s, http.MethodGet, "/api/activity/recent?limit=5", staffToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())

	q := rec.LastQuery()
	assert.Contains(t, q.SQL, "client_assignments")
	assert.Equal(t, []any{5, "staff-1"}, q.Args)

	resp = do(t, s, http.MethodGet, "/api/activity/recent", clientToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}
