package main

import (
	"time"

	"creditflow/activity"
	"creditflow/audit"
	"creditflow/auth"
	"creditflow/client"
	"creditflow/dispute"
	"creditflow/document"
	"creditflow/portal"
	"creditflow/report"
	"creditflow/task"
	"creditflow/wizard"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

type userResponse struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

type loginResponse struct {
	AccessToken string       `json:"accessToken"`
	Role        string       `json:"role"`
	User        userResponse `json:"user"`
}

func newLoginResponse(r auth.LoginResult) loginResponse {
	return loginResponse{
		AccessToken: r.Token,
		Role:        string(r.User.Role),
		User: userResponse{
			ID:                 r.User.ID,
			Email:              r.User.Email,
			Role:               string(r.User.Role),
			MustChangePassword: r.User.MustChangePassword,
		},
	}
}

type clientResponse struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	CreatedAt string  `json:"createdAt"`
}

func newClientResponse(c client.Client) clientResponse {
	return clientResponse{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

type assignmentResponse struct {
	ClientID  string `json:"clientId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func newAssignmentResponse(a client.Assignment) assignmentResponse {
	return assignmentResponse{
		ClientID:  a.ClientID,
		UserID:    a.UserID,
		UserEmail: a.UserEmail,
		Role:      a.Role,
		CreatedAt: formatTime(a.CreatedAt),
	}
}

type snapshotResponse struct {
	ID         string `json:"id"`
	ClientID   string `json:"clientId"`
	Provider   string `json:"provider"`
	ReportType string `json:"reportType"`
	PulledAt   string `json:"pulledAt"`
}

func newSnapshotResponse(s report.Snapshot) snapshotResponse {
	return snapshotResponse{
		ID:         s.ID,
		ClientID:   s.ClientID,
		Provider:   s.Provider,
		ReportType: s.ReportType,
		PulledAt:   formatTime(s.PulledAt),
	}
}

type tradelineResponse struct {
	ID            string  `json:"id"`
	SnapshotID    string  `json:"snapshotId"`
	Furnisher     string  `json:"furnisher"`
	AccountType   string  `json:"accountType"`
	Status        string  `json:"status"`
	Bureau        *string `json:"bureau"`
	Balance       *int64  `json:"balance"`
	Limit         *int64  `json:"limit"`
	PaymentStatus *string `json:"paymentStatus"`
	Remarks       *string `json:"remarks"`
	OpenedDate    *string `json:"openedDate"`
	CreatedAt     string  `json:"createdAt"`
}

func newTradelineResponse(t report.Tradeline) tradelineResponse {
	return tradelineResponse{
		ID:            t.ID,
		SnapshotID:    t.SnapshotID,
		Furnisher:     t.Furnisher,
		AccountType:   t.AccountType,
		Status:        t.Status,
		Bureau:        t.Bureau,
		Balance:       t.Balance,
		Limit:         t.Limit,
		PaymentStatus: t.PaymentStatus,
		Remarks:       t.Remarks,
		OpenedDate:    formatTimePtr(t.OpenedDate),
		CreatedAt:     formatTime(t.CreatedAt),
	}
}

type findingResponse struct {
	ID          string  `json:"id"`
	RuleID      string  `json:"ruleId"`
	Severity    int     `json:"severity"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	TradelineID *string `json:"tradelineId"`
}

type auditRunResponse struct {
	ID            string            `json:"id"`
	SnapshotID    string            `json:"snapshotId"`
	EngineVersion string            `json:"engineVersion"`
	CreatedAt     string            `json:"createdAt"`
	Findings      []findingResponse `json:"findings"`
}

// newAuditRunResponse returns nil when the snapshot was never audited.
func newAuditRunResponse(l audit.Latest) *auditRunResponse {
	if l.Run == nil {
		return nil
	}
	out := &auditRunResponse{
		ID:            l.Run.ID,
		SnapshotID:    l.Run.SnapshotID,
		EngineVersion: l.Run.EngineVersion,
		CreatedAt:     formatTime(l.Run.CreatedAt),
		Findings:      make([]findingResponse, len(l.Findings)),
	}
	for i, f := range l.Findings {
		out.Findings[i] = findingResponse{
			ID:          f.ID,
			RuleID:      f.RuleID,
			Severity:    f.Severity,
			Title:       f.Title,
			Description: f.Description,
			TradelineID: f.TradelineID,
		}
	}
	return out
}

type letterResponse struct {
	ID         string `json:"id"`
	DisputeID  string `json:"disputeId"`
	TemplateID string `json:"templateId"`
	PDFKey     string `json:"pdfKey"`
	CreatedAt  string `json:"createdAt"`
}

func newLetterResponse(l dispute.Letter) letterResponse {
	return letterResponse{
		ID:         l.ID,
		DisputeID:  l.DisputeID,
		TemplateID: l.TemplateID,
		PDFKey:     l.PDFKey,
		CreatedAt:  formatTime(l.CreatedAt),
	}
}

type disputeItemResponse struct {
	ID          string  `json:"id"`
	TradelineID *string `json:"tradelineId"`
	Reason      string  `json:"reason"`
}

type disputeResponse struct {
	ID        string                `json:"id"`
	ClientID  string                `json:"clientId"`
	Bureau    string                `json:"bureau"`
	Round     int                   `json:"round"`
	Status    string                `json:"status"`
	SentAt    *string               `json:"sentAt"`
	DueAt     *string               `json:"dueAt"`
	CreatedAt string                `json:"createdAt"`
	UpdatedAt string                `json:"updatedAt"`
	Items     []disputeItemResponse `json:"items"`
	Letters   []letterResponse      `json:"letters"`
}

func newDisputeResponse(d dispute.Dispute) disputeResponse {
	out := disputeResponse{
		ID:        d.ID,
		ClientID:  d.ClientID,
		Bureau:    d.Bureau,
		Round:     d.Round,
		Status:    string(d.Status),
		SentAt:    formatTimePtr(d.SentAt),
		DueAt:     formatTimePtr(d.DueAt),
		CreatedAt: formatTime(d.CreatedAt),
		UpdatedAt: formatTime(d.UpdatedAt),
		Items:     make([]disputeItemResponse, len(d.Items)),
		Letters:   make([]letterResponse, len(d.Letters)),
	}
	for i, it := range d.Items {
		out.Items[i] = disputeItemResponse{ID: it.ID, TradelineID: it.TradelineID, Reason: it.Reason}
	}
	for i, l := range d.Letters {
		out.Letters[i] = newLetterResponse(l)
	}
	return out
}

type documentResponse struct {
	ID         string `json:"id"`
	ClientID   string `json:"clientId"`
	Type       string `json:"type"`
	Filename   string `json:"filename"`
	StorageKey string `json:"storageKey"`
	CreatedAt  string `json:"createdAt"`
}

func newDocumentResponse(d document.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		ClientID:   d.ClientID,
		Type:       d.Type,
		Filename:   d.Filename,
		StorageKey: d.StorageKey,
		CreatedAt:  formatTime(d.CreatedAt),
	}
}

type taskResponse struct {
	ID         string  `json:"id"`
	ClientID   string  `json:"clientId"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Notes      *string `json:"notes"`
	Status     string  `json:"status"`
	DueAt      *string `json:"dueAt"`
	AssignedTo *string `json:"assignedTo"`
	CreatedAt  string  `json:"createdAt"`
}

func newTaskResponse(t task.Task) taskResponse {
	return taskResponse{
		ID:         t.ID,
		ClientID:   t.ClientID,
		Type:       t.Type,
		Title:      t.Title,
		Notes:      t.Notes,
		Status:     string(t.Status),
		DueAt:      formatTimePtr(t.DueAt),
		AssignedTo: t.AssignedTo,
		CreatedAt:  formatTime(t.CreatedAt),
	}
}

type activityResponse struct {
	ID        int64   `json:"id"`
	ActorID   *string `json:"actorUserId"`
	ClientID  *string `json:"clientId"`
	Action    string  `json:"action"`
	Detail    string  `json:"detail"`
	CreatedAt string  `json:"createdAt"`
}

func newActivityResponse(e activity.Entry) activityResponse {
	return activityResponse{
		ID:        e.ID,
		ActorID:   e.ActorID,
		ClientID:  e.ClientID,
		Action:    e.Action,
		Detail:    e.Detail,
		CreatedAt: formatTime(e.CreatedAt),
	}
}

type wizardResponse struct {
	Snapshot    snapshotResponse    `json:"snapshot"`
	Client      clientResponse      `json:"client"`
	Tradelines  []tradelineResponse `json:"tradelines"`
	LatestAudit *auditRunResponse   `json:"latestAudit"`
	Disputes    []disputeResponse   `json:"disputes"`
}

func newWizardResponse(ov wizard.Overview) wizardResponse {
	out := wizardResponse{
		Snapshot:   newSnapshotResponse(ov.Snapshot),
		Client:     newClientResponse(ov.Client),
		Tradelines: mapSlice(ov.Tradelines, newTradelineResponse),
		Disputes:   mapSlice(ov.Disputes, newDisputeResponse),
	}
	if ov.LatestAudit != nil {
		out.LatestAudit = newAuditRunResponse(*ov.LatestAudit)
	}
	return out
}

type portalSnapshotResponse struct {
	snapshotResponse
	LatestAudit *auditRunResponse `json:"latestAudit"`
}

type dashboardResponse struct {
	ClientID       string                  `json:"clientId"`
	LatestSnapshot *portalSnapshotResponse `json:"latestSnapshot"`
	Disputes       []disputeResponse       `json:"disputes"`
	Docs           []documentResponse      `json:"docs"`
}

func newDashboardResponse(d portal.Dashboard) dashboardResponse {
	out := dashboardResponse{
		ClientID: d.ClientID,
		Disputes: mapSlice(d.Disputes, newDisputeResponse),
		Docs:     mapSlice(d.Documents, newDocumentResponse),
	}
	if d.LatestSnapshot != nil {
		out.LatestSnapshot = &portalSnapshotResponse{snapshotResponse: newSnapshotResponse(d.LatestSnapshot.Snapshot)}
		if d.LatestSnapshot.LatestAudit != nil {
			out.LatestSnapshot.LatestAudit = newAuditRunResponse(*d.LatestSnapshot.LatestAudit)
		}
	}
	return out
}

type progressResponse struct {
	Percent   int      `json:"percent"`
	NextSteps []string `json:"nextSteps"`
}

type urlResponse struct {
	URL string `json:"url"`
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
