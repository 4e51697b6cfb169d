package httpapi

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/ocr"
	"expenseflow/expense-service/internal/store"
	"expenseflow/expense-service/internal/workflow"

	"github.com/shopspring/decimal"
)

const (
	dateLayout      = "2006-01-02"
	maxDescription  = 500
	multipartMemory = 1 << 20
	maxListLimit    = 500
)

type submitClaimRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ExpenseDate string          `json:"expense_date"`
	Attachment  string          `json:"attachment"`
	OCRData     *models.OCRData `json:"ocr_data"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

// claimResponse adds the approver chain once the budget percentage is known
// and the role whose decision the claim is waiting for.
type claimResponse struct {
	models.ExpenseClaim
	RequiredApprovers []models.Role `json:"required_approvers,omitempty"`
	AwaitingRole      models.Role   `json:"awaiting_role,omitempty"`
}

// ocrResponse carries the raw extraction plus the subset a claim stores, so a
// client can send ocr_data back unchanged on submission.
type ocrResponse struct {
	ocr.Result
	OCRData models.OCRData `json:"ocr_data"`
}

type trailResponse struct {
	ClaimID  string              `json:"claim_id"`
	Verified bool                `json:"verified"`
	Problem  string              `json:"problem,omitempty"`
	Entries  []models.TrailEntry `json:"entries"`
}

func newClaimResponse(claim models.ExpenseClaim) claimResponse {
	resp := claimResponse{ExpenseClaim: claim}
	if claim.BudgetPercentage != nil {
		resp.RequiredApprovers = workflow.RequiredChain(*claim.BudgetPercentage)
	}
	if role, ok := workflow.StageOwner(claim.Status); ok {
		resp.AwaitingRole = role
	}
	return resp
}

func newClaimResponses(claims []models.ExpenseClaim) []claimResponse {
	out := make([]claimResponse, 0, len(claims))
	for _, claim := range claims {
		out = append(out, newClaimResponse(claim))
	}
	return out
}

func (h *Handler) handleExpenses(w http.ResponseWriter, r *http.Request) {
	info, companyCode, ok := requireTenant(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		filter, visible := listFilterFor(info.User, companyCode, r.URL.Query().Get("mine") == "true")
		if !applyStatusFilter(w, r, &filter) || !applyLimit(w, r, &filter) {
			return
		}
		if !visible {
			writeJSON(w, http.StatusOK, []claimResponse{})
			return
		}
		claims, err := h.store.ListClaims(r.Context(), filter)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newClaimResponses(claims))
	case http.MethodPost:
		h.submitClaim(w, r, info, companyCode)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) submitClaim(w http.ResponseWriter, r *http.Request, info authInfo, companyCode string) {
	if info.User.Role == models.RoleAdmin {
		writeError(w, http.StatusForbidden, "access_denied", "admins cannot submit expense claims")
		return
	}

	var req submitClaimRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	req.ExpenseDate = strings.TrimSpace(req.ExpenseDate)
	req.Attachment = strings.TrimSpace(req.Attachment)

	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount must be positive")
		return
	}
	if !contains(models.Currencies, req.Currency) {
		writeError(w, http.StatusBadRequest, "invalid_request", "currency must be one of "+strings.Join(models.Currencies, ", "))
		return
	}
	if !contains(models.Categories, req.Category) {
		writeError(w, http.StatusBadRequest, "invalid_request", "category must be one of "+strings.Join(models.Categories, ", "))
		return
	}
	if msg := checkLength("description", req.Description, 5, maxDescription); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	expenseDate, err := time.Parse(dateLayout, req.ExpenseDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "expense_date must be YYYY-MM-DD")
		return
	}
	now := h.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if expenseDate.After(today) {
		writeError(w, http.StatusBadRequest, "invalid_request", "expense_date cannot be in the future")
		return
	}

	claim, err := h.store.CreateClaim(r.Context(), store.CreateClaimInput{
		CompanyCode: companyCode,
		EmployeeID:  info.User.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		Description: req.Description,
		ExpenseDate: expenseDate,
		Attachment:  req.Attachment,
		OCRData:     req.OCRData,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newClaimResponse(claim))
}

// handleExpenseActions serves the fixed sub-resources (queue, export, stats,
// ocr) and the per-claim routes /{id}, /{id}/decision and /{id}/trail.
func (h *Handler) handleExpenseActions(w http.ResponseWriter, r *http.Request) {
	info, companyCode, ok := requireTenant(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/expenses/"), "/")
	parts := strings.Split(path, "/")
	if parts[0] == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "", "route not found")
		return
	}

	if len(parts) == 1 {
		switch parts[0] {
		case "queue":
			h.handleQueue(w, r, info, companyCode)
			return
		case "export":
			h.handleExport(w, r, info, companyCode)
			return
		case "stats":
			h.handleStats(w, r, info, companyCode)
			return
		case "ocr":
			h.handleOCR(w, r)
			return
		}
	}

	claimID := parts[0]
	if !isValidUUID(claimID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "expense id must be a UUID")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetClaim(w, r, info, companyCode, claimID)
		return
	}

	switch parts[1] {
	case "decision":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDecision(w, r, info, companyCode, claimID)
	case "trail":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTrail(w, r, info, companyCode, claimID)
	default:
		writeError(w, http.StatusNotFound, "", "route not found")
	}
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request, info authInfo, companyCode string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if info.User.Role == models.RoleAdmin {
		writeError(w, http.StatusForbidden, "access_denied", "no approval queue for role")
		return
	}
	filter, ok := queueFilterFor(info.User, companyCode)
	if !ok {
		writeJSON(w, http.StatusOK, []claimResponse{})
		return
	}
	claims, err := h.store.ListClaims(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponses(claims))
}

func (h *Handler) handleGetClaim(w http.ResponseWriter, r *http.Request, info authInfo, companyCode, claimID string) {
	claim, err := h.store.GetClaim(r.Context(), companyCode, claimID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !canView(info.User, claim) {
		writeStoreError(w, store.ErrClaimNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(claim))
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, info authInfo, companyCode, claimID string) {
	var req decisionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	claim, err := h.store.ApplyDecision(r.Context(), store.DecisionInput{
		CompanyCode: companyCode,
		ClaimID:     claimID,
		ActorID:     info.User.UserID,
		ActorRole:   info.User.Role,
		Decision:    models.Decision(strings.ToLower(strings.TrimSpace(req.Decision))),
		Comment:     req.Comment,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(claim))
}

func (h *Handler) handleTrail(w http.ResponseWriter, r *http.Request, info authInfo, companyCode, claimID string) {
	claim, err := h.store.GetClaim(r.Context(), companyCode, claimID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !canView(info.User, claim) {
		writeStoreError(w, store.ErrClaimNotFound)
		return
	}
	entries, err := h.store.ListTrail(r.Context(), companyCode, claimID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []models.TrailEntry{}
	}
	resp := trailResponse{ClaimID: claimID, Verified: true, Entries: entries}
	if err := store.VerifyTrail(entries); err != nil {
		resp.Verified = false
		resp.Problem = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, info authInfo, companyCode string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireRole(w, info, models.RoleAdmin, models.RoleCFO, models.RoleCEO) {
		return
	}
	stats, err := h.store.ApprovalStats(r.Context(), companyCode)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, info authInfo, companyCode string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	filter, visible := listFilterFor(info.User, companyCode, false)
	if !applyStatusFilter(w, r, &filter) || !applyLimit(w, r, &filter) {
		return
	}
	var claims []models.ExpenseClaim
	if visible {
		var err error
		claims, err = h.store.ListClaims(r.Context(), filter)
		if err != nil {
			writeStoreError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=expenses.csv")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"claim_id", "employee", "department", "amount", "currency", "category", "description", "expense_date", "submitted_at", "status", "budget_percentage", "cfo_override"})
	for _, claim := range claims {
		pct := ""
		if claim.BudgetPercentage != nil {
			pct = claim.BudgetPercentage.StringFixed(2)
		}
		_ = writer.Write([]string{
			claim.ClaimID,
			claim.EmployeeName,
			claim.DepartmentName,
			claim.Amount.StringFixed(2),
			claim.Currency,
			claim.Category,
			claim.Description,
			claim.ExpenseDate.Format(dateLayout),
			claim.SubmittedAt.UTC().Format(time.RFC3339),
			string(claim.Status),
			pct,
			strconv.FormatBool(claim.CFOOverride),
		})
	}
	writer.Flush()
}

func (h *Handler) handleOCR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, ocr.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeStoreError(w, ocr.ErrFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart form with a receipt file is required")
		return
	}
	file, header, err := r.FormFile("receipt")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "receipt file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, ocr.MaxFileSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "receipt file could not be read")
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if err := ocr.Validate(mimeType, len(data)); err != nil {
		writeStoreError(w, err)
		return
	}
	result, err := h.scanner.Extract(r.Context(), mimeType, data)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ocrResponse{Result: result, OCRData: result.OCRData()})
}

// listFilterFor scopes claim listings by role: admin, cfo and ceo see the
// whole tenant, managers their department, employees their own claims.
// visible is false when the scope is empty.
func listFilterFor(user models.User, companyCode string, mine bool) (store.ClaimFilter, bool) {
	filter := store.ClaimFilter{CompanyCode: companyCode}
	if mine {
		filter.EmployeeID = user.UserID
		return filter, true
	}
	switch user.Role {
	case models.RoleAdmin, models.RoleCFO, models.RoleCEO:
		return filter, true
	case models.RoleManager:
		filter.DepartmentID = departmentOf(user)
		return filter, filter.DepartmentID != ""
	default:
		filter.EmployeeID = user.UserID
		return filter, true
	}
}

// queueFilterFor selects the claims awaiting the user's decision.
func queueFilterFor(user models.User, companyCode string) (store.ClaimFilter, bool) {
	filter := store.ClaimFilter{CompanyCode: companyCode}
	switch user.Role {
	case models.RoleManager:
		filter.DepartmentID = departmentOf(user)
		filter.Statuses = []models.Status{models.StatusPending}
		return filter, filter.DepartmentID != ""
	case models.RoleCFO:
		filter.Statuses = []models.Status{models.StatusPendingCFOApproval, models.StatusRejectedByManager}
		return filter, true
	case models.RoleCEO:
		filter.Statuses = []models.Status{models.StatusPendingCEOApproval}
		return filter, true
	case models.RoleEmployee:
		filter.EmployeeID = user.UserID
		return filter, true
	default:
		return filter, false
	}
}

func canView(user models.User, claim models.ExpenseClaim) bool {
	if claim.EmployeeID == user.UserID {
		return true
	}
	switch user.Role {
	case models.RoleAdmin, models.RoleCFO, models.RoleCEO:
		return true
	case models.RoleManager:
		return departmentOf(user) != "" && departmentOf(user) == claim.DepartmentID
	default:
		return false
	}
}

func applyStatusFilter(w http.ResponseWriter, r *http.Request, filter *store.ClaimFilter) bool {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return true
	}
	for _, value := range strings.Split(raw, ",") {
		status, ok := models.ParseStatus(strings.TrimSpace(value))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+strings.TrimSpace(value))
			return false
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return true
}

// applyLimit caps the number of returned claims; zero means no cap.
func applyLimit(w http.ResponseWriter, r *http.Request, filter *store.ClaimFilter) bool {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return false
	}
	filter.Limit = limit
	return true
}

func departmentOf(user models.User) string {
	if user.DepartmentID == nil {
		return ""
	}
	return *user.DepartmentID
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
