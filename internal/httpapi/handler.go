package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/ocr"
	"expenseflow/expense-service/internal/store"
	"expenseflow/expense-service/internal/workflow"

	"github.com/google/uuid"
)

// ReceiptScanner extracts advisory fields from an uploaded receipt.
type ReceiptScanner interface {
	Extract(ctx context.Context, mimeType string, data []byte) (ocr.Result, error)
}

type Handler struct {
	store   store.Store
	scanner ReceiptScanner
	now     func() time.Time
}

type Options struct {
	Scanner ReceiptScanner
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	CompanyName string `json:"company_name"`
	CompanyCode string `json:"company_code"`
	Country     string `json:"country"`
	AdminName   string `json:"admin_name"`
	AdminEmail  string `json:"admin_email"`
	Password    string `json:"password"`
}

type registerResponse struct {
	Message     string `json:"message"`
	CompanyCode string `json:"company_code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Message   string      `json:"message"`
	SessionID string      `json:"session_id"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

var companyCodePattern = regexp.MustCompile(`^[A-Z]{4}$`)

func NewHandler(store store.Store, options Options) *Handler {
	scanner := options.Scanner
	if scanner == nil {
		scanner = ocr.NewClient(ocr.Config{})
	}
	return &Handler{
		store:   store,
		scanner: scanner,
		now:     time.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	protected := func(fn http.HandlerFunc) http.Handler {
		return AuthMiddleware(h.store, fn)
	}

	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/register", h.handleRegister)
	mux.HandleFunc("/api/login", h.handleLogin)
	mux.Handle("/api/logout", protected(h.handleLogout))
	mux.Handle("/api/users", protected(h.handleUsers))
	mux.Handle("/api/users/", protected(h.handleUserActions))
	mux.Handle("/api/departments", protected(h.handleDepartments))
	mux.Handle("/api/departments/", protected(h.handleDepartmentActions))
	mux.Handle("/api/expenses", protected(h.handleExpenses))
	mux.Handle("/api/expenses/", protected(h.handleExpenseActions))
	mux.HandleFunc("/", h.handleNotFound)
	return mux
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "", "route not found")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok", Timestamp: h.now().UTC(), Database: "connected"}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		log.Printf("health ping failed: %v", err)
		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.CompanyCode = strings.TrimSpace(req.CompanyCode)
	req.Country = strings.TrimSpace(req.Country)
	req.AdminName = strings.TrimSpace(req.AdminName)
	req.AdminEmail = strings.TrimSpace(req.AdminEmail)

	if msg := firstInvalid(
		checkLength("company_name", req.CompanyName, 2, 100),
		checkCompanyCode(req.CompanyCode),
		checkLength("country", req.Country, 2, 100),
		checkLength("admin_name", req.AdminName, 2, 100),
		checkEmail("admin_email", req.AdminEmail),
		checkLength("password", req.Password, 6, 50),
	); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	company, _, err := h.store.RegisterCompany(r.Context(), store.RegisterInput{
		CompanyName: req.CompanyName,
		CompanyCode: req.CompanyCode,
		Country:     req.Country,
		AdminName:   req.AdminName,
		AdminEmail:  req.AdminEmail,
		Password:    req.Password,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		Message:     "Company and admin registered successfully",
		CompanyCode: company.CompanyCode,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	role := models.Role(strings.TrimSpace(req.Role))

	if msg := firstInvalid(checkEmail("email", req.Email), checkLength("password", req.Password, 6, 50)); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be one of employee, manager, cfo, ceo, admin")
		return
	}

	result, err := h.store.Authenticate(r.Context(), store.LoginInput{Email: req.Email, Password: req.Password, Role: role})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Login successful",
		SessionID: result.Session.SessionID,
		ExpiresAt: result.Session.ExpiresAt,
		User:      result.User,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	if err := h.store.DeleteSession(r.Context(), info.Session.SessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func firstInvalid(messages ...string) string {
	for _, msg := range messages {
		if msg != "" {
			return msg
		}
	}
	return ""
}

func checkLength(field, value string, min, max int) string {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0:
		return field + " is required"
	case n < min:
		return field + " is too short"
	case n > max:
		return field + " is too long"
	default:
		return ""
	}
}

func checkCompanyCode(value string) string {
	if !companyCodePattern.MatchString(value) {
		return "company_code must be 4 uppercase letters"
	}
	return ""
}

func checkEmail(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return field + " must be a valid email address"
	}
	return ""
}

func writeStoreError(w http.ResponseWriter, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, workflow.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition", "claim is not awaiting a decision"
	case errors.Is(err, workflow.ErrUnauthorizedApprover):
		return http.StatusForbidden, "unauthorized_approver", "not allowed to decide this claim at its current stage"
	case errors.Is(err, workflow.ErrInvalidDecision):
		return http.StatusBadRequest, "invalid_decision", "decision must be approve or reject"
	case errors.Is(err, workflow.ErrMissingApprovalComment):
		return http.StatusBadRequest, "missing_approval_comment", "comment is required"
	case errors.Is(err, workflow.ErrInvalidBudgetContext):
		return http.StatusBadRequest, "invalid_budget_context", "department budget is missing or not positive"
	case errors.Is(err, workflow.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount", "amount must be positive"
	case errors.Is(err, store.ErrCompanyCodeTaken):
		return http.StatusBadRequest, "company_code_taken", "Company code already exists"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusBadRequest, "email_taken", "Email already registered"
	case errors.Is(err, store.ErrDepartmentNameTaken):
		return http.StatusBadRequest, "department_name_taken", "Department name already exists"
	case errors.Is(err, store.ErrDepartmentHasUsers):
		return http.StatusBadRequest, "department_has_users", "Cannot delete department with assigned users"
	case errors.Is(err, store.ErrDepartmentHasClaims):
		return http.StatusBadRequest, "department_has_claims", "Cannot delete department with expense claims"
	case errors.Is(err, store.ErrUserHasClaims):
		return http.StatusBadRequest, "user_has_claims", "Cannot delete user with expense claims"
	case errors.Is(err, store.ErrUserHasApprovals):
		return http.StatusBadRequest, "user_has_approvals", "Cannot delete user with recorded approval decisions"
	case errors.Is(err, store.ErrNoFields):
		return http.StatusBadRequest, "no_fields", "No valid fields to update"
	case errors.Is(err, store.ErrManagerNotFound):
		return http.StatusBadRequest, "manager_not_found", "Manager not found"
	case errors.Is(err, store.ErrNoDepartment):
		return http.StatusBadRequest, "no_department", "user is not assigned to a department"
	case errors.Is(err, store.ErrUserInactive):
		return http.StatusBadRequest, "user_inactive", "user is inactive"
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "Department not found"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "User not found"
	case errors.Is(err, store.ErrClaimNotFound):
		return http.StatusNotFound, "claim_not_found", "Expense claim not found"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "Invalid email, role, or password"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, ocr.ErrEmptyFile), errors.Is(err, ocr.ErrFileTooLarge), errors.Is(err, ocr.ErrUnsupportedType):
		return http.StatusBadRequest, "invalid_receipt", err.Error()
	case errors.Is(err, ocr.ErrUpstream), errors.Is(err, ocr.ErrMalformedResponse):
		return http.StatusBadGateway, "ocr_failed", "receipt could not be processed"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
