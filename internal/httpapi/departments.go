package httpapi

import (
	"net/http"
	"strings"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"

	"github.com/shopspring/decimal"
)

type createDepartmentRequest struct {
	Name   string          `json:"name"`
	Budget decimal.Decimal `json:"budget"`
}

type updateBudgetRequest struct {
	Budget decimal.Decimal `json:"budget"`
}

func (h *Handler) handleDepartments(w http.ResponseWriter, r *http.Request) {
	info, companyCode, ok := requireTenant(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		departments, err := h.store.ListDepartments(r.Context(), companyCode)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if departments == nil {
			departments = []models.Department{}
		}
		writeJSON(w, http.StatusOK, departments)
	case http.MethodPost:
		if !requireRole(w, info, models.RoleAdmin) {
			return
		}
		var req createDepartmentRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if msg := checkLength("name", req.Name, 2, 100); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}
		if !req.Budget.IsPositive() {
			writeError(w, http.StatusBadRequest, "invalid_request", "budget must be positive")
			return
		}
		department, err := h.store.CreateDepartment(r.Context(), store.CreateDepartmentInput{
			CompanyCode: companyCode,
			Name:        req.Name,
			Budget:      req.Budget,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, department)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleDepartmentActions serves /api/departments/overview,
// /api/departments/{id} and /api/departments/{id}/budget.
func (h *Handler) handleDepartmentActions(w http.ResponseWriter, r *http.Request) {
	info, companyCode, ok := requireTenant(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/departments/"), "/")
	parts := strings.Split(path, "/")

	if len(parts) == 1 && parts[0] == "overview" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !requireRole(w, info, models.RoleAdmin, models.RoleCFO, models.RoleCEO) {
			return
		}
		overview, err := h.store.BudgetOverview(r.Context(), companyCode)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, overview)
		return
	}

	if parts[0] == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "budget") {
		writeError(w, http.StatusNotFound, "", "route not found")
		return
	}
	departmentID := parts[0]
	if !isValidUUID(departmentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "department id must be a UUID")
		return
	}
	if !requireRole(w, info, models.RoleAdmin) {
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req updateBudgetRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if !req.Budget.IsPositive() {
			writeError(w, http.StatusBadRequest, "invalid_request", "budget must be positive")
			return
		}
		department, err := h.store.UpdateDepartmentBudget(r.Context(), companyCode, departmentID, req.Budget)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, department)
		return
	}

	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.store.DeleteDepartment(r.Context(), companyCode, departmentID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Department deleted successfully"})
}
