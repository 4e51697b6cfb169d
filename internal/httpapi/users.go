package httpapi

import (
	"net/http"
	"strings"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"
)

type createUserRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	DepartmentID   string `json:"department_id"`
	DepartmentName string `json:"department"`
	ManagerID      string `json:"manager_id"`
}

type updateUserRequest struct {
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	Password     *string `json:"password"`
	Role         *string `json:"role"`
	DepartmentID *string `json:"department_id"`
	ManagerID    *string `json:"manager_id"`
	Active       *bool   `json:"status"`
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	info, companyCode, ok := requireTenant(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		users, err := h.store.ListUsers(r.Context(), companyCode)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if users == nil {
			users = []models.User{}
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		if !requireRole(w, info, models.RoleAdmin) {
			return
		}
		h.createUser(w, r, companyCode)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request, companyCode string) {
	var req createUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	req.DepartmentName = strings.TrimSpace(req.DepartmentName)
	req.ManagerID = strings.TrimSpace(req.ManagerID)
	role := models.Role(strings.TrimSpace(req.Role))

	if msg := firstInvalid(
		checkLength("name", req.Name, 2, 100),
		checkEmail("email", req.Email),
		checkLength("password", req.Password, 6, 50),
	); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be one of employee, manager, cfo, ceo, admin")
		return
	}
	if req.DepartmentID != "" && !isValidUUID(req.DepartmentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "department_id must be a UUID")
		return
	}
	if req.DepartmentID == "" && req.DepartmentName == "" && role != models.RoleAdmin {
		writeError(w, http.StatusBadRequest, "invalid_request", "department is required")
		return
	}
	if req.ManagerID != "" && !isValidUUID(req.ManagerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "manager_id must be a UUID")
		return
	}

	user, err := h.store.CreateUser(r.Context(), store.CreateUserInput{
		CompanyCode:    companyCode,
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		Role:           role,
		DepartmentID:   req.DepartmentID,
		DepartmentName: req.DepartmentName,
		ManagerID:      req.ManagerID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleUserActions(w http.ResponseWriter, r *http.Request) {
	info, companyCode, ok := requireTenant(w, r)
	if !ok {
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusNotFound, "", "route not found")
		return
	}
	if !isValidUUID(userID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "user id must be a UUID")
		return
	}
	if !requireRole(w, info, models.RoleAdmin) {
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.updateUser(w, r, companyCode, userID)
	case http.MethodDelete:
		if userID == info.User.UserID {
			writeError(w, http.StatusBadRequest, "invalid_request", "cannot delete your own account")
			return
		}
		if err := h.store.DeleteUser(r.Context(), companyCode, userID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request, companyCode, userID string) {
	var req updateUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	input := store.UpdateUserInput{CompanyCode: companyCode, UserID: userID, Active: req.Active}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if msg := checkLength("name", name, 2, 100); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}
		input.Name = &name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if msg := checkEmail("email", email); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}
		input.Email = &email
	}
	// An empty password keeps the current one.
	if req.Password != nil && *req.Password != "" {
		if msg := checkLength("password", *req.Password, 6, 50); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}
		input.Password = req.Password
	}
	if req.Role != nil {
		role := models.Role(strings.TrimSpace(*req.Role))
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_request", "role must be one of employee, manager, cfo, ceo, admin")
			return
		}
		input.Role = &role
	}
	if req.DepartmentID != nil {
		departmentID := strings.TrimSpace(*req.DepartmentID)
		if departmentID != "" && !isValidUUID(departmentID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "department_id must be a UUID")
			return
		}
		input.DepartmentID = &departmentID
	}
	if req.ManagerID != nil {
		managerID := strings.TrimSpace(*req.ManagerID)
		if managerID != "" && !isValidUUID(managerID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "manager_id must be a UUID")
			return
		}
		input.ManagerID = &managerID
	}

	user, err := h.store.UpdateUser(r.Context(), input)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
