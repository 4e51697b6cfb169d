package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleCFO      Role = "cfo"
	RoleCEO      Role = "ceo"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleCFO, RoleCEO, RoleAdmin:
		return true
	default:
		return false
	}
}

type Company struct {
	CompanyID   string    `json:"company_id"`
	CompanyCode string    `json:"company_code"`
	Name        string    `json:"name"`
	Country     string    `json:"country"`
	CreatedAt   time.Time `json:"created_at"`
}

// User never carries the password hash; it is read and compared inside the store only.
type User struct {
	UserID         string    `json:"id"`
	CompanyCode    string    `json:"company_code"`
	CompanyName    string    `json:"company_name,omitempty"`
	EmployeeCode   string    `json:"user_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	DepartmentID   *string   `json:"department_id"`
	DepartmentName *string   `json:"department_name"`
	ManagerID      *string   `json:"manager_id"`
	ManagerName    *string   `json:"manager_name"`
	Active         bool      `json:"status"`
	CreatedAt      time.Time `json:"created_on"`
	UpdatedAt      time.Time `json:"updated_on"`
}

type Department struct {
	DepartmentID string          `json:"id"`
	CompanyCode  string          `json:"company_code"`
	Name         string          `json:"name"`
	DeptCode     string          `json:"dept_code"`
	Budget       decimal.Decimal `json:"budget"`
	UserCount    int             `json:"user_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
