package store

import (
	"context"
	"time"

	"expenseflow/expense-service/internal/models"

	"github.com/shopspring/decimal"
)

type RegisterInput struct {
	CompanyName string
	CompanyCode string
	Country     string
	AdminName   string
	AdminEmail  string
	Password    string
}

type LoginInput struct {
	Email    string
	Password string
	Role     models.Role
}

type LoginResult struct {
	User    models.User
	Session models.Session
}

type CreateUserInput struct {
	CompanyCode string
	Name        string
	Email       string
	Password    string
	Role        models.Role
	// DepartmentID wins over DepartmentName when both are set.
	DepartmentID   string
	DepartmentName string
	ManagerID      string
}

// UpdateUserInput is a partial patch; nil fields are left untouched.
type UpdateUserInput struct {
	CompanyCode  string
	UserID       string
	Name         *string
	Email        *string
	Password     *string
	Role         *models.Role
	DepartmentID *string
	ManagerID    *string
	Active       *bool
}

type CreateDepartmentInput struct {
	CompanyCode string
	Name        string
	Budget      decimal.Decimal
}

type CreateClaimInput struct {
	CompanyCode string
	EmployeeID  string
	Amount      decimal.Decimal
	Currency    string
	Category    string
	Description string
	ExpenseDate time.Time
	Attachment  string
	OCRData     *models.OCRData
}

type DecisionInput struct {
	CompanyCode string
	ClaimID     string
	ActorID     string
	ActorRole   models.Role
	Decision    models.Decision
	Comment     string
}

type ClaimFilter struct {
	CompanyCode  string
	EmployeeID   string
	DepartmentID string
	Statuses     []models.Status
	Limit        int
}

type Store interface {
	Ping(ctx context.Context) error

	RegisterCompany(ctx context.Context, input RegisterInput) (models.Company, models.User, error)
	Authenticate(ctx context.Context, input LoginInput) (LoginResult, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, models.User, error)
	DeleteSession(ctx context.Context, sessionID string) error

	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	UpdateUser(ctx context.Context, input UpdateUserInput) (models.User, error)
	DeleteUser(ctx context.Context, companyCode, userID string) error
	ListUsers(ctx context.Context, companyCode string) ([]models.User, error)

	CreateDepartment(ctx context.Context, input CreateDepartmentInput) (models.Department, error)
	UpdateDepartmentBudget(ctx context.Context, companyCode, departmentID string, budget decimal.Decimal) (models.Department, error)
	DeleteDepartment(ctx context.Context, companyCode, departmentID string) error
	ListDepartments(ctx context.Context, companyCode string) ([]models.Department, error)
	BudgetOverview(ctx context.Context, companyCode string) (BudgetOverview, error)

	CreateClaim(ctx context.Context, input CreateClaimInput) (models.ExpenseClaim, error)
	GetClaim(ctx context.Context, companyCode, claimID string) (models.ExpenseClaim, error)
	ListClaims(ctx context.Context, filter ClaimFilter) ([]models.ExpenseClaim, error)
	ApplyDecision(ctx context.Context, input DecisionInput) (models.ExpenseClaim, error)
	ListTrail(ctx context.Context, companyCode, claimID string) ([]models.TrailEntry, error)
	ApprovalStats(ctx context.Context, companyCode string) (ApprovalStats, error)
}
