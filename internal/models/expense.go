package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending            Status = "Pending"
	StatusApprovedByManager  Status = "ApprovedByManager"
	StatusRejectedByManager  Status = "RejectedByManager"
	StatusPendingCFOApproval Status = "PendingCFOApproval"
	StatusApprovedByCFO      Status = "ApprovedByCFO"
	StatusRejectedByCFO      Status = "RejectedByCFO"
	StatusPendingCEOApproval Status = "PendingCEOApproval"
	StatusApprovedByCEO      Status = "ApprovedByCEO"
	StatusRejectedByCEO      Status = "RejectedByCEO"
)

var AllStatuses = []Status{
	StatusPending,
	StatusApprovedByManager,
	StatusRejectedByManager,
	StatusPendingCFOApproval,
	StatusApprovedByCFO,
	StatusRejectedByCFO,
	StatusPendingCEOApproval,
	StatusApprovedByCEO,
	StatusRejectedByCEO,
}

func ParseStatus(value string) (Status, bool) {
	for _, status := range AllStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

var (
	Currencies = []string{"INR", "USD", "EUR", "GBP"}
	Categories = []string{"Meal", "Travel", "Office Supplies", "Transportation", "Accommodation", "Other"}
)

// OCRData is advisory. Approval math always uses ExpenseClaim.Amount.
type OCRData struct {
	Vendor      string `json:"vendor"`
	Date        string `json:"date"`
	TotalAmount string `json:"total_amount"`
	ExpenseType string `json:"expense_type"`
}

type ExpenseClaim struct {
	ClaimID          string           `json:"id"`
	CompanyCode      string           `json:"company_code"`
	EmployeeID       string           `json:"employee_id"`
	EmployeeName     string           `json:"employee_name,omitempty"`
	DepartmentID     string           `json:"department_id"`
	DepartmentName   string           `json:"department,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	Category         string           `json:"category"`
	Description      string           `json:"description"`
	ExpenseDate      time.Time        `json:"expense_date"`
	SubmittedAt      time.Time        `json:"submitted_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Attachment       string           `json:"attachment,omitempty"`
	OCRData          *OCRData         `json:"ocr_data,omitempty"`
	Status           Status           `json:"status"`
	BudgetPercentage *decimal.Decimal `json:"budget_percentage,omitempty"`
	CFOOverride      bool             `json:"cfo_override"`
	Trail            []TrailEntry     `json:"trail,omitempty"`
}

type TrailEntry struct {
	ClaimID          string          `json:"claim_id"`
	Seq              int             `json:"seq"`
	ApproverID       string          `json:"approver_id"`
	ApproverRole     Role            `json:"approver_role"`
	Decision         Decision        `json:"decision"`
	Comment          string          `json:"comment"`
	FromStatus       Status          `json:"from_status"`
	ToStatus         Status          `json:"to_status"`
	BudgetPercentage decimal.Decimal `json:"budget_percentage"`
	Override         bool            `json:"override"`
	CreatedAt        time.Time       `json:"created_at"`
	PrevHash         string          `json:"prev_hash"`
	Hash             string          `json:"hash"`
}
