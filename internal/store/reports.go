package store

import (
	"expenseflow/expense-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type DepartmentSpend struct {
	DepartmentID  string
	Name          string
	DeptCode      string
	Budget        decimal.Decimal
	UserCount     int
	ApprovedSpend decimal.Decimal
	PendingSpend  decimal.Decimal
}

type DepartmentBudget struct {
	DepartmentID       string          `json:"department_id"`
	Name               string          `json:"name"`
	DeptCode           string          `json:"dept_code"`
	Budget             decimal.Decimal `json:"budget"`
	UserCount          int             `json:"user_count"`
	SharePercent       decimal.Decimal `json:"share_percent"`
	ApprovedSpend      decimal.Decimal `json:"approved_spend"`
	PendingSpend       decimal.Decimal `json:"pending_spend"`
	UtilizationPercent decimal.Decimal `json:"utilization_percent"`
}

type BudgetOverview struct {
	CompanyCode   string             `json:"company_code"`
	TotalBudget   decimal.Decimal    `json:"total_budget"`
	ApprovedSpend decimal.Decimal    `json:"approved_spend"`
	PendingSpend  decimal.Decimal    `json:"pending_spend"`
	Departments   []DepartmentBudget `json:"departments"`
}

// BuildBudgetOverview derives share and utilization percentages, rounded to
// two decimals, from raw per-department sums.
func BuildBudgetOverview(companyCode string, rows []DepartmentSpend) BudgetOverview {
	overview := BudgetOverview{
		CompanyCode:   companyCode,
		TotalBudget:   decimal.Zero,
		ApprovedSpend: decimal.Zero,
		PendingSpend:  decimal.Zero,
		Departments:   make([]DepartmentBudget, 0, len(rows)),
	}
	for _, row := range rows {
		overview.TotalBudget = overview.TotalBudget.Add(row.Budget)
		overview.ApprovedSpend = overview.ApprovedSpend.Add(row.ApprovedSpend)
		overview.PendingSpend = overview.PendingSpend.Add(row.PendingSpend)
	}
	for _, row := range rows {
		dept := DepartmentBudget{
			DepartmentID:       row.DepartmentID,
			Name:               row.Name,
			DeptCode:           row.DeptCode,
			Budget:             row.Budget,
			UserCount:          row.UserCount,
			SharePercent:       percentOf(row.Budget, overview.TotalBudget),
			ApprovedSpend:      row.ApprovedSpend,
			PendingSpend:       row.PendingSpend,
			UtilizationPercent: percentOf(row.ApprovedSpend, row.Budget),
		}
		overview.Departments = append(overview.Departments, dept)
	}
	return overview
}

type StatusCount struct {
	Status    models.Status
	Count     int
	Amount    decimal.Decimal
	Overrides int
}

type ApprovalStats struct {
	CompanyCode    string                `json:"company_code"`
	Total          int                   `json:"total"`
	Pending        int                   `json:"pending"`
	Approved       int                   `json:"approved"`
	Rejected       int                   `json:"rejected"`
	Overrides      int                   `json:"cfo_overrides"`
	ApprovalRate   decimal.Decimal       `json:"approval_rate"`
	PendingAmount  decimal.Decimal       `json:"pending_amount"`
	ApprovedAmount decimal.Decimal       `json:"approved_amount"`
	RejectedAmount decimal.Decimal       `json:"rejected_amount"`
	ByStatus       map[models.Status]int `json:"by_status"`
}

// BuildApprovalStats folds per-status counts into totals. ApprovalRate is the
// share of decided claims that ended approved.
func BuildApprovalStats(companyCode string, rows []StatusCount) ApprovalStats {
	stats := ApprovalStats{
		CompanyCode:    companyCode,
		ApprovalRate:   decimal.Zero,
		PendingAmount:  decimal.Zero,
		ApprovedAmount: decimal.Zero,
		RejectedAmount: decimal.Zero,
		ByStatus:       make(map[models.Status]int, len(models.AllStatuses)),
	}
	for _, status := range models.AllStatuses {
		stats.ByStatus[status] = 0
	}
	for _, row := range rows {
		stats.Total += row.Count
		stats.Overrides += row.Overrides
		stats.ByStatus[row.Status] += row.Count
		switch {
		case IsApprovedStatus(row.Status):
			stats.Approved += row.Count
			stats.ApprovedAmount = stats.ApprovedAmount.Add(row.Amount)
		case IsRejectedStatus(row.Status):
			stats.Rejected += row.Count
			stats.RejectedAmount = stats.RejectedAmount.Add(row.Amount)
		default:
			stats.Pending += row.Count
			stats.PendingAmount = stats.PendingAmount.Add(row.Amount)
		}
	}
	stats.ApprovalRate = percentOf(decimal.NewFromInt(int64(stats.Approved)), decimal.NewFromInt(int64(stats.Approved+stats.Rejected)))
	return stats
}

func IsApprovedStatus(status models.Status) bool {
	switch status {
	case models.StatusApprovedByManager, models.StatusApprovedByCFO, models.StatusApprovedByCEO:
		return true
	}
	return false
}

// IsRejectedStatus excludes RejectedByManager, which still awaits a possible
// CFO override.
func IsRejectedStatus(status models.Status) bool {
	switch status {
	case models.StatusRejectedByCFO, models.StatusRejectedByCEO:
		return true
	}
	return false
}

// OpenStatuses are the statuses whose amounts count as pending spend.
var OpenStatuses = []models.Status{
	models.StatusPending,
	models.StatusPendingCFOApproval,
	models.StatusPendingCEOApproval,
	models.StatusRejectedByManager,
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
