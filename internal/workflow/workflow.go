// Package workflow routes expense claims through manager, CFO and CEO approval.
//
// Routing is driven by the claim amount as a percentage of the owning
// department's budget. Below CFOThreshold the manager's approval is final;
// from CFOThreshold the CFO must also approve; from CEOThreshold the CEO
// signs off last. A CFO may override a manager rejection.
//
// The percentage is fixed when the manager decides; later stages route on the
// recorded value so a budget change mid-chain cannot skip an approver.
package workflow

import (
	"strings"
	"time"

	"expenseflow/expense-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	CFOThreshold = decimal.NewFromInt(30)
	CEOThreshold = decimal.NewFromInt(40)

	hundred = decimal.NewFromInt(100)
)

// stageOwners lists every non-terminal status and the only role allowed to act on it.
var stageOwners = map[models.Status]models.Role{
	models.StatusPending:            models.RoleManager,
	models.StatusPendingCFOApproval: models.RoleCFO,
	models.StatusRejectedByManager:  models.RoleCFO,
	models.StatusPendingCEOApproval: models.RoleCEO,
}

type Actor struct {
	UserID       string
	Role         models.Role
	DepartmentID string
}

type Input struct {
	Claim            models.ExpenseClaim
	DepartmentBudget decimal.Decimal
	Actor            Actor
	Decision         models.Decision
	Comment          string
	At               time.Time
}

type Outcome struct {
	Claim models.ExpenseClaim
	Entry models.TrailEntry
}

// StageOwner reports the role that decides claims in status, or false when the
// status is terminal.
func StageOwner(status models.Status) (models.Role, bool) {
	role, ok := stageOwners[status]
	return role, ok
}

func IsTerminal(status models.Status) bool {
	_, ok := stageOwners[status]
	return !ok
}

// BudgetPercentage returns amount/budget*100 rounded to two decimals. The
// rounded value is the one used for routing.
func BudgetPercentage(amount, budget decimal.Decimal) (decimal.Decimal, error) {
	if !budget.IsPositive() {
		return decimal.Zero, ErrInvalidBudgetContext
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount.Div(budget).Mul(hundred).Round(2), nil
}

// RequiredChain lists the approvers an approved claim at pct must pass through.
func RequiredChain(pct decimal.Decimal) []models.Role {
	switch {
	case pct.LessThan(CFOThreshold):
		return []models.Role{models.RoleManager}
	case pct.LessThan(CEOThreshold):
		return []models.Role{models.RoleManager, models.RoleCFO}
	default:
		return []models.Role{models.RoleManager, models.RoleCFO, models.RoleCEO}
	}
}

// Apply validates one decision against the claim and returns the claim in its
// new state together with the trail entry to append. The input claim is not
// modified. Checks run in a fixed order: terminal state, actor role, decision,
// comment, budget context. Nobody decides their own claim, and a manager only
// decides claims of their own department.
func Apply(in Input) (Outcome, error) {
	from := in.Claim.Status
	owner, ok := StageOwner(from)
	if !ok {
		return Outcome{}, ErrInvalidStateTransition
	}
	if in.Actor.Role != owner {
		return Outcome{}, ErrUnauthorizedApprover
	}
	if in.Actor.UserID != "" && in.Actor.UserID == in.Claim.EmployeeID {
		return Outcome{}, ErrUnauthorizedApprover
	}
	if in.Actor.Role == models.RoleManager && in.Claim.DepartmentID != "" && in.Actor.DepartmentID != in.Claim.DepartmentID {
		return Outcome{}, ErrUnauthorizedApprover
	}
	if in.Decision != models.DecisionApprove && in.Decision != models.DecisionReject {
		return Outcome{}, ErrInvalidDecision
	}
	comment := strings.TrimSpace(in.Comment)
	if comment == "" {
		return Outcome{}, ErrMissingApprovalComment
	}
	if in.Claim.DepartmentID == "" {
		return Outcome{}, ErrInvalidBudgetContext
	}
	pct, err := BudgetPercentage(in.Claim.Amount, in.DepartmentBudget)
	if err != nil {
		return Outcome{}, err
	}
	if from != models.StatusPending && in.Claim.BudgetPercentage != nil {
		pct = *in.Claim.BudgetPercentage
	}

	to, override := next(from, in.Decision, pct)

	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	claim := in.Claim
	claim.Status = to
	claim.UpdatedAt = at
	if from == models.StatusPending {
		recorded := pct
		claim.BudgetPercentage = &recorded
	}
	if override {
		claim.CFOOverride = true
	}

	entry := models.TrailEntry{
		ClaimID:          claim.ClaimID,
		Seq:              len(in.Claim.Trail) + 1,
		ApproverID:       in.Actor.UserID,
		ApproverRole:     in.Actor.Role,
		Decision:         in.Decision,
		Comment:          comment,
		FromStatus:       from,
		ToStatus:         to,
		BudgetPercentage: pct,
		Override:         override,
		CreatedAt:        at,
	}
	trail := make([]models.TrailEntry, 0, len(in.Claim.Trail)+1)
	trail = append(trail, in.Claim.Trail...)
	claim.Trail = append(trail, entry)

	return Outcome{Claim: claim, Entry: entry}, nil
}

func next(from models.Status, decision models.Decision, pct decimal.Decimal) (models.Status, bool) {
	approve := decision == models.DecisionApprove
	switch from {
	case models.StatusPending:
		if !approve {
			return models.StatusRejectedByManager, false
		}
		if pct.LessThan(CFOThreshold) {
			return models.StatusApprovedByManager, false
		}
		return models.StatusPendingCFOApproval, false
	case models.StatusPendingCFOApproval:
		if !approve {
			return models.StatusRejectedByCFO, false
		}
		if pct.LessThan(CEOThreshold) {
			return models.StatusApprovedByCFO, false
		}
		return models.StatusPendingCEOApproval, false
	case models.StatusRejectedByManager:
		if !approve {
			return models.StatusRejectedByCFO, false
		}
		return models.StatusApprovedByCFO, true
	default:
		if !approve {
			return models.StatusRejectedByCEO, false
		}
		return models.StatusApprovedByCEO, false
	}
}
