package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"
	"expenseflow/expense-service/internal/workflow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var approvedStatuses = []models.Status{
	models.StatusApprovedByManager,
	models.StatusApprovedByCFO,
	models.StatusApprovedByCEO,
}

const claimSelect = `
	SELECT e.claim_id, e.company_code, e.employee_id, u.name, e.department_id, d.name,
	       e.amount, e.currency, e.category, e.description, e.expense_date,
	       e.submitted_at, e.updated_at, e.attachment, e.ocr_data, e.status,
	       e.budget_percentage, e.cfo_override
	FROM expense_claims e
	JOIN users u ON u.user_id = e.employee_id
	JOIN departments d ON d.department_id = e.department_id
`

func scanClaim(row pgx.Row) (models.ExpenseClaim, error) {
	var claim models.ExpenseClaim
	var attachment sql.NullString
	var ocrData []byte
	var pct decimal.NullDecimal
	if err := row.Scan(
		&claim.ClaimID, &claim.CompanyCode, &claim.EmployeeID, &claim.EmployeeName, &claim.DepartmentID, &claim.DepartmentName,
		&claim.Amount, &claim.Currency, &claim.Category, &claim.Description, &claim.ExpenseDate,
		&claim.SubmittedAt, &claim.UpdatedAt, &attachment, &ocrData, &claim.Status,
		&pct, &claim.CFOOverride,
	); err != nil {
		return models.ExpenseClaim{}, err
	}
	if attachment.Valid {
		claim.Attachment = attachment.String
	}
	if len(ocrData) > 0 {
		var data models.OCRData
		if err := json.Unmarshal(ocrData, &data); err != nil {
			return models.ExpenseClaim{}, fmt.Errorf("decode ocr_data: %w", err)
		}
		claim.OCRData = &data
	}
	if pct.Valid {
		value := pct.Decimal
		claim.BudgetPercentage = &value
	}
	return claim, nil
}

func getClaim(ctx context.Context, q querier, companyCode, claimID string) (models.ExpenseClaim, error) {
	if _, err := uuid.Parse(claimID); err != nil {
		return models.ExpenseClaim{}, store.ErrClaimNotFound
	}
	row := q.QueryRow(ctx, claimSelect+`
		WHERE e.claim_id = $1 AND e.company_code = $2
	`, claimID, companyCode)
	claim, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ExpenseClaim{}, store.ErrClaimNotFound
		}
		return models.ExpenseClaim{}, err
	}
	return claim, nil
}

func (s *Store) CreateClaim(ctx context.Context, input store.CreateClaimInput) (models.ExpenseClaim, error) {
	if _, err := uuid.Parse(input.EmployeeID); err != nil {
		return models.ExpenseClaim{}, store.ErrUserNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var active bool
	var departmentID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT active, department_id
		FROM users
		WHERE user_id = $1 AND company_code = $2
	`, input.EmployeeID, input.CompanyCode)
	if err = row.Scan(&active, &departmentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrUserNotFound
		}
		return models.ExpenseClaim{}, err
	}
	if !active {
		err = store.ErrUserInactive
		return models.ExpenseClaim{}, err
	}
	if !departmentID.Valid {
		err = store.ErrNoDepartment
		return models.ExpenseClaim{}, err
	}

	var ocrData []byte
	if input.OCRData != nil {
		ocrData, err = json.Marshal(input.OCRData)
		if err != nil {
			return models.ExpenseClaim{}, err
		}
	}

	claimID := uuid.NewString()
	now := s.timestamp()
	if _, err = tx.Exec(ctx, `
		INSERT INTO expense_claims (
			claim_id, company_code, employee_id, department_id, amount, currency, category,
			description, expense_date, attachment, ocr_data, status, submitted_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
	`, claimID, input.CompanyCode, input.EmployeeID, departmentID.String, input.Amount, input.Currency, input.Category,
		strings.TrimSpace(input.Description), input.ExpenseDate, nullIfEmpty(input.Attachment), ocrData, models.StatusPending, now); err != nil {
		return models.ExpenseClaim{}, err
	}

	claim, err := getClaim(ctx, tx, input.CompanyCode, claimID)
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.ExpenseClaim{}, err
	}
	return claim, nil
}

func (s *Store) GetClaim(ctx context.Context, companyCode, claimID string) (models.ExpenseClaim, error) {
	claim, err := getClaim(ctx, s.pool, companyCode, claimID)
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	trail, err := listTrail(ctx, s.pool, claim.ClaimID)
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	claim.Trail = trail
	return claim, nil
}

func (s *Store) ListClaims(ctx context.Context, filter store.ClaimFilter) ([]models.ExpenseClaim, error) {
	conditions := []string{"e.company_code = $1"}
	args := []interface{}{filter.CompanyCode}
	if filter.EmployeeID != "" {
		if _, err := uuid.Parse(filter.EmployeeID); err != nil {
			return []models.ExpenseClaim{}, nil
		}
		args = append(args, filter.EmployeeID)
		conditions = append(conditions, fmt.Sprintf("e.employee_id = $%d", len(args)))
	}
	if filter.DepartmentID != "" {
		if _, err := uuid.Parse(filter.DepartmentID); err != nil {
			return []models.ExpenseClaim{}, nil
		}
		args = append(args, filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("e.department_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		conditions = append(conditions, fmt.Sprintf("e.status = ANY($%d)", len(args)))
	}
	query := claimSelect + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY e.submitted_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := []models.ExpenseClaim{}
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return claims, nil
}

// ApplyDecision runs one workflow transition under a row lock on the claim so
// concurrent decisions on the same claim serialize; the later one sees the
// new status and is rejected by the workflow.
func (s *Store) ApplyDecision(ctx context.Context, input store.DecisionInput) (models.ExpenseClaim, error) {
	ctx, span := tracer.Start(ctx, "expense.apply_decision", trace.WithAttributes(
		attribute.String("expense.claim_id", input.ClaimID),
		attribute.String("expense.company_code", input.CompanyCode),
		attribute.String("expense.actor_role", string(input.ActorRole)),
		attribute.String("expense.decision", string(input.Decision)),
	))
	defer span.End()

	if _, err := uuid.Parse(input.ClaimID); err != nil {
		return models.ExpenseClaim{}, store.ErrClaimNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var locked string
	row := tx.QueryRow(ctx, `
		SELECT claim_id
		FROM expense_claims
		WHERE claim_id = $1 AND company_code = $2
		FOR UPDATE
	`, input.ClaimID, input.CompanyCode)
	if err = row.Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrClaimNotFound
		}
		return models.ExpenseClaim{}, err
	}

	claim, err := getClaim(ctx, tx, input.CompanyCode, input.ClaimID)
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	claim.Trail, err = listTrail(ctx, tx, claim.ClaimID)
	if err != nil {
		return models.ExpenseClaim{}, err
	}

	budget := decimal.Zero
	row = tx.QueryRow(ctx, `
		SELECT budget
		FROM departments
		WHERE department_id = $1 AND company_code = $2
	`, claim.DepartmentID, input.CompanyCode)
	if err = row.Scan(&budget); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.ExpenseClaim{}, err
		}
		err = nil
		claim.DepartmentID = ""
	}

	actor, err := getUser(ctx, tx, input.CompanyCode, input.ActorID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			err = workflow.ErrUnauthorizedApprover
		}
		return models.ExpenseClaim{}, err
	}
	if !actor.Active {
		err = workflow.ErrUnauthorizedApprover
		return models.ExpenseClaim{}, err
	}
	actorDepartment := ""
	if actor.DepartmentID != nil {
		actorDepartment = *actor.DepartmentID
	}

	outcome, err := workflow.Apply(workflow.Input{
		Claim:            claim,
		DepartmentBudget: budget,
		Actor:            workflow.Actor{UserID: input.ActorID, Role: input.ActorRole, DepartmentID: actorDepartment},
		Decision:         input.Decision,
		Comment:          input.Comment,
		At:               s.timestamp(),
	})
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	updated := outcome.Claim

	var pct decimal.NullDecimal
	if updated.BudgetPercentage != nil {
		pct = decimal.NullDecimal{Decimal: *updated.BudgetPercentage, Valid: true}
	}
	if _, err = tx.Exec(ctx, `
		UPDATE expense_claims
		SET status = $1, budget_percentage = $2, cfo_override = $3, updated_at = $4
		WHERE claim_id = $5
	`, updated.Status, pct, updated.CFOOverride, updated.UpdatedAt, updated.ClaimID); err != nil {
		return models.ExpenseClaim{}, err
	}

	entry, err := insertTrailEntry(ctx, tx, outcome.Entry)
	if err != nil {
		return models.ExpenseClaim{}, err
	}
	updated.Trail[len(updated.Trail)-1] = entry

	if err = tx.Commit(ctx); err != nil {
		return models.ExpenseClaim{}, err
	}

	span.SetAttributes(
		attribute.String("expense.from_status", string(entry.FromStatus)),
		attribute.String("expense.to_status", string(entry.ToStatus)),
		attribute.Bool("expense.override", entry.Override),
	)
	return updated, nil
}

func (s *Store) ListTrail(ctx context.Context, companyCode, claimID string) ([]models.TrailEntry, error) {
	if _, err := getClaim(ctx, s.pool, companyCode, claimID); err != nil {
		return nil, err
	}
	return listTrail(ctx, s.pool, claimID)
}

func (s *Store) ApprovalStats(ctx context.Context, companyCode string) (store.ApprovalStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0), COUNT(*) FILTER (WHERE cfo_override)
		FROM expense_claims
		WHERE company_code = $1
		GROUP BY status
	`, companyCode)
	if err != nil {
		return store.ApprovalStats{}, err
	}
	defer rows.Close()

	var counts []store.StatusCount
	for rows.Next() {
		var row store.StatusCount
		if err := rows.Scan(&row.Status, &row.Count, &row.Amount, &row.Overrides); err != nil {
			return store.ApprovalStats{}, err
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return store.ApprovalStats{}, err
	}
	return store.BuildApprovalStats(companyCode, counts), nil
}

func listTrail(ctx context.Context, q querier, claimID string) ([]models.TrailEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT claim_id, seq, approver_id, approver_role, decision, comment, from_status, to_status,
		       budget_percentage, override, created_at, prev_hash, hash
		FROM approval_trail
		WHERE claim_id = $1
		ORDER BY seq ASC
	`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trail := []models.TrailEntry{}
	for rows.Next() {
		var entry models.TrailEntry
		if err := rows.Scan(&entry.ClaimID, &entry.Seq, &entry.ApproverID, &entry.ApproverRole, &entry.Decision, &entry.Comment,
			&entry.FromStatus, &entry.ToStatus, &entry.BudgetPercentage, &entry.Override, &entry.CreatedAt, &entry.PrevHash, &entry.Hash); err != nil {
			return nil, err
		}
		trail = append(trail, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trail, nil
}

// insertTrailEntry appends entry to the claim's hash chain. The advisory lock
// keeps seq allocation safe even for writers that did not lock the claim row.
func insertTrailEntry(ctx context.Context, tx pgx.Tx, entry models.TrailEntry) (models.TrailEntry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.ClaimID); err != nil {
		return models.TrailEntry{}, err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM approval_trail
		WHERE claim_id = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`, entry.ClaimID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.TrailEntry{}, err
	}
	entry.Seq = lastSeq + 1
	entry.PrevHash = ""
	if prevHash.Valid {
		entry.PrevHash = prevHash.String
	}
	entry.Hash = store.ComputeTrailEntryHash(entry.PrevHash, entry.ClaimID, entry.Seq, entry.ApproverRole, entry.Decision, entry.ToStatus, entry.CreatedAt, entry.Comment)

	_, err := tx.Exec(ctx, `
		INSERT INTO approval_trail (
			claim_id, seq, approver_id, approver_role, decision, comment, from_status, to_status,
			budget_percentage, override, created_at, prev_hash, hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, entry.ClaimID, entry.Seq, entry.ApproverID, entry.ApproverRole, entry.Decision, entry.Comment, entry.FromStatus, entry.ToStatus,
		entry.BudgetPercentage, entry.Override, entry.CreatedAt, entry.PrevHash, entry.Hash)
	if err != nil {
		return models.TrailEntry{}, err
	}
	return entry, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
