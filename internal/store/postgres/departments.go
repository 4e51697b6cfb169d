package postgres

import (
	"context"
	"errors"
	"strings"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const departmentSelect = `
	SELECT d.department_id, d.company_code, d.name, d.dept_code, d.budget,
	       (SELECT COUNT(1) FROM users u WHERE u.department_id = d.department_id),
	       d.created_at, d.updated_at
	FROM departments d
`

func scanDepartment(row pgx.Row) (models.Department, error) {
	var dept models.Department
	if err := row.Scan(&dept.DepartmentID, &dept.CompanyCode, &dept.Name, &dept.DeptCode, &dept.Budget, &dept.UserCount, &dept.CreatedAt, &dept.UpdatedAt); err != nil {
		return models.Department{}, err
	}
	return dept, nil
}

func getDepartment(ctx context.Context, q querier, companyCode, departmentID string) (models.Department, error) {
	if _, err := uuid.Parse(departmentID); err != nil {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	row := q.QueryRow(ctx, departmentSelect+`
		WHERE d.department_id = $1 AND d.company_code = $2
	`, departmentID, companyCode)
	dept, err := scanDepartment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return dept, nil
}

func (s *Store) CreateDepartment(ctx context.Context, input store.CreateDepartmentInput) (models.Department, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Department{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	code, err := nextCode(ctx, tx, input.CompanyCode, store.CodeKindDepartment)
	if err != nil {
		return models.Department{}, err
	}

	now := s.timestamp()
	dept := models.Department{
		DepartmentID: uuid.NewString(),
		CompanyCode:  input.CompanyCode,
		Name:         strings.TrimSpace(input.Name),
		DeptCode:     code,
		Budget:       input.Budget,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO departments (department_id, company_code, name, dept_code, budget, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, dept.DepartmentID, dept.CompanyCode, dept.Name, dept.DeptCode, dept.Budget, now); err != nil {
		err = translateError(err)
		return models.Department{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Department{}, err
	}
	return dept, nil
}

func (s *Store) UpdateDepartmentBudget(ctx context.Context, companyCode, departmentID string, budget decimal.Decimal) (models.Department, error) {
	if _, err := uuid.Parse(departmentID); err != nil {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE departments
		SET budget = $1, updated_at = $2
		WHERE department_id = $3 AND company_code = $4
	`, budget, s.timestamp(), departmentID, companyCode)
	if err != nil {
		return models.Department{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	return getDepartment(ctx, s.pool, companyCode, departmentID)
}

func (s *Store) DeleteDepartment(ctx context.Context, companyCode, departmentID string) error {
	if _, err := uuid.Parse(departmentID); err != nil {
		return store.ErrDepartmentNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var found bool
	row := tx.QueryRow(ctx, `
		SELECT TRUE
		FROM departments
		WHERE department_id = $1 AND company_code = $2
		FOR UPDATE
	`, departmentID, companyCode)
	if err = row.Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrDepartmentNotFound
		}
		return err
	}

	var count int
	row = tx.QueryRow(ctx, `
		SELECT COUNT(1)
		FROM users
		WHERE department_id = $1
	`, departmentID)
	if err = row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		err = store.ErrDepartmentHasUsers
		return err
	}

	if _, err = tx.Exec(ctx, `
		DELETE FROM departments
		WHERE department_id = $1 AND company_code = $2
	`, departmentID, companyCode); err != nil {
		if isForeignKeyViolation(err) {
			err = store.ErrDepartmentHasClaims
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListDepartments(ctx context.Context, companyCode string) ([]models.Department, error) {
	rows, err := s.pool.Query(ctx, departmentSelect+`
		WHERE d.company_code = $1
		ORDER BY d.name ASC
	`, companyCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	departments := []models.Department{}
	for rows.Next() {
		dept, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		departments = append(departments, dept)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *Store) BudgetOverview(ctx context.Context, companyCode string) (store.BudgetOverview, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.department_id, d.name, d.dept_code, d.budget,
		       (SELECT COUNT(1) FROM users u WHERE u.department_id = d.department_id),
		       COALESCE(SUM(e.amount) FILTER (WHERE e.status = ANY($2)), 0),
		       COALESCE(SUM(e.amount) FILTER (WHERE e.status = ANY($3)), 0)
		FROM departments d
		LEFT JOIN expense_claims e ON e.department_id = d.department_id
		WHERE d.company_code = $1
		GROUP BY d.department_id
		ORDER BY d.name ASC
	`, companyCode, statusStrings(approvedStatuses), statusStrings(store.OpenStatuses))
	if err != nil {
		return store.BudgetOverview{}, err
	}
	defer rows.Close()

	var spend []store.DepartmentSpend
	for rows.Next() {
		var row store.DepartmentSpend
		if err := rows.Scan(&row.DepartmentID, &row.Name, &row.DeptCode, &row.Budget, &row.UserCount, &row.ApprovedSpend, &row.PendingSpend); err != nil {
			return store.BudgetOverview{}, err
		}
		spend = append(spend, row)
	}
	if err := rows.Err(); err != nil {
		return store.BudgetOverview{}, err
	}
	return store.BuildBudgetOverview(companyCode, spend), nil
}

func resolveDepartmentID(ctx context.Context, q querier, companyCode, departmentID string) (string, error) {
	dept, err := getDepartment(ctx, q, companyCode, departmentID)
	if err != nil {
		return "", err
	}
	return dept.DepartmentID, nil
}

func resolveDepartmentByName(ctx context.Context, q querier, companyCode, name string) (string, error) {
	var departmentID string
	row := q.QueryRow(ctx, `
		SELECT department_id
		FROM departments
		WHERE company_code = $1 AND lower(name) = lower($2)
	`, companyCode, strings.TrimSpace(name))
	if err := row.Scan(&departmentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrDepartmentNotFound
		}
		return "", err
	}
	return departmentID, nil
}
