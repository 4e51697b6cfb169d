package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const userSelect = `
	SELECT u.user_id, u.company_code, c.name, u.employee_code, u.name, u.email, u.role,
	       u.department_id, d.name, u.manager_id, m.name, u.active, u.created_at, u.updated_at,
	       u.password_hash
	FROM users u
	JOIN companies c ON c.company_code = u.company_code
	LEFT JOIN departments d ON d.department_id = u.department_id
	LEFT JOIN users m ON m.user_id = u.manager_id
`

// scanUser reads one userSelect row; passwordHash may be nil when the caller
// has no use for it.
func scanUser(row pgx.Row, passwordHash *string) (models.User, error) {
	var user models.User
	var departmentID, departmentName, managerID, managerName sql.NullString
	var hash string
	if err := row.Scan(
		&user.UserID, &user.CompanyCode, &user.CompanyName, &user.EmployeeCode, &user.Name, &user.Email, &user.Role,
		&departmentID, &departmentName, &managerID, &managerName, &user.Active, &user.CreatedAt, &user.UpdatedAt,
		&hash,
	); err != nil {
		return models.User{}, err
	}
	user.DepartmentID = nullStringPtr(departmentID)
	user.DepartmentName = nullStringPtr(departmentName)
	user.ManagerID = nullStringPtr(managerID)
	user.ManagerName = nullStringPtr(managerName)
	if passwordHash != nil {
		*passwordHash = hash
	}
	return user, nil
}

func getUser(ctx context.Context, q querier, companyCode, userID string) (models.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return models.User{}, store.ErrUserNotFound
	}
	row := q.QueryRow(ctx, userSelect+`
		WHERE u.user_id = $1 AND u.company_code = $2
	`, userID, companyCode)
	user, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	passwordHash, err := hashPassword(input.Password)
	if err != nil {
		return models.User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var departmentID string
	switch {
	case input.DepartmentID != "":
		departmentID, err = resolveDepartmentID(ctx, tx, input.CompanyCode, input.DepartmentID)
	case input.DepartmentName != "":
		departmentID, err = resolveDepartmentByName(ctx, tx, input.CompanyCode, input.DepartmentName)
	}
	if err != nil {
		return models.User{}, err
	}

	if input.ManagerID != "" {
		if err = ensureManager(ctx, tx, input.CompanyCode, input.ManagerID); err != nil {
			return models.User{}, err
		}
	}

	code, err := nextCode(ctx, tx, input.CompanyCode, store.CodeKindEmployee)
	if err != nil {
		return models.User{}, err
	}

	userID := uuid.NewString()
	now := s.timestamp()
	if _, err = tx.Exec(ctx, `
		INSERT INTO users (
			user_id, company_code, employee_code, name, email, password_hash, role,
			department_id, manager_id, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE,$10,$10)
	`, userID, input.CompanyCode, code, strings.TrimSpace(input.Name), strings.ToLower(strings.TrimSpace(input.Email)),
		passwordHash, input.Role, nullIfEmpty(departmentID), nullIfEmpty(input.ManagerID), now); err != nil {
		err = translateError(err)
		return models.User{}, err
	}

	user, err := getUser(ctx, tx, input.CompanyCode, userID)
	if err != nil {
		return models.User{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) UpdateUser(ctx context.Context, input store.UpdateUserInput) (models.User, error) {
	if _, err := uuid.Parse(input.UserID); err != nil {
		return models.User{}, store.ErrUserNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if input.Name != nil {
		add("name", strings.TrimSpace(*input.Name))
	}
	if input.Email != nil {
		add("email", strings.ToLower(strings.TrimSpace(*input.Email)))
	}
	if input.Password != nil {
		var passwordHash string
		passwordHash, err = hashPassword(*input.Password)
		if err != nil {
			return models.User{}, err
		}
		add("password_hash", passwordHash)
	}
	if input.Role != nil {
		add("role", *input.Role)
	}
	if input.DepartmentID != nil {
		var departmentID string
		if *input.DepartmentID != "" {
			departmentID, err = resolveDepartmentID(ctx, tx, input.CompanyCode, *input.DepartmentID)
			if err != nil {
				return models.User{}, err
			}
		}
		add("department_id", nullIfEmpty(departmentID))
	}
	if input.ManagerID != nil {
		if *input.ManagerID != "" {
			if *input.ManagerID == input.UserID {
				err = store.ErrManagerNotFound
				return models.User{}, err
			}
			if err = ensureManager(ctx, tx, input.CompanyCode, *input.ManagerID); err != nil {
				return models.User{}, err
			}
		}
		add("manager_id", nullIfEmpty(*input.ManagerID))
	}
	if input.Active != nil {
		add("active", *input.Active)
	}
	if len(sets) == 0 {
		err = store.ErrNoFields
		return models.User{}, err
	}
	add("updated_at", s.timestamp())

	args = append(args, input.UserID, input.CompanyCode)
	query := fmt.Sprintf(`
		UPDATE users
		SET %s
		WHERE user_id = $%d AND company_code = $%d
	`, strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		err = translateError(err)
		return models.User{}, err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrUserNotFound
		return models.User{}, err
	}

	user, err := getUser(ctx, tx, input.CompanyCode, input.UserID)
	if err != nil {
		return models.User{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// DeleteUser removes a user that owns no claims and has decided none.
func (s *Store) DeleteUser(ctx context.Context, companyCode, userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return store.ErrUserNotFound
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
		FROM users
		WHERE user_id = $1 AND company_code = $2
		FOR UPDATE
	`, userID, companyCode)
	if err = row.Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrUserNotFound
		}
		return err
	}

	var hasClaims, hasApprovals bool
	row = tx.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM expense_claims WHERE employee_id = $1),
			EXISTS (SELECT 1 FROM approval_trail WHERE approver_id = $1)
	`, userID)
	if err = row.Scan(&hasClaims, &hasApprovals); err != nil {
		return err
	}
	switch {
	case hasClaims:
		err = store.ErrUserHasClaims
		return err
	case hasApprovals:
		err = store.ErrUserHasApprovals
		return err
	}

	if _, err = tx.Exec(ctx, `
		DELETE FROM users
		WHERE user_id = $1 AND company_code = $2
	`, userID, companyCode); err != nil {
		if isForeignKeyViolation(err) {
			err = deleteUserConflict(err)
		}
		return err
	}
	return tx.Commit(ctx)
}

// deleteUserConflict maps a foreign key violation raised by a concurrent
// insert to the referencing table.
func deleteUserConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.TableName == "approval_trail" {
		return store.ErrUserHasApprovals
	}
	return store.ErrUserHasClaims
}

func (s *Store) ListUsers(ctx context.Context, companyCode string) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, userSelect+`
		WHERE u.company_code = $1
		ORDER BY u.created_at ASC, u.employee_code ASC
	`, companyCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows, nil)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func ensureManager(ctx context.Context, q querier, companyCode, managerID string) error {
	if _, err := uuid.Parse(managerID); err != nil {
		return store.ErrManagerNotFound
	}
	var exists bool
	row := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE user_id = $1 AND company_code = $2 AND active = TRUE
		)
	`, managerID, companyCode)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrManagerNotFound
	}
	return nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
