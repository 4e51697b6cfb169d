package postgres

import (
	"context"
	"errors"
	"strings"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

func (s *Store) RegisterCompany(ctx context.Context, input store.RegisterInput) (models.Company, models.User, error) {
	passwordHash, err := hashPassword(input.Password)
	if err != nil {
		return models.Company{}, models.User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Company{}, models.User{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.timestamp()
	company := models.Company{
		CompanyID:   uuid.NewString(),
		CompanyCode: input.CompanyCode,
		Name:        input.CompanyName,
		Country:     input.Country,
		CreatedAt:   now,
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO companies (company_id, company_code, name, country, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, company.CompanyID, company.CompanyCode, company.Name, company.Country, company.CreatedAt); err != nil {
		err = translateError(err)
		return models.Company{}, models.User{}, err
	}

	code, err := nextCode(ctx, tx, company.CompanyCode, store.CodeKindAdmin)
	if err != nil {
		return models.Company{}, models.User{}, err
	}

	admin := models.User{
		UserID:       uuid.NewString(),
		CompanyCode:  company.CompanyCode,
		CompanyName:  company.Name,
		EmployeeCode: code,
		Name:         input.AdminName,
		Email:        strings.ToLower(strings.TrimSpace(input.AdminEmail)),
		Role:         models.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO users (user_id, company_code, employee_code, name, email, password_hash, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
	`, admin.UserID, admin.CompanyCode, admin.EmployeeCode, admin.Name, admin.Email, passwordHash, admin.Role, now); err != nil {
		err = translateError(err)
		return models.Company{}, models.User{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Company{}, models.User{}, err
	}
	return company, admin, nil
}

func (s *Store) Authenticate(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
	var passwordHash string
	row := s.pool.QueryRow(ctx, userSelect+`
		WHERE lower(u.email) = lower($1) AND u.role = $2 AND u.active = TRUE
	`, strings.TrimSpace(input.Email), input.Role)
	user, err := scanUser(row, &passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.LoginResult{}, store.ErrInvalidCredentials
		}
		return store.LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(input.Password)); err != nil {
		return store.LoginResult{}, store.ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, user.UserID)
	if err != nil {
		return store.LoginResult{}, err
	}
	return store.LoginResult{User: user, Session: session}, nil
}

func (s *Store) createSession(ctx context.Context, userID string) (models.Session, error) {
	session := models.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		ExpiresAt: s.timestamp().Add(s.sessionTTL),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, session.SessionID, session.UserID, session.ExpiresAt)
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, models.User, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return models.Session{}, models.User{}, store.ErrSessionNotFound
	}

	var session models.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, models.User{}, store.ErrSessionNotFound
		}
		return models.Session{}, models.User{}, err
	}

	row = s.pool.QueryRow(ctx, userSelect+`
		WHERE u.user_id = $1 AND u.active = TRUE
	`, session.UserID)
	user, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, models.User{}, store.ErrSessionNotFound
		}
		return models.Session{}, models.User{}, err
	}
	return session, user, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return store.ErrSessionNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}
