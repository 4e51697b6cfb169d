package store

import "errors"

var (
	ErrCompanyCodeTaken    = errors.New("company code already registered")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserInactive        = errors.New("user inactive")
	ErrUserHasClaims       = errors.New("user has expense claims")
	ErrUserHasApprovals    = errors.New("user has recorded approval decisions")
	ErrManagerNotFound     = errors.New("manager not found")
	ErrNoDepartment        = errors.New("user has no department")
	ErrDepartmentNotFound  = errors.New("department not found")
	ErrDepartmentNameTaken = errors.New("department name already exists")
	ErrDepartmentHasUsers  = errors.New("department has assigned users")
	ErrDepartmentHasClaims = errors.New("department has expense claims")
	ErrNoFields            = errors.New("no fields to update")
	ErrClaimNotFound       = errors.New("expense claim not found")
	ErrTrailTampered       = errors.New("approval trail hash mismatch")
)
