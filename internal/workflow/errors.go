package workflow

import "errors"

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnauthorizedApprover   = errors.New("unauthorized approver")
	ErrMissingApprovalComment = errors.New("missing approval comment")
	ErrInvalidBudgetContext   = errors.New("invalid budget context")
	ErrInvalidDecision        = errors.New("invalid decision")
	ErrInvalidAmount          = errors.New("invalid claim amount")
)
