package store

import "fmt"

const (
	CodeKindEmployee   = "EMP"
	CodeKindAdmin      = "ADMIN"
	CodeKindDepartment = "DEPT"

	codePad = 4
)

// FormatCode renders a per-tenant sequence number, e.g. EMP-0001.
func FormatCode(kind string, n int64) string {
	return fmt.Sprintf("%s-%0*d", kind, codePad, n)
}
