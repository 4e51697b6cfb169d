package store

import (
	"errors"
	"testing"
	"time"

	"expenseflow/expense-service/internal/models"
)

func buildTrail(t *testing.T) []models.TrailEntry {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	steps := []struct {
		role   models.Role
		to     models.Status
		remark string
	}{
		{models.RoleManager, models.StatusPendingCFOApproval, "ok by manager"},
		{models.RoleCFO, models.StatusPendingCEOApproval, "ok by cfo"},
		{models.RoleCEO, models.StatusApprovedByCEO, "ok by ceo"},
	}
	var entries []models.TrailEntry
	prev := ""
	for i, step := range steps {
		entry := models.TrailEntry{
			ClaimID:      "claim-1",
			Seq:          i + 1,
			ApproverRole: step.role,
			Decision:     models.DecisionApprove,
			ToStatus:     step.to,
			Comment:      step.remark,
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
			PrevHash:     prev,
		}
		entry.Hash = ComputeTrailEntryHash(prev, entry.ClaimID, entry.Seq, entry.ApproverRole, entry.Decision, entry.ToStatus, entry.CreatedAt, entry.Comment)
		prev = entry.Hash
		entries = append(entries, entry)
	}
	return entries
}

func TestComputeTrailEntryHashDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := ComputeTrailEntryHash("", "claim-1", 1, models.RoleManager, models.DecisionApprove, models.StatusApprovedByManager, at, "fine")
	b := ComputeTrailEntryHash("", "claim-1", 1, models.RoleManager, models.DecisionApprove, models.StatusApprovedByManager, at.In(time.FixedZone("IST", 19800)), "fine")
	if a != b {
		t.Fatalf("expected hash to ignore time zone, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
	c := ComputeTrailEntryHash("", "claim-1", 1, models.RoleManager, models.DecisionApprove, models.StatusApprovedByManager, at, "fine!")
	if a == c {
		t.Fatalf("expected comment to change hash")
	}
}

func TestVerifyTrail(t *testing.T) {
	entries := buildTrail(t)
	if err := VerifyTrail(entries); err != nil {
		t.Fatalf("expected valid trail, got %v", err)
	}
	if err := VerifyTrail(nil); err != nil {
		t.Fatalf("expected empty trail to verify, got %v", err)
	}

	edited := buildTrail(t)
	edited[1].Comment = "rewritten"
	if err := VerifyTrail(edited); !errors.Is(err, ErrTrailTampered) {
		t.Fatalf("expected ErrTrailTampered for edited comment, got %v", err)
	}

	dropped := buildTrail(t)
	dropped = append(dropped[:1], dropped[2:]...)
	if err := VerifyTrail(dropped); !errors.Is(err, ErrTrailTampered) {
		t.Fatalf("expected ErrTrailTampered for removed entry, got %v", err)
	}
}

func TestFormatCode(t *testing.T) {
	cases := []struct {
		kind string
		n    int64
		want string
	}{
		{CodeKindEmployee, 1, "EMP-0001"},
		{CodeKindDepartment, 42, "DEPT-0042"},
		{CodeKindAdmin, 12345, "ADMIN-12345"},
	}
	for _, tt := range cases {
		if got := FormatCode(tt.kind, tt.n); got != tt.want {
			t.Fatalf("FormatCode(%q, %d)=%q, want %q", tt.kind, tt.n, got, tt.want)
		}
	}
}
