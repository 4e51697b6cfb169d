package store

import (
	"crypto/sha256"
	"fmt"
	"time"

	"expenseflow/expense-service/internal/models"
)

func ComputeTrailEntryHash(prevHash, claimID string, seq int, role models.Role, decision models.Decision, toStatus models.Status, createdAt time.Time, comment string) string {
	raw := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s", prevHash, claimID, seq, role, decision, toStatus, createdAt.UTC().Format(time.RFC3339Nano), comment)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTrail walks the chain in seq order and reports the first entry whose
// sequence, link or hash does not match.
func VerifyTrail(entries []models.TrailEntry) error {
	prev := ""
	for i, entry := range entries {
		if entry.Seq != i+1 {
			return fmt.Errorf("%w: entry %d has seq %d", ErrTrailTampered, i+1, entry.Seq)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("%w: entry %d broken link", ErrTrailTampered, entry.Seq)
		}
		want := ComputeTrailEntryHash(prev, entry.ClaimID, entry.Seq, entry.ApproverRole, entry.Decision, entry.ToStatus, entry.CreatedAt, entry.Comment)
		if entry.Hash != want {
			return fmt.Errorf("%w: entry %d", ErrTrailTampered, entry.Seq)
		}
		prev = entry.Hash
	}
	return nil
}
