package restore

import (
	"context"
	"fmt"
	"path"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
)

// UpgradeRequest names where restore requests for a user go.
type UpgradeRequest struct {
	UserID        string
	ArchiveTopic  string
	VaultName     string
	ResultsBucket string
}

// RequestForUser publishes a restore request for each of the user's archived
// results and returns how many were published.
func RequestForUser(ctx context.Context, store jobstore.Store, pub notify.Publisher, req UpgradeRequest) (int, error) {
	recs, err := store.ListArchived(ctx, req.UserID)
	if err != nil {
		return 0, fmt.Errorf("list archived jobs: %w", err)
	}
	sent := 0
	for _, rec := range recs {
		notice := &message.ArchiveNotice{
			JobID:         rec.JobID,
			ArchiveID:     rec.ArchiveID,
			UserID:        rec.UserID,
			FileName:      path.Base(rec.ResultKey),
			ResultsBucket: req.ResultsBucket,
			VaultName:     req.VaultName,
		}
		if err := pub.Publish(ctx, req.ArchiveTopic, message.EventRestoreRequested, notice); err != nil {
			return sent, fmt.Errorf("publish restore request for %s: %w", rec.JobID, err)
		}
		sent++
	}
	return sent, nil
}
