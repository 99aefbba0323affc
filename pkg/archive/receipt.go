package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
)

// ReceiptSuffix is appended to a result key to name its archive receipt.
const ReceiptSuffix = job.ReceiptSuffix

// Receipt records a completed cold upload next to the hot result. It lets a
// later sweep finish a migration whose record update or hot delete failed
// without uploading the result again.
type Receipt struct {
	JobID      string    `json:"job_id"`
	ArchiveID  string    `json:"archive_id"`
	Vault      string    `json:"vault"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ReceiptKey returns the receipt key for a result key.
func ReceiptKey(resultKey string) string {
	return job.ReceiptKey(resultKey)
}

func readReceipt(ctx context.Context, p provider.ObjectGetter, resultKey string) (*Receipt, error) {
	data, err := provider.ReadAll(ctx, p, ReceiptKey(resultKey))
	if err != nil {
		if provider.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse receipt %s: %w", ReceiptKey(resultKey), err)
	}
	if r.ArchiveID == "" {
		return nil, nil
	}
	return &r, nil
}

func writeReceipt(ctx context.Context, p provider.ObjectPutter, resultKey string, r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return p.PutObject(ctx, ReceiptKey(resultKey), bytes.NewReader(data), int64(len(data)))
}
