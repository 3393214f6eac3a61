package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/veridianlabs/storycore/internal/repository"
)

// DuplicateCheckProcessor hashes the response an act produced and rejects
// rows in its target table whose content was already inserted for an
// identical hash within Window. It runs after ContentProcessor in
// registration order, since it inspects rows ContentProcessor just wrote
// rather than writing its own.
type DuplicateCheckProcessor struct {
	Window time.Duration
	now    func() time.Time
}

// NewDuplicateCheckProcessor builds a processor that treats two rows in the
// same table as duplicates when they come from the same narrative and act,
// their content hashes match, and both were created within window before
// now (at any age when window is zero).
func NewDuplicateCheckProcessor(window time.Duration) *DuplicateCheckProcessor {
	return &DuplicateCheckProcessor{Window: window, now: time.Now}
}

func (d *DuplicateCheckProcessor) Name() string { return "duplicate_check" }

func (d *DuplicateCheckProcessor) ShouldProcess(_ context.Context, pctx Context) bool {
	return pctx.ActExecution.Response != ""
}

func (d *DuplicateCheckProcessor) Process(ctx context.Context, pctx Context) (any, error) {
	table := pctx.NarrativeMeta.Name
	if table == "" {
		table = pctx.NarrativeName
	}
	hash := hashContent([]byte(pctx.ActExecution.Response))

	rows, err := pctx.Repo.ListContent(ctx, table, "", 0)
	if err != nil {
		return nil, err
	}

	cutoff := d.now().Add(-d.Window)
	var newest *repository.ContentRow
	rejected := 0
	for i := range rows {
		row := &rows[i]
		if row.SourceNarrative != pctx.NarrativeName || row.SourceAct != pctx.ActExecution.ActName {
			continue
		}
		if hashContent(row.Content) != hash {
			continue
		}
		if d.Window > 0 && row.CreatedAt.Before(cutoff) {
			continue
		}
		if newest == nil || row.CreatedAt.After(newest.CreatedAt) {
			if newest != nil {
				if err := pctx.Repo.UpdateReviewStatus(ctx, table, olderOf(newest, row).ID, repository.ReviewRejected); err != nil {
					return rejected, err
				}
				rejected++
			}
			newest = row
		} else {
			if err := pctx.Repo.UpdateReviewStatus(ctx, table, row.ID, repository.ReviewRejected); err != nil {
				return rejected, err
			}
			rejected++
		}
	}
	return rejected, nil
}

func olderOf(a, b *repository.ContentRow) *repository.ContentRow {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a
	}
	return b
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
