package semantic

import (
	"context"
	"log/slog"
	"time"

	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
)

// DriftKind categorizes a cross-store inconsistency.
type DriftKind string

const (
	// DriftOrphanKeyword is a keyword document with no chunk record.
	DriftOrphanKeyword DriftKind = "orphan_keyword"
	// DriftOrphanVector is a vector with no chunk record.
	DriftOrphanVector DriftKind = "orphan_vector"
	// DriftMissingKeyword is a chunk record with no keyword document.
	DriftMissingKeyword DriftKind = "missing_keyword"
	// DriftMissingVector is a chunk record with no vector.
	DriftMissingVector DriftKind = "missing_vector"
)

// Drift is one detected divergence between chunk metadata and a derived
// index.
type Drift struct {
	Kind    DriftKind `json:"kind"`
	ChunkID string    `json:"chunk_id"`
}

// VerifyResult reports one consistency pass over a partition's stores.
type VerifyResult struct {
	Checked  int           `json:"checked"`
	Drifts   []Drift       `json:"drifts,omitempty"`
	Repaired int           `json:"repaired"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Clean reports whether the pass found no drift.
func (r *VerifyResult) Clean() bool { return len(r.Drifts) == 0 }

// Verify cross-checks the keyword and vector indexes against chunk
// metadata, the source of truth. Orphans appear when a delete partially
// fails, missing entries after an interrupted build. With repair set,
// orphans are deleted best-effort; missing entries always need a forced
// rebuild, so they are only reported.
func (b *Backend) Verify(ctx context.Context, repair bool) (*VerifyResult, error) {
	start := time.Now()

	metaIDs, err := b.meta.AllChunkIDs(ctx)
	if err != nil {
		return nil, corpuserr.IOError("list chunk ids", err)
	}
	known := make(map[string]bool, len(metaIDs))
	for _, id := range metaIDs {
		known[id] = true
	}

	result := &VerifyResult{Checked: len(metaIDs)}

	keywordIDs, err := b.bm25.AllIDs()
	if err != nil {
		b.logger.Warn("keyword index unreadable during verify",
			slog.String("partition", b.partition),
			slog.String("error", err.Error()))
	}
	vectorIDs := b.vector.AllIDs()

	var orphanKeyword, orphanVector []string
	inKeyword := make(map[string]bool, len(keywordIDs))
	for _, id := range keywordIDs {
		inKeyword[id] = true
		if !known[id] {
			orphanKeyword = append(orphanKeyword, id)
			result.Drifts = append(result.Drifts, Drift{Kind: DriftOrphanKeyword, ChunkID: id})
		}
	}
	inVector := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		inVector[id] = true
		if !known[id] {
			orphanVector = append(orphanVector, id)
			result.Drifts = append(result.Drifts, Drift{Kind: DriftOrphanVector, ChunkID: id})
		}
	}

	missing := 0
	for _, id := range metaIDs {
		if !inKeyword[id] {
			missing++
			result.Drifts = append(result.Drifts, Drift{Kind: DriftMissingKeyword, ChunkID: id})
		}
		if !inVector[id] {
			missing++
			result.Drifts = append(result.Drifts, Drift{Kind: DriftMissingVector, ChunkID: id})
		}
	}

	if repair && len(orphanKeyword) > 0 {
		if err := b.bm25.Delete(ctx, orphanKeyword); err != nil {
			b.logger.Warn("orphan keyword cleanup failed",
				slog.String("partition", b.partition),
				slog.Int("count", len(orphanKeyword)),
				slog.String("error", err.Error()))
		} else {
			result.Repaired += len(orphanKeyword)
		}
	}
	if repair && len(orphanVector) > 0 {
		if err := b.vector.Delete(ctx, orphanVector); err != nil {
			b.logger.Warn("orphan vector cleanup failed",
				slog.String("partition", b.partition),
				slog.Int("count", len(orphanVector)),
				slog.String("error", err.Error()))
		} else {
			result.Repaired += len(orphanVector)
		}
	}

	if missing > 0 {
		b.logger.Warn("index entries missing, run 'corpusmcp build --force' to rebuild",
			slog.String("partition", b.partition),
			slog.Int("missing", missing))
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// QuickVerify compares store counts only, cheap enough for preflight. A
// false result means Verify (or a forced rebuild) is warranted.
func (b *Backend) QuickVerify(ctx context.Context) (bool, error) {
	ids, err := b.meta.AllChunkIDs(ctx)
	if err != nil {
		return false, corpuserr.IOError("list chunk ids", err)
	}
	chunks := len(ids)

	documents := 0
	if s := b.bm25.Stats(); s != nil {
		documents = s.DocumentCount
	}
	vectors := b.vector.Count()

	if chunks != documents || chunks != vectors {
		b.logger.Debug("store counts diverge",
			slog.String("partition", b.partition),
			slog.Int("chunks", chunks),
			slog.Int("keyword_documents", documents),
			slog.Int("vectors", vectors))
		return false, nil
	}
	return true, nil
}
