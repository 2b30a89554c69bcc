package usecase

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/observability"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// ReconcileUseCase merges the staged ledger into the vector store under a
// named conflict policy.
type ReconcileUseCase struct {
	stage port.Stage
	store port.VectorStore
	log   *slog.Logger
}

func NewReconcileUseCase(stage port.Stage, store port.VectorStore, log *slog.Logger) *ReconcileUseCase {
	return &ReconcileUseCase{stage: stage, store: store, log: log}
}

// Reconcile streams the ledger into the store in one transaction.
//
// In skip mode the store's identifiers are loaded once up front and any row
// whose identifier is already stored is left alone. In upsert mode every row
// overwrites. Rows that fail to parse or have the wrong dimension are
// recorded and skipped; a store error rolls back the whole pass.
//
// A missing ledger yields an error coded errs.CodeNothingToReconcile, which
// callers treat as a no-op.
func (u *ReconcileUseCase) Reconcile(ctx context.Context, mode domain.ReconcileMode) (domain.PassSummary, error) {
	ctx, span := observability.StartPassSpan(ctx, "reconcile", attribute.String("reconcile.mode", mode.String()))
	defer span.End()

	summary, err := u.reconcile(ctx, mode)
	observability.RecordPassSummary(span, summary)
	if !errs.HasCode(err, errs.CodeNothingToReconcile) {
		observability.RecordError(span, err)
	}
	return summary, err
}

func (u *ReconcileUseCase) reconcile(ctx context.Context, mode domain.ReconcileMode) (domain.PassSummary, error) {
	var summary domain.PassSummary

	if !u.stage.Exists() {
		return summary, errs.New(errs.CodeNothingToReconcile, "ledger not found, nothing to reconcile")
	}

	var stored map[string]struct{}
	if mode == domain.ReconcileSkipExisting {
		ids, err := u.store.Identifiers(ctx)
		if err != nil {
			return summary, err
		}
		stored = ids
	}

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return summary, err
	}

	dim := u.store.Dimension()
	err = u.stage.Scan(ctx, func(rec domain.EmbeddingRecord, rowErr error) error {
		if rowErr != nil {
			u.rowFailed(&summary, rec.Identifier, rowErr)
			return nil
		}
		if rec.Dimension() != dim {
			u.rowFailed(&summary, rec.Identifier, errs.New(errs.CodeParse, "embedding dimension mismatch",
				errs.Field("expected", dim), errs.Field("actual", rec.Dimension())))
			return nil
		}

		switch mode {
		case domain.ReconcileUpsert:
			if err := tx.Upsert(ctx, rec); err != nil {
				return err
			}
			summary.Succeeded++
		default:
			if _, ok := stored[rec.Identifier]; ok {
				summary.Skipped++
				return nil
			}
			written, err := tx.InsertIfAbsent(ctx, rec)
			if err != nil {
				return err
			}
			stored[rec.Identifier] = struct{}{}
			if written {
				summary.Succeeded++
			} else {
				summary.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			u.log.Error("rollback failed", "error", rbErr)
		}
		summary.Succeeded = 0
		return summary, err
	}

	if err := tx.Commit(ctx); err != nil {
		summary.Succeeded = 0
		return summary, err
	}

	u.log.Info("reconciliation finished",
		"mode", mode.String(), "written", summary.Succeeded, "skipped", summary.Skipped, "failed", summary.FailedCount())
	return summary, nil
}

func (u *ReconcileUseCase) rowFailed(summary *domain.PassSummary, id string, err error) {
	code := errs.CodeString(err)
	u.log.Warn("skipping ledger row", "identifier", id, "code", code, "error", err)
	summary.Fail(id, code, err)
}
