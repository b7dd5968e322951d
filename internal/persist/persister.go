package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"rythmo/internal/blobstore"
	"rythmo/internal/logging"
	"rythmo/internal/store"
)

// checkpointEvery is how many writes a Writer performs between cancellation checks.
const checkpointEvery = 10

// Checker reports whether the run should stop. cancellation.Source satisfies it.
type Checker interface {
	Check(ctx context.Context) error
}

// Persister applies and reverts run results.
type Persister struct {
	store  *store.Store
	blobs  blobstore.Store
	logger *slog.Logger
}

// New constructs a Persister. blobs may be nil when no pipeline writes blobs.
func New(st *store.Store, blobs blobstore.Store, logger *slog.Logger) *Persister {
	return &Persister{
		store:  st,
		blobs:  blobs,
		logger: logging.NewComponentLogger(logger, "persist"),
	}
}

// Blobs exposes the blob backend.
func (p *Persister) Blobs() blobstore.Store {
	return p.blobs
}

// Commit runs fn inside a single transaction. Readers see either none or all
// of its writes. The ledger learns about the writes only once the transaction
// has committed; a failed or cancelled commit leaves nothing behind.
func (p *Persister) Commit(ctx context.Context, ledger *Ledger, checker Checker, fn func(*Writer) error) error {
	if ledger == nil {
		return errors.New("persist: ledger required")
	}
	if checker != nil {
		if err := checker.Check(ctx); err != nil {
			return err
		}
	}
	w := &Writer{ledger: ledger, checker: checker, pending: newPending()}
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		w.tx = tx
		return fn(w)
	})
	if err != nil {
		return err
	}
	ledger.merge(w.pending)
	return nil
}

// Rollback undoes everything in the ledger: created records are deleted by
// id, overwritten texts and project fields are restored, and blobs are
// removed. It runs even when ctx is already cancelled.
func (p *Persister) Rollback(ctx context.Context, ledger *Ledger) error {
	if ledger == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	summary := ledger.Summary()
	if summary.Empty() {
		return nil
	}
	sceneChanges, characters, timecodes, texts, fields, blobs := ledger.snapshot()

	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.DeleteTimecodes(ctx, timecodes); err != nil {
			return err
		}
		if _, err := tx.DeleteCharacters(ctx, characters); err != nil {
			return err
		}
		if _, err := tx.DeleteSceneChanges(ctx, sceneChanges); err != nil {
			return err
		}
		for id, text := range texts {
			if err := tx.RestoreTimecodeText(ctx, id, text); err != nil {
				return err
			}
		}
		for field, value := range fields {
			if _, err := tx.SetProjectField(ctx, ledger.ProjectID, field, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rollback run %s: %w", ledger.RunID, err)
	}

	var blobErrs []error
	if p.blobs != nil {
		for _, key := range blobs {
			if err := p.blobs.Delete(ctx, key); err != nil {
				blobErrs = append(blobErrs, err)
			}
		}
	}
	ledger.clear()

	p.logger.Info("run rolled back",
		logging.Int64(logging.FieldProjectID, ledger.ProjectID),
		logging.String(logging.FieldRunID, ledger.RunID),
		logging.Int("scene_changes", summary.SceneChanges),
		logging.Int("characters", summary.Characters),
		logging.Int("timecodes", summary.Timecodes),
		logging.Int("texts_restored", summary.Texts),
		logging.Int("fields_restored", summary.Fields),
		logging.Int("blobs", summary.Blobs),
	)
	if len(blobErrs) > 0 {
		return fmt.Errorf("rollback run %s blobs: %w", ledger.RunID, errors.Join(blobErrs...))
	}
	return nil
}
