package main

import (
	"context"
	"database/sql"
	"time"

	consentservice "custodia/internal/consent/service"
	consentstore "custodia/internal/consent/store"
	dErrors "custodia/pkg/domain-errors"
)

const defaultConsentTxTimeout = 5 * time.Second

// consentPostgresTx backs the service's transactional boundary with real
// database transactions. The in-memory sharded implementation is only for
// tests and development.
type consentPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB) *consentPostgresTx {
	return &consentPostgresTx{db: db}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, _ string, fn func(store consentstore.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultConsentTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(consentstore.NewPostgresTx(tx)); err != nil {
		return err
	}

	return tx.Commit()
}

var _ consentservice.Tx = (*consentPostgresTx)(nil)
