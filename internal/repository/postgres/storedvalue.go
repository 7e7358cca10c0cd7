package postgres

import (
	"context"

	"github.com/tixello/settlement/internal/domain/storedvalue"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/postgres"
	"github.com/tixello/settlement/internal/types"
)

const accountColumns = `
	id, tenant_id, code, currency, owner_type, owner_id, initial_amount, balance,
	status, expires_at, version, created_at, updated_at, created_by, updated_by`

const transactionColumns = `
	id, tenant_id, account_id, type, amount, balance_after, description, actor,
	reference_id, idempotency_key, created_at`

type storedValueRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewStoredValueRepository(db *postgres.DB, logger *logger.Logger) storedvalue.Repository {
	return &storedValueRepository{
		db:     db,
		logger: logger,
	}
}

func (r *storedValueRepository) Create(ctx context.Context, a *storedvalue.Account) error {
	query := `
		INSERT INTO stored_value_accounts (` + accountColumns + `
		) VALUES (
			:id, :tenant_id, :code, :currency, :owner_type, :owner_id, :initial_amount, :balance,
			:status, :expires_at, :version, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating stored value account",
		"account_id", a.ID,
		"tenant_id", a.TenantID,
	)

	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return dbError(err, "Failed to create stored-value account")
	}
	return nil
}

func (r *storedValueRepository) Get(ctx context.Context, id string) (*storedvalue.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM stored_value_accounts
		WHERE id = :id AND tenant_id = :tenant_id`

	var a storedvalue.Account
	err := r.db.NamedGetContext(ctx, &a, query, map[string]interface{}{
		"id":        id,
		"tenant_id": types.GetTenantID(ctx),
	})
	if err != nil {
		return nil, dbError(err, "Stored-value account not found")
	}
	return &a, nil
}

func (r *storedValueRepository) GetByCode(ctx context.Context, code string) (*storedvalue.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM stored_value_accounts
		WHERE code = :code AND tenant_id = :tenant_id`

	var a storedvalue.Account
	err := r.db.NamedGetContext(ctx, &a, query, map[string]interface{}{
		"code":      code,
		"tenant_id": types.GetTenantID(ctx),
	})
	if err != nil {
		return nil, dbError(err, "Stored-value account not found")
	}
	return &a, nil
}

// ApplyMutation is the compare-and-set of the ledger: the account row only
// moves when its version is still expectedVersion, and the transaction is
// appended in the same database transaction.
func (r *storedValueRepository) ApplyMutation(ctx context.Context, a *storedvalue.Account, expectedVersion int64, txn *storedvalue.Transaction) error {
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		update := `
			UPDATE stored_value_accounts
			SET
				balance = :balance,
				status = :status,
				version = :expected_version + 1,
				updated_at = NOW(),
				updated_by = :updated_by
			WHERE id = :id
			AND tenant_id = :tenant_id
			AND version = :expected_version`

		result, err := r.db.NamedExecContext(ctx, update, map[string]interface{}{
			"id":               a.ID,
			"tenant_id":        a.TenantID,
			"balance":          a.Balance,
			"status":           a.Status,
			"expected_version": expectedVersion,
			"updated_by":       types.GetUserID(ctx),
		})
		if err != nil {
			return dbError(err, "Failed to update stored-value account")
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return dbError(err, "Failed to update stored-value account")
		}
		if rows == 0 {
			return ierr.NewError("stored value account version changed").
				WithHint("The gift card was modified concurrently").
				WithReportableDetails(map[string]any{
					"account_id":       a.ID,
					"expected_version": expectedVersion,
				}).
				Mark(ierr.ErrVersionConflict)
		}

		insert := `
			INSERT INTO stored_value_transactions (` + transactionColumns + `
			) VALUES (
				:id, :tenant_id, :account_id, :type, :amount, :balance_after, :description, :actor,
				:reference_id, :idempotency_key, :created_at
			)`
		if _, err := r.db.NamedExecContext(ctx, insert, txn); err != nil {
			return dbError(err, "Failed to append stored-value transaction")
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.Version = expectedVersion + 1
	return nil
}

func (r *storedValueRepository) ListTransactions(ctx context.Context, accountID string) ([]*storedvalue.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM stored_value_transactions
		WHERE account_id = :account_id AND tenant_id = :tenant_id
		ORDER BY seq ASC`

	var txns []*storedvalue.Transaction
	err := r.db.NamedSelectContext(ctx, &txns, query, map[string]interface{}{
		"account_id": accountID,
		"tenant_id":  types.GetTenantID(ctx),
	})
	if err != nil {
		return nil, dbError(err, "Failed to list stored-value transactions")
	}
	return txns, nil
}

func (r *storedValueRepository) GetTransactionByIdempotencyKey(ctx context.Context, accountID, key string) (*storedvalue.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM stored_value_transactions
		WHERE account_id = :account_id AND tenant_id = :tenant_id AND idempotency_key = :idempotency_key`

	var txn storedvalue.Transaction
	err := r.db.NamedGetContext(ctx, &txn, query, map[string]interface{}{
		"account_id":      accountID,
		"tenant_id":       types.GetTenantID(ctx),
		"idempotency_key": key,
	})
	if err != nil {
		return nil, dbError(err, "Stored-value transaction not found")
	}
	return &txn, nil
}
