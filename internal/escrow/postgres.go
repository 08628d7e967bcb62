package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores escrow transactions and their log in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new escrow transaction.
func (r *PostgresRepository) Create(ctx context.Context, tx Transaction) error {
	id, err := uuid.Parse(tx.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO escrow_transactions
        (id, buyer_id, seller_id, product_id, quantity, amount, fee, total_amount, status,
         provider_transaction_id, delivery_proof_signature, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, tx.BuyerID, tx.SellerID, tx.ProductID, tx.Quantity,
		tx.Amount, tx.Fee, tx.TotalAmount, string(tx.Status),
		tx.ProviderTransactionID, tx.DeliveryProofSignature,
		tx.CreatedAt.UTC(), tx.UpdatedAt.UTC())
	return err
}

// Get fetches a transaction by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, buyer_id, seller_id, product_id, quantity, amount, fee,
        total_amount, status, provider_transaction_id, delivery_proof_signature, created_at, updated_at
        FROM escrow_transactions WHERE id = $1`, txID)
	return scanTransaction(row)
}

// UpdateStatus performs a conditional status transition. The WHERE clause
// on the expected status serialises concurrent transitions: at most one
// caller observes a row update.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to Status, update Update) (Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrNotFound
	}

	row := r.db.QueryRow(ctx, `UPDATE escrow_transactions SET
            status = $3,
            fee = COALESCE($4, fee),
            total_amount = COALESCE($5, total_amount),
            provider_transaction_id = COALESCE($6, provider_transaction_id),
            delivery_proof_signature = COALESCE($7, delivery_proof_signature),
            updated_at = $8
        WHERE id = $1 AND status = $2
        RETURNING id, buyer_id, seller_id, product_id, quantity, amount, fee,
            total_amount, status, provider_transaction_id, delivery_proof_signature, created_at, updated_at`,
		txID, string(from), string(to),
		update.Fee, update.TotalAmount, update.ProviderTransactionID, update.DeliveryProofSignature,
		time.Now().UTC())

	tx, err := scanTransaction(row)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Transaction{}, err
	}

	// Distinguish a missing row from a lost conditional update.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return Transaction{}, getErr
	}
	return Transaction{}, ErrStatusConflict
}

// AppendLog writes one entry to the append-only transaction log.
func (r *PostgresRepository) AppendLog(ctx context.Context, entry LogEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO transaction_logs
        (id, transaction_id, status, message, context, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), entry.TransactionID, string(entry.Status), entry.Message, contextJSON, createdAt.UTC())
	return err
}

// Logs returns the log entries for a transaction, oldest first.
func (r *PostgresRepository) Logs(ctx context.Context, transactionID string) ([]LogEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT transaction_id, status, message, context, created_at
        FROM transaction_logs WHERE transaction_id = $1 ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var status string
		var contextJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&entry.TransactionID, &status, &entry.Message, &contextJSON, &createdAt); err != nil {
			return nil, err
		}
		entry.Status = Status(status)
		entry.CreatedAt = createdAt.UTC()
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &entry.Context); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var tx Transaction
	var id uuid.UUID
	var status string
	var createdAt, updatedAt time.Time
	err := row.Scan(&id, &tx.BuyerID, &tx.SellerID, &tx.ProductID, &tx.Quantity,
		&tx.Amount, &tx.Fee, &tx.TotalAmount, &status,
		&tx.ProviderTransactionID, &tx.DeliveryProofSignature, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	tx.ID = id.String()
	tx.Status = Status(status)
	tx.CreatedAt = createdAt.UTC()
	tx.UpdatedAt = updatedAt.UTC()
	return tx, nil
}
