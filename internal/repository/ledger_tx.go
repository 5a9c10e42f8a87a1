package repository

import (
	"context"

	"github.com/noah-isme/sma-points-api/internal/models"
)

// LedgerTx exposes the reads and writes allowed while one student's ledger is
// locked. Every write made through it commits together or not at all.
type LedgerTx interface {
	// Account returns the locked student's account, or nil when none exists yet.
	Account(ctx context.Context) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	SaveAccount(ctx context.Context, account *models.Account) error
	// SumEarned totals earned amounts inside the bucket described by q.
	SumEarned(ctx context.Context, q models.QuotaQuery) (int, error)
	// FindEarnedBySourceRef returns the earned entry for source/ref, or nil.
	FindEarnedBySourceRef(ctx context.Context, source models.PointSource, sourceRef string) (*models.LedgerEntry, error)
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	// FindReversal returns the reversal recorded for originalID, or nil.
	FindReversal(ctx context.Context, originalID string) (*models.LedgerReversal, error)
	RecordReversal(ctx context.Context, reversal *models.LedgerReversal) error
}

// StudentFunc is executed while the student's ledger is locked.
type StudentFunc func(tx LedgerTx) error
