package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

var walletAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IdentityRepository maps wallet addresses found on old commitments to
// internal account ids via wallet_uid_map. Non-wallet ids pass through
// untouched, as do wallets with no mapping row.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// IsWalletAddress reports whether id looks like an EVM wallet address.
func IsWalletAddress(id string) bool {
	return walletAddressRe.MatchString(id)
}

// Resolve returns the account id to use for ledger writes. Wallet addresses
// are looked up case-insensitively; everything else is already an account id.
func (r *IdentityRepository) Resolve(ctx context.Context, id string) (string, error) {
	if !IsWalletAddress(id) {
		return id, nil
	}
	var uid string
	err := r.db.GetContext(ctx, &uid,
		`SELECT uid FROM wallet_uid_map WHERE wallet_address = $1`,
		strings.ToLower(id))
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("identity_repo.Resolve: %w", err)
	}
	return uid, nil
}

// ResolveTx is Resolve inside tx.
func (r *IdentityRepository) ResolveTx(ctx context.Context, tx *sqlx.Tx, id string) (string, error) {
	if !IsWalletAddress(id) {
		return id, nil
	}
	var uid string
	err := tx.GetContext(ctx, &uid,
		`SELECT uid FROM wallet_uid_map WHERE wallet_address = $1`,
		strings.ToLower(id))
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("identity_repo.ResolveTx: %w", err)
	}
	return uid, nil
}
