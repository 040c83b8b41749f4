// internal/repository/token_repo.go
package repository

import (
	"context"
	"fmt"
	"strings"

	"custody-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRepository reads the token catalog.
type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

const tokenColumns = `id, chain, symbol, name, contract_address, decimals, is_active, is_native`

func (r *TokenRepository) GetBySymbol(ctx context.Context, chain domain.ChainID, symbol string) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE chain = $1 AND symbol = $2`

	t, err := scanToken(r.pool.QueryRow(ctx, query, chain, strings.ToUpper(symbol)))
	if err != nil {
		if nf := notFound(err, "token"); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

func (r *TokenRepository) ListByChain(ctx context.Context, chain domain.ChainID) ([]*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE chain = $1 AND is_active ORDER BY symbol`

	rows, err := r.pool.Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Upsert inserts or refreshes a catalog entry keyed by (chain, symbol).
func (r *TokenRepository) Upsert(ctx context.Context, t *domain.Token) error {
	query := `
		INSERT INTO tokens (chain, symbol, name, contract_address, decimals, is_active, is_native)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain, symbol) DO UPDATE
		SET name = EXCLUDED.name,
			contract_address = EXCLUDED.contract_address,
			decimals = EXCLUDED.decimals,
			is_active = EXCLUDED.is_active,
			is_native = EXCLUDED.is_native
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		t.Chain, strings.ToUpper(t.Symbol), t.Name, t.ContractAddress, t.Decimals, t.IsActive, t.IsNative,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

func scanToken(row rowScanner) (*domain.Token, error) {
	t := &domain.Token{}
	err := row.Scan(&t.ID, &t.Chain, &t.Symbol, &t.Name, &t.ContractAddress, &t.Decimals, &t.IsActive, &t.IsNative)
	if err != nil {
		return nil, err
	}
	return t, nil
}
