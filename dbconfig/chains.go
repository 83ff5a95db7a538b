package dbconfig

import (
	"context"
	"database/sql"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/dbconfig/models"
	"github.com/pkg/errors"
)

// GetChains returns all chains from the database, optionally filtering by active status.
func (r *DBConfig) GetChains(ctx context.Context, activeOnly bool) ([]models.Chain, error) {
	db, err := sql.Open("postgres", r.dbConnStr)
	if err != nil {
		return nil, commonerrors.ErrDatabaseConnect
	}
	defer db.Close()

	query := `
      SELECT 
          id,
          chain_id,
          name,
          chain_type,
          active,
          created_at,
          updated_at
      FROM chains
  `

	var args []interface{}
	if activeOnly {
		query += " WHERE active = $1"
		args = append(args, true)
	}

	query += " ORDER BY chain_id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, commonerrors.ErrDatabaseConnect
	}
	defer rows.Close()

	var chains []models.Chain
	for rows.Next() {
		var chain models.Chain
		var chainType sql.NullString

		err := rows.Scan(
			&chain.ID,
			&chain.ChainID,
			&chain.Name,
			&chainType,
			&chain.Active,
			&chain.CreatedAt,
			&chain.UpdatedAt,
		)
		if err != nil {
			return nil, commonerrors.ErrDatabaseConnect
		}

		chain.Type = parseChainType(chainType)
		chains = append(chains, chain)
	}

	if err = rows.Err(); err != nil {
		return nil, commonerrors.ErrDatabaseConnect
	}

	return chains, nil
}

// GetChainByID returns the chain stored under chainID.
//
// Parameters:
// - ctx: the context for managing the request.
// - chainID: the unique identifier for the chain.
//
// Returns:
// - *models.Chain: the stored chain.
// - error: ErrChainNotFound when no row matches, ErrDatabaseConnect on query failure.
func (r *DBConfig) GetChainByID(ctx context.Context, chainID uint64) (*models.Chain, error) {
	if chainID == 0 {
		return nil, commonerrors.ErrInvalidChainID
	}

	db, err := sql.Open("postgres", r.dbConnStr)
	if err != nil {
		return nil, commonerrors.ErrDatabaseConnect
	}
	defer db.Close()

	var chain models.Chain
	var chainType sql.NullString

	err = db.QueryRowContext(ctx, `
       SELECT 
           id,
           chain_id,
           name,
           chain_type,
           active,
           created_at,
           updated_at
       FROM chains
       WHERE chain_id = $1
    `, chainID).Scan(
		&chain.ID,
		&chain.ChainID,
		&chain.Name,
		&chainType,
		&chain.Active,
		&chain.CreatedAt,
		&chain.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, commonerrors.ErrChainNotFound
	}

	if err != nil {
		return nil, commonerrors.ErrDatabaseConnect
	}

	chain.Type = parseChainType(chainType)

	return &chain, nil
}

// LoadChainConfig fills the chain name and RPC endpoint of base from the database.
// Hot wallet and confirmation settings are kept from base.
//
// Parameters:
// - ctx: the context for managing the request.
// - base: the locally configured chain settings, base.ChainID selects the row.
//
// Returns:
// - *types.ChainConfig: the merged chain configuration.
// - error: an error if the chain is unknown, inactive, not EVM or has no active RPC.
func (r *DBConfig) LoadChainConfig(ctx context.Context, base types.ChainConfig) (*types.ChainConfig, error) {
	chain, err := r.GetChainByID(ctx, base.ChainID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load chain %d", base.ChainID)
	}

	rpcs, err := r.GetRPCsByChainID(ctx, base.ChainID, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load rpcs for chain %d", base.ChainID)
	}

	return buildChainConfig(chain, rpcs, base)
}

func buildChainConfig(chain *models.Chain, rpcs []models.RPC, base types.ChainConfig) (*types.ChainConfig, error) {
	if chain == nil {
		return nil, commonerrors.ErrChainNotFound
	}
	if !chain.Active {
		return nil, errors.Wrapf(commonerrors.ErrChainNotFound, "chain %d is not active", chain.ChainID)
	}
	if chain.Type != types.EVM {
		return nil, errors.Wrapf(commonerrors.ErrInvalidConfig, "chain %d has unsupported type %s", chain.ChainID, chain.Type)
	}

	cfg := base
	cfg.ChainID = chain.ChainID
	if chain.Name != "" {
		cfg.Name = chain.Name
	}

	// rpcs are ordered newest first
	cfg.RpcUrl = ""
	for _, rpc := range rpcs {
		if rpc.Active && rpc.URL != "" {
			cfg.RpcUrl = rpc.URL
			break
		}
	}
	if cfg.RpcUrl == "" {
		return nil, errors.Wrapf(commonerrors.ErrNoActiveRPC, "chain %d", chain.ChainID)
	}

	return &cfg, nil
}

func parseChainType(v sql.NullString) types.ChainType {
	if !v.Valid {
		return types.EVM
	}
	return types.ParseChainType(v.String)
}
