package dbconfig

import (
	"context"
	"database/sql"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type DBConfig struct {
	dbConnStr string
}

// NewDBConfig creates a new DBConfig instance with the provided connection string.
//
// Parameters:
// - connStr: the database connection string.
//
// Returns:
// - *DBConfig: a pointer to the newly created DBConfig instance.
// - error: an error if the connection string is empty.
func NewDBConfig(connStr string) (*DBConfig, error) {
	if connStr == "" {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "database connection string is empty")
	}

	return &DBConfig{
		dbConnStr: connStr,
	}, nil
}

// Ping opens a connection and checks that the database answers.
func (r *DBConfig) Ping(ctx context.Context) error {
	db, err := sql.Open("postgres", r.dbConnStr)
	if err != nil {
		return errors.Wrap(commonerrors.ErrDatabaseConnect, err.Error())
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(commonerrors.ErrDatabaseConnect, err.Error())
	}

	return nil
}
