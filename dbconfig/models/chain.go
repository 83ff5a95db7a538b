package models

import (
	"time"

	"github.com/ClipFinance/gas-relay/common/types"
)

type Chain struct {
	ID        int64
	ChainID   uint64
	Name      string
	Type      types.ChainType
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
