package mocks

import (
	"context"
	"math/big"

	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// MockChainClient is a testify mock of types.ChainClient.
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) GetTransactionCount(ctx context.Context, address common.Address) (uint64, error) {
	args := m.Called(ctx, address)
	ret, ok := args.Get(0).(uint64)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}

func (m *MockChainClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	ret, ok := args.Get(0).(*big.Int)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}

func (m *MockChainClient) EstimateGasWithBalanceOverride(ctx context.Context, msg ethereum.CallMsg, address common.Address, balance *big.Int) (uint64, error) {
	args := m.Called(ctx, msg, address, balance)
	ret, ok := args.Get(0).(uint64)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}

func (m *MockChainClient) SendSignedTransaction(ctx context.Context, raw []byte) (string, error) {
	args := m.Called(ctx, raw)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) WaitForConfirmation(ctx context.Context, txHash string) (types.TransactionStatus, error) {
	args := m.Called(ctx, txHash)
	ret, ok := args.Get(0).(types.TransactionStatus)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}

func (m *MockChainClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	ret, ok := args.Get(0).(*big.Int)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}

// MockFundingSigner is a testify mock of types.FundingSigner.
type MockFundingSigner struct {
	mock.Mock
}

func (m *MockFundingSigner) Address() common.Address {
	args := m.Called()
	ret, ok := args.Get(0).(common.Address)
	if !ok {
		panic("not ok")
	}
	return ret
}

func (m *MockFundingSigner) SignFunding(ctx context.Context, to common.Address, value *big.Int, nonce uint64) (*ethtypes.Transaction, error) {
	args := m.Called(ctx, to, value, nonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	ret, ok := args.Get(0).(*ethtypes.Transaction)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}
