package relay

import (
	"context"
	"math/big"
	"time"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultBalanceOverride is the balance the sender pretends to hold during gas estimation (10^24 wei).
var DefaultBalanceOverride = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// DefaultReplayCacheSize is the number of client transaction hashes remembered as relayed.
const DefaultReplayCacheSize = 4096

// Pipeline validates pre-signed client transactions, funds their senders from the hot wallet
// and broadcasts them.
type Pipeline struct {
	client   types.ChainClient
	funder   types.FundingSigner
	executor types.NonceStrategy
	ordered  types.NonceStrategy
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	chainID          *big.Int // Chain the hot wallet funds on; requests signed for any other chain are rejected.
	deviationPercent uint64
	balanceOverride  *big.Int
	fundAmount       *big.Int
	replayCacheSize  int

	relayed *lru.Cache[common.Hash, struct{}] // Client transactions funded or being funded, nil when disabled.
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChainID sets the chain the relay serves.
func WithChainID(chainID uint64) Option {
	return func(p *Pipeline) {
		p.chainID = new(big.Int).SetUint64(chainID)
	}
}

// WithDeviationPercent sets the allowed gas deviation band.
func WithDeviationPercent(percent uint64) Option {
	return func(p *Pipeline) {
		p.deviationPercent = percent
	}
}

// WithBalanceOverride sets the balance used for gas estimation.
func WithBalanceOverride(balance *big.Int) Option {
	return func(p *Pipeline) {
		if balance != nil {
			p.balanceOverride = balance
		}
	}
}

// WithFundAmount sets the amount sent by FundAddressIfEmpty.
func WithFundAmount(amount *big.Int) Option {
	return func(p *Pipeline) {
		if amount != nil {
			p.fundAmount = amount
		}
	}
}

// WithReplayCacheSize sets how many relayed client transactions are remembered.
// A size of zero or less disables duplicate detection.
func WithReplayCacheSize(size int) Option {
	return func(p *Pipeline) {
		p.replayCacheSize = size
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// RelayOption configures a single RelayTransaction call.
type RelayOption func(*relaySettings)

type relaySettings struct {
	strictOrdering bool
}

// WithStrictOrdering funds through the per-signer sequencer instead of the optimistic executor.
func WithStrictOrdering() RelayOption {
	return func(s *relaySettings) {
		s.strictOrdering = true
	}
}

// NewPipeline creates a new relay pipeline.
//
// Parameters:
// - client: the chain client.
// - funder: the hot wallet paying for funding transactions.
// - executor: the optimistic nonce strategy used by default.
// - ordered: the strictly ordered nonce strategy selected by WithStrictOrdering, may be nil.
// - logger: the logger for logging events.
// - opts: optional settings.
//
// Returns:
// - *Pipeline: the new pipeline.
func NewPipeline(client types.ChainClient, funder types.FundingSigner, executor, ordered types.NonceStrategy, logger *logrus.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:           client,
		funder:           funder,
		executor:         executor,
		ordered:          ordered,
		logger:           logger,
		deviationPercent: types.DefaultDeviationPercent,
		balanceOverride:  DefaultBalanceOverride,
		fundAmount:       new(big.Int),
		replayCacheSize:  DefaultReplayCacheSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.replayCacheSize > 0 {
		// Can't fail because size > 0
		p.relayed, _ = lru.New[common.Hash, struct{}](p.replayCacheSize)
	}
	return p
}

// RelayTransaction authenticates req, bounds its gas parameters, funds its sender with
// gasLimit * gasPrice and broadcasts it once the funding is confirmed.
//
// Parameters:
// - ctx: the context for managing the request.
// - req: the client's pre-signed transaction.
// - opts: per-call settings.
//
// Returns:
// - *types.RelayResult: the hashes of the client and funding transactions.
// - error: an error convertible with errors.ToRelayError.
func (p *Pipeline) RelayTransaction(ctx context.Context, req *types.RelayTransactionRequest, opts ...RelayOption) (result *types.RelayResult, err error) {
	defer func() {
		p.metrics.RelayFinished(outcome(err))
	}()

	settings := &relaySettings{}
	for _, opt := range opts {
		opt(settings)
	}

	if p.chainID == nil {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "relay chain id is not configured")
	}
	if err := checkRequest(req, p.chainID); err != nil {
		return nil, err
	}
	logger := p.logger.WithFields(logrus.Fields{
		"from":    types.NewSignerIdentity(req.From).String(),
		"to":      req.To,
		"nonce":   req.Nonce,
		"chainId": req.ChainID.String(),
	})

	clientTx, err := authenticate(req, p.chainID)
	if err != nil {
		logger.WithError(err).Warn("Rejected relay request")
		return nil, err
	}

	networkPrice, err := p.client.GetGasPrice(ctx)
	if err != nil {
		return nil, chainError(req, errors.Wrap(err, "failed to get gas price"))
	}
	bounds := &types.GasBounds{
		CurrentNetworkGasPrice:  networkPrice,
		AllowedDeviationPercent: p.deviationPercent,
	}
	if err := checkGasPrice(bounds, req.GasPrice); err != nil {
		logger.WithError(err).Warn("Rejected relay request")
		return nil, err
	}

	from := common.HexToAddress(req.From)
	estimated, err := p.client.EstimateGasWithBalanceOverride(ctx, ethereum.CallMsg{
		From:     from,
		To:       req.Recipient(),
		GasPrice: req.GasPrice,
		Value:    req.Value,
		Data:     req.Data,
	}, from, p.balanceOverride)
	if err != nil {
		return nil, chainError(req, errors.Wrap(err, "failed to estimate gas"))
	}
	bounds.EstimatedGasLimit = estimated
	if err := checkGasLimit(bounds, req.GasLimit); err != nil {
		logger.WithError(err).Warn("Rejected relay request")
		return nil, err
	}

	strategy := p.executor
	if settings.strictOrdering {
		if p.ordered == nil {
			return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "strict ordering requested but no sequencer configured")
		}
		strategy = p.ordered
	}

	clientHash := clientTx.Hash()
	if !p.claim(clientHash) {
		logger.WithField("txHash", clientHash.Hex()).Warn("Rejected duplicate relay request")
		return nil, errors.Wrapf(commonerrors.ErrInvalidRequest, "transaction %s is already relayed", clientHash.Hex())
	}

	amount := new(big.Int).Mul(new(big.Int).SetUint64(req.GasLimit), req.GasPrice)
	fundingStart := time.Now()
	funding, err := p.fund(ctx, strategy, from, amount)
	if err != nil {
		p.release(clientHash)
		logger.WithError(err).Error("Failed to fund sender")
		return nil, err
	}

	status, err := p.client.WaitForConfirmation(ctx, funding.Hash)
	if err != nil {
		p.release(clientHash)
		return nil, &commonerrors.FatalChainError{
			Signer: funding.From,
			Nonce:  funding.Nonce,
			Cause:  errors.Wrapf(err, "failed to confirm funding transaction %s", funding.Hash),
		}
	}
	if !status.Confirmed() {
		p.release(clientHash)
		return nil, errors.Wrapf(commonerrors.ErrFundingFailed, "funding transaction %s finished with status %s", funding.Hash, status)
	}
	p.metrics.FundingConfirmed(fundingStart)

	raw, err := clientTx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode client transaction")
	}
	txHash, err := p.client.SendSignedTransaction(ctx, raw)
	if err != nil {
		// The sender keeps the funding; nothing is reclaimed.
		logger.WithFields(logrus.Fields{
			"fundingTxHash": funding.Hash,
			"fundingAmount": amount.String(),
		}).WithError(err).Error("Sender funded but client transaction broadcast failed")
		return nil, &commonerrors.FatalChainError{Signer: types.NewSignerIdentity(req.From).String(), Nonce: req.Nonce, Cause: err}
	}

	logger.WithFields(logrus.Fields{
		"txHash":        txHash,
		"fundingTxHash": funding.Hash,
		"fundingAmount": amount.String(),
	}).Info("Relayed transaction")

	return &types.RelayResult{TransactionHash: txHash, FundingTxHash: funding.Hash}, nil
}

// FundAddressIfEmpty sends the configured fund amount to address unless it already holds a balance.
//
// Parameters:
// - ctx: the context for managing the request.
// - address: the hex encoded address to fund.
//
// Returns:
// - *types.FundResult: a message and, when funded, the funding transaction hash.
// - error: an error convertible with errors.ToRelayError.
func (p *Pipeline) FundAddressIfEmpty(ctx context.Context, address string) (*types.FundResult, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.Wrapf(commonerrors.ErrInvalidRequest, "invalid address %q", address)
	}
	to := common.HexToAddress(address)

	balance, err := p.client.GetBalance(ctx, to)
	if err != nil {
		return nil, &commonerrors.FatalChainError{
			Signer: types.SignerFromAddress(to).String(),
			Cause:  errors.Wrapf(err, "failed to get balance of %s", to.Hex()),
		}
	}
	if balance.Sign() > 0 {
		return &types.FundResult{Message: "address already funded"}, nil
	}
	if p.fundAmount.Sign() <= 0 {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "fund amount is not configured")
	}

	funding, err := p.fund(ctx, p.executor, to, p.fundAmount)
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"address": to.Hex(),
		"amount":  p.fundAmount.String(),
		"txHash":  funding.Hash,
	}).Info("Funded empty address")

	return &types.FundResult{Message: "address funded", TxHash: funding.Hash}, nil
}

// fund submits a hot wallet transfer of amount to to through strategy.
func (p *Pipeline) fund(ctx context.Context, strategy types.NonceStrategy, to common.Address, amount *big.Int) (*types.Transaction, error) {
	hotWallet := types.SignerFromAddress(p.funder.Address())

	return strategy.Submit(ctx, hotWallet, func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		signed, err := p.funder.SignFunding(ctx, to, amount, nonce)
		if err != nil {
			return nil, errors.Wrap(err, "failed to sign funding transaction")
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode funding transaction")
		}
		hash, err := p.client.SendSignedTransaction(ctx, raw)
		if err != nil {
			return nil, err
		}

		tx := &types.Transaction{
			Hash:  hash,
			From:  hotWallet.String(),
			To:    types.SignerFromAddress(to).String(),
			Value: amount,
			Nonce: nonce,
		}
		if chainID := signed.ChainId(); chainID != nil && chainID.IsUint64() {
			tx.ChainID = chainID.Uint64()
		}
		return tx, nil
	})
}

// chainError attributes a chain client failure met while validating req to its sender.
func chainError(req *types.RelayTransactionRequest, cause error) error {
	return &commonerrors.FatalChainError{
		Signer: types.NewSignerIdentity(req.From).String(),
		Nonce:  req.Nonce,
		Cause:  cause,
	}
}

// claim marks hash as relayed and reports whether it was not already.
func (p *Pipeline) claim(hash common.Hash) bool {
	if p.relayed == nil {
		return true
	}
	found, _ := p.relayed.ContainsOrAdd(hash, struct{}{})
	return !found
}

// release forgets hash so the client may resubmit a transaction that was never funded.
func (p *Pipeline) release(hash common.Hash) {
	if p.relayed == nil {
		return
	}
	p.relayed.Remove(hash)
}

// outcome names the result of a relay call for metrics.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(commonerrors.ToRelayError(err).Kind)
}
