package relay

import (
	"math/big"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// checkRequest rejects requests missing the fields needed to rebuild the signed transaction
// and requests signed for a chain other than chainID.
func checkRequest(req *types.RelayTransactionRequest, chainID *big.Int) error {
	if req == nil {
		return errors.Wrap(commonerrors.ErrInvalidRequest, "empty request")
	}
	if !common.IsHexAddress(req.From) {
		return errors.Wrapf(commonerrors.ErrInvalidRequest, "invalid from address %q", req.From)
	}
	if req.To != "" && !common.IsHexAddress(req.To) {
		return errors.Wrapf(commonerrors.ErrInvalidRequest, "invalid to address %q", req.To)
	}
	if req.ChainID == nil || req.ChainID.Sign() <= 0 {
		return errors.Wrap(commonerrors.ErrInvalidRequest, "missing chain id")
	}
	if req.ChainID.Cmp(chainID) != 0 {
		return errors.Wrapf(commonerrors.ErrInvalidRequest, "chain id %s does not match relay chain %s", req.ChainID, chainID)
	}
	if req.GasPrice == nil || req.GasPrice.Sign() < 0 {
		return errors.Wrap(commonerrors.ErrInvalidRequest, "missing gas price")
	}
	if req.GasLimit == 0 {
		return errors.Wrap(commonerrors.ErrInvalidRequest, "missing gas limit")
	}
	if req.Value != nil && req.Value.Sign() < 0 {
		return errors.Wrap(commonerrors.ErrInvalidRequest, "negative value")
	}
	if req.V == nil || req.R == nil || req.S == nil {
		return errors.Wrap(commonerrors.ErrInvalidRequest, "missing signature")
	}
	return nil
}

// unsignedTx rebuilds the legacy transaction body the client signed.
func unsignedTx(req *types.RelayTransactionRequest) *ethtypes.Transaction {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
		To:       req.Recipient(),
		Value:    value,
		Data:     req.Data,
	})
}

// recoveryID maps the wire v value to the 0/1 recovery id. Plain (0/1), pre-EIP-155 (27/28)
// and EIP-155 (chainID*2 + 35/36) encodings are accepted.
func recoveryID(v, chainID *big.Int) (byte, error) {
	if !v.IsUint64() {
		return 0, errors.Wrapf(commonerrors.ErrInvalidSignature, "v %s out of range", v)
	}
	switch raw := v.Uint64(); {
	case raw == 0 || raw == 1:
		return byte(raw), nil
	case raw == 27 || raw == 28:
		return byte(raw - 27), nil
	}

	id := new(big.Int).Sub(v, big.NewInt(35))
	id.Sub(id, new(big.Int).Mul(chainID, big.NewInt(2)))
	if id.Sign() < 0 || id.Cmp(big.NewInt(1)) > 0 {
		return 0, errors.Wrapf(commonerrors.ErrInvalidSignature, "v %s does not match chain %s", v, chainID)
	}
	return byte(id.Uint64()), nil
}

// authenticate recovers the signer of the request and checks it against the claimed sender.
//
// Parameters:
// - req: the validated request.
// - chainID: the relay's chain, whose signing rules hash the transaction.
//
// Returns:
// - *ethtypes.Transaction: the client's transaction with its signature attached, ready to broadcast.
// - error: an AuthenticationError if the signature is malformed or belongs to someone else.
func authenticate(req *types.RelayTransactionRequest, chainID *big.Int) (*ethtypes.Transaction, error) {
	claimed := types.NewSignerIdentity(req.From).String()

	recID, err := recoveryID(req.V, chainID)
	if err != nil {
		return nil, &commonerrors.AuthenticationError{Claimed: claimed, Cause: err}
	}
	if !crypto.ValidateSignatureValues(recID, req.R, req.S, true) {
		return nil, &commonerrors.AuthenticationError{
			Claimed: claimed,
			Cause:   errors.Wrap(commonerrors.ErrInvalidSignature, "signature values out of range"),
		}
	}

	sig := make([]byte, crypto.SignatureLength)
	req.R.FillBytes(sig[:32])
	req.S.FillBytes(sig[32:64])
	sig[crypto.RecoveryIDOffset] = recID

	tx := unsignedTx(req)
	signer := ethtypes.LatestSignerForChainID(chainID)
	hash := signer.Hash(tx)

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return nil, &commonerrors.AuthenticationError{
			Claimed: claimed,
			Cause:   errors.Wrap(commonerrors.ErrInvalidSignature, err.Error()),
		}
	}

	recovered := types.SignerFromAddress(crypto.PubkeyToAddress(*pub)).String()
	if recovered != claimed {
		return nil, &commonerrors.AuthenticationError{Claimed: claimed, Recovered: recovered}
	}

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, &commonerrors.AuthenticationError{Claimed: claimed, Recovered: recovered, Cause: err}
	}
	return signed, nil
}

// checkGasPrice enforces the deviation band around the network gas price.
func checkGasPrice(bounds *types.GasBounds, price *big.Int) error {
	if bounds.GasPriceWithin(price) {
		return nil
	}
	lower, upper := bounds.Band(bounds.CurrentNetworkGasPrice)
	return &commonerrors.GasBoundsError{
		Field:   "gasPrice",
		Client:  price,
		Network: bounds.CurrentNetworkGasPrice,
		Lower:   lower,
		Upper:   upper,
	}
}

// checkGasLimit enforces the deviation band around the estimated gas limit.
func checkGasLimit(bounds *types.GasBounds, limit uint64) error {
	if bounds.GasLimitWithin(limit) {
		return nil
	}
	network := new(big.Int).SetUint64(bounds.EstimatedGasLimit)
	lower, upper := bounds.Band(network)
	return &commonerrors.GasBoundsError{
		Field:   "gasLimit",
		Client:  new(big.Int).SetUint64(limit),
		Network: network,
		Lower:   lower,
		Upper:   upper,
	}
}
