package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ClipFinance/gas-relay/chainmanager"
	"github.com/ClipFinance/gas-relay/chains/evm"
	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/ClipFinance/gas-relay/config"
	"github.com/ClipFinance/gas-relay/dbconfig"
	"github.com/ClipFinance/gas-relay/dbconfig/models"
	"github.com/ClipFinance/gas-relay/executor"
	"github.com/ClipFinance/gas-relay/metrics"
	"github.com/ClipFinance/gas-relay/nonce"
	"github.com/ClipFinance/gas-relay/relay"
	"github.com/ClipFinance/gas-relay/sequencer"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func printSampleUsage() {
	progname := os.Args[0]
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Sample usage:  %s [flags] fund <address>...\n", progname)
	fmt.Fprintf(os.Stderr, "               %s [flags] [--ordered] relay <request.json>...\n", progname)
	fmt.Fprintf(os.Stderr, "               %s --db-conn <dsn> chains\n", progname)
	fmt.Fprintf(os.Stderr, "               %s --help\n", progname)
}

func run(args []string) int {
	cfg, rest, err := config.Parse(args)
	if err != nil {
		if !strings.Contains(err.Error(), "help requested") {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		printSampleUsage()
		return 2
	}
	if len(rest) == 0 || (rest[0] != "chains" && len(rest) < 2) {
		printSampleUsage()
		return 2
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var results []commandResult
	switch rest[0] {
	case "chains":
		if cfg.DBConn == "" {
			logger.Error("The chains command requires --db-conn")
			return 2
		}
		db, dbErr := dbconfig.NewDBConfig(cfg.DBConn)
		if dbErr != nil {
			logger.WithError(dbErr).Error("Failed to open chain database")
			return 1
		}
		results, err = listChains(ctx, db, cfg.Chain.ChainID)
	case "fund", "relay":
		chain, startErr := startChain(ctx, cfg, logger)
		if startErr != nil {
			logger.WithError(startErr).Error("Failed to start relay")
			return 1
		}
		defer chain.Close()

		if rest[0] == "fund" {
			results, err = fundAll(ctx, chain, rest[1:])
		} else {
			results, err = relayAll(ctx, chain, rest[1:], cfg.Ordered)
		}
	default:
		printSampleUsage()
		return 2
	}
	if err != nil {
		logger.WithError(err).Error("Command failed")
		return 1
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		logger.WithError(err).Error("Failed to print results")
		return 1
	}

	for _, r := range results {
		if r.Error != nil {
			return 1
		}
	}
	return 0
}

func newLogger(cfg *config.RelayConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(commonerrors.ErrInvalidConfig, "invalid log level %q", cfg.LogLevel)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// startChain resolves the chain configuration, dials the chain and assembles the relay stack.
func startChain(ctx context.Context, cfg *config.RelayConfig, logger *logrus.Logger) (*chainmanager.Chain, error) {
	chainConfig := cfg.ChainConfig()
	if cfg.DBConn != "" {
		db, err := dbconfig.NewDBConfig(cfg.DBConn)
		if err != nil {
			return nil, err
		}
		loaded, err := db.LoadChainConfig(ctx, chainConfig)
		if err != nil {
			return nil, err
		}
		chainConfig = *loaded
	}
	if chainConfig.RpcUrl == "" {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "chain.rpc-url or db-conn is required")
	}
	if chainConfig.PrivateKey == "" {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "chain.private-key is required")
	}

	fundAmount, err := cfg.FundAmount()
	if err != nil {
		return nil, err
	}
	balanceOverride, err := cfg.BalanceOverride()
	if err != nil {
		return nil, err
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, errors.Wrap(err, "failed to register metrics")
	}

	client, err := evm.NewEvmChain(ctx, &chainConfig, logger, evm.WithHealthCheckInterval(cfg.Monitor.HealthCheckInterval))
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"chain":     chainConfig.Name,
		"chainId":   chainConfig.ChainID,
		"hotWallet": client.Address().Hex(),
	}).Info("Relay started")

	return chainmanager.NewChainBuilder(&chainConfig).
		WithChainClient(client).
		WithFundingSigner(client).
		WithMetrics(m).
		WithCloser(client.Close).
		WithNonceOptions(nonce.WithSyncTTL(cfg.Nonce.SyncTTL)).
		WithExecutorOptions(executor.WithMaxRetries(cfg.Executor.MaxRetries)).
		WithSequencerOptions(sequencer.WithPollInterval(cfg.Sequencer.PollInterval)).
		WithPipelineOptions(
			relay.WithDeviationPercent(cfg.Relay.DeviationPercent),
			relay.WithFundAmount(fundAmount),
			relay.WithBalanceOverride(balanceOverride),
			relay.WithReplayCacheSize(cfg.Relay.ReplayCacheSize),
		).
		Build(ctx, logger)
}

// commandResult is printed for every argument of a command.
type commandResult struct {
	Input  string                   `json:"input"`
	Result interface{}              `json:"result,omitempty"`
	Error  *commonerrors.RelayError `json:"error,omitempty"`
}

// chainLister returns the chains known to the configuration database.
type chainLister interface {
	GetChains(ctx context.Context, activeOnly bool) ([]models.Chain, error)
}

// chainSummary is printed for every active chain by the chains command.
type chainSummary struct {
	ChainID    uint64 `json:"chainId"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Configured bool   `json:"configured"`
}

// listChains reports the active chains of the configuration database, flagging the one the
// relay is configured for.
func listChains(ctx context.Context, lister chainLister, configured uint64) ([]commandResult, error) {
	chains, err := lister.GetChains(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chains")
	}

	results := make([]commandResult, 0, len(chains))
	for _, c := range chains {
		results = append(results, commandResult{
			Input: strconv.FormatUint(c.ChainID, 10),
			Result: chainSummary{
				ChainID:    c.ChainID,
				Name:       c.Name,
				Type:       c.Type.String(),
				Configured: configured != 0 && c.ChainID == configured,
			},
		})
	}
	return results, nil
}

func fundAll(ctx context.Context, chain *chainmanager.Chain, addresses []string) ([]commandResult, error) {
	results := make([]commandResult, len(addresses))

	var g errgroup.Group
	for i, address := range addresses {
		i, address := i, address
		g.Go(func() error {
			res, err := chain.FundAddressIfEmpty(ctx, address)
			results[i] = newCommandResult(address, res, err)
			return nil
		})
	}

	return results, g.Wait()
}

func relayAll(ctx context.Context, chain *chainmanager.Chain, files []string, ordered bool) ([]commandResult, error) {
	requests := make([]*types.RelayTransactionRequest, len(files))
	for i, path := range files {
		req, err := readRequest(path)
		if err != nil {
			return nil, err
		}
		requests[i] = req
	}

	results := make([]commandResult, len(files))

	var g errgroup.Group
	for i := range requests {
		i := i
		g.Go(func() error {
			res, err := chain.RelayTransaction(ctx, requests[i], ordered)
			results[i] = newCommandResult(files[i], res, err)
			return nil
		})
	}

	return results, g.Wait()
}

func readRequest(path string) (*types.RelayTransactionRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read request %s", path)
	}

	var req types.RelayTransactionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrapf(commonerrors.ErrInvalidRequest, "failed to decode request %s: %v", path, err)
	}
	return &req, nil
}

func newCommandResult(input string, result interface{}, err error) commandResult {
	if err != nil {
		return commandResult{Input: input, Error: commonerrors.ToRelayError(err)}
	}
	return commandResult{Input: input, Result: result}
}
