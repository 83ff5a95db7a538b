package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	commonerrors "github.com/ClipFinance/gas-relay/common/errors"
	"github.com/ClipFinance/gas-relay/common/types"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

type ConfConfig struct {
	EnvPrefix string `koanf:"env-prefix"`
	File      string `koanf:"file"`
}

var ConfConfigDefault = ConfConfig{
	EnvPrefix: "",
	File:      "",
}

func ConfConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".env-prefix", ConfConfigDefault.EnvPrefix, "environment variables with given prefix will be loaded as configuration values")
	f.String(prefix+".file", ConfConfigDefault.File, "name of JSON configuration file")
}

type ChainConfig struct {
	Name        string `koanf:"name"`
	ChainID     uint64 `koanf:"chain-id"`
	RpcUrl      string `koanf:"rpc-url"`
	TxType      uint64 `koanf:"tx-type"`
	WaitNBlocks uint64 `koanf:"wait-n-blocks"`
	PrivateKey  string `koanf:"private-key"`
}

var ChainConfigDefault = ChainConfig{
	Name:        "",
	ChainID:     0,
	RpcUrl:      "",
	TxType:      0,
	WaitNBlocks: 1,
	PrivateKey:  "",
}

func ChainConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".name", ChainConfigDefault.Name, "human readable chain name")
	f.Uint64(prefix+".chain-id", ChainConfigDefault.ChainID, "chain id the relay funds on")
	f.String(prefix+".rpc-url", ChainConfigDefault.RpcUrl, "chain RPC URL (http(s) or ws(s))")
	f.Uint64(prefix+".tx-type", ChainConfigDefault.TxType, "hot wallet transaction type (0 legacy, 2 EIP-1559)")
	f.Uint64(prefix+".wait-n-blocks", ChainConfigDefault.WaitNBlocks, "confirmations to wait for a funding transaction")
	f.String(prefix+".private-key", ChainConfigDefault.PrivateKey, "hot wallet private key (hex)")
}

type NonceConfig struct {
	SyncTTL time.Duration `koanf:"sync-ttl"`
}

var NonceConfigDefault = NonceConfig{
	SyncTTL: 5 * time.Second,
}

func NonceConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Duration(prefix+".sync-ttl", NonceConfigDefault.SyncTTL, "how long a chain nonce lookup stays fresh")
}

type ExecutorConfig struct {
	MaxRetries int `koanf:"max-retries"`
}

var ExecutorConfigDefault = ExecutorConfig{
	MaxRetries: 3,
}

func ExecutorConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Int(prefix+".max-retries", ExecutorConfigDefault.MaxRetries, "send attempts per funding transaction")
}

type SequencerConfig struct {
	PollInterval time.Duration `koanf:"poll-interval"`
}

var SequencerConfigDefault = SequencerConfig{
	PollInterval: 100 * time.Millisecond,
}

func SequencerConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Duration(prefix+".poll-interval", SequencerConfigDefault.PollInterval, "idle wait of a sequencer loop with an empty queue")
}

type PipelineConfig struct {
	DeviationPercent   uint64 `koanf:"deviation-percent"`
	FundAmountWei      string `koanf:"fund-amount-wei"`
	BalanceOverrideWei string `koanf:"balance-override-wei"`
	ReplayCacheSize    int    `koanf:"replay-cache-size"`
}

var PipelineConfigDefault = PipelineConfig{
	DeviationPercent:   10,
	FundAmountWei:      "0",
	BalanceOverrideWei: "1000000000000000000000000",
	ReplayCacheSize:    4096,
}

func PipelineConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".deviation-percent", PipelineConfigDefault.DeviationPercent, "allowed deviation of client gas values in percent")
	f.String(prefix+".fund-amount-wei", PipelineConfigDefault.FundAmountWei, "amount sent by fund-if-empty, 0 disables it")
	f.String(prefix+".balance-override-wei", PipelineConfigDefault.BalanceOverrideWei, "sender balance assumed while estimating gas")
	f.Int(prefix+".replay-cache-size", PipelineConfigDefault.ReplayCacheSize, "relayed client transactions remembered to reject duplicates, 0 disables")
}

type MonitorConfig struct {
	HealthCheckInterval time.Duration `koanf:"health-check-interval"`
}

var MonitorConfigDefault = MonitorConfig{
	HealthCheckInterval: 30 * time.Second,
}

func MonitorConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Duration(prefix+".health-check-interval", MonitorConfigDefault.HealthCheckInterval, "interval between RPC health checks")
}

type RelayConfig struct {
	Conf      ConfConfig      `koanf:"conf"`
	LogLevel  string          `koanf:"log-level"`
	LogFormat string          `koanf:"log-format"`
	DBConn    string          `koanf:"db-conn"`
	Ordered   bool            `koanf:"ordered"`
	Chain     ChainConfig     `koanf:"chain"`
	Nonce     NonceConfig     `koanf:"nonce"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Sequencer SequencerConfig `koanf:"sequencer"`
	Relay     PipelineConfig  `koanf:"relay"`
	Monitor   MonitorConfig   `koanf:"monitor"`
}

var RelayConfigDefault = RelayConfig{
	Conf:      ConfConfigDefault,
	LogLevel:  "info",
	LogFormat: "text",
	DBConn:    "",
	Ordered:   false,
	Chain:     ChainConfigDefault,
	Nonce:     NonceConfigDefault,
	Executor:  ExecutorConfigDefault,
	Sequencer: SequencerConfigDefault,
	Relay:     PipelineConfigDefault,
	Monitor:   MonitorConfigDefault,
}

func RelayConfigAddOptions(f *flag.FlagSet) {
	ConfConfigAddOptions("conf", f)
	f.String("log-level", RelayConfigDefault.LogLevel, "log level (trace, debug, info, warn, error)")
	f.String("log-format", RelayConfigDefault.LogFormat, "log format (text or json)")
	f.String("db-conn", RelayConfigDefault.DBConn, "postgres connection string, chain name and RPC are loaded from it when set")
	f.Bool("ordered", RelayConfigDefault.Ordered, "fund through the per-signer sequencer instead of the retrying executor")
	ChainConfigAddOptions("chain", f)
	NonceConfigAddOptions("nonce", f)
	ExecutorConfigAddOptions("executor", f)
	SequencerConfigAddOptions("sequencer", f)
	PipelineConfigAddOptions("relay", f)
	MonitorConfigAddOptions("monitor", f)
}

// Parse loads the relay configuration from defaults, an optional JSON file,
// environment variables and finally command line flags.
//
// Parameters:
// - args: the command line arguments without the program name.
//
// Returns:
// - *RelayConfig: the validated configuration.
// - []string: positional arguments left after flag parsing.
// - error: an error if parsing or validation fails.
func Parse(args []string) (*RelayConfig, []string, error) {
	f := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	RelayConfigAddOptions(f)

	if err := f.Parse(args); err != nil {
		return nil, nil, err
	}

	k := koanf.New(".")

	// Initial application of command line parameters and defaults
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, nil, errors.Wrap(err, "error loading flags")
	}

	if path := k.String("conf.file"); path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, nil, errors.Wrapf(err, "error loading config file %s", path)
		}
	}

	if prefix := k.String("conf.env-prefix"); prefix != "" {
		if err := loadEnvironmentVariables(k, prefix); err != nil {
			return nil, nil, err
		}
	}

	// Reapply command line parameters to override file and env
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, nil, errors.Wrap(err, "error reapplying flags")
	}

	var cfg RelayConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, nil, errors.Wrap(err, "error unmarshalling config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, f.Args(), nil
}

// loadEnvironmentVariables maps PREFIX_CHAIN__RPC_URL style names to chain.rpc-url keys.
func loadEnvironmentVariables(k *koanf.Koanf, prefix string) error {
	prefix = strings.ToUpper(prefix) + "_"
	err := k.Load(env.Provider(prefix, ".", func(key string) string {
		key = strings.TrimPrefix(key, prefix)
		key = strings.ReplaceAll(key, "__", ".")
		key = strings.ReplaceAll(key, "_", "-")
		return strings.ToLower(key)
	}), nil)
	if err != nil {
		return errors.Wrap(err, "error loading environment variables")
	}
	return nil
}

// Validate checks the values the relay components cannot work with.
func (c *RelayConfig) Validate() error {
	if c.Relay.DeviationPercent > 100 {
		return invalid("relay.deviation-percent must be in [0, 100], got %d", c.Relay.DeviationPercent)
	}
	if c.Executor.MaxRetries < 1 {
		return invalid("executor.max-retries must be at least 1, got %d", c.Executor.MaxRetries)
	}
	if c.Nonce.SyncTTL <= 0 {
		return invalid("nonce.sync-ttl must be positive, got %s", c.Nonce.SyncTTL)
	}
	if c.Sequencer.PollInterval <= 0 {
		return invalid("sequencer.poll-interval must be positive, got %s", c.Sequencer.PollInterval)
	}
	if c.Monitor.HealthCheckInterval <= 0 {
		return invalid("monitor.health-check-interval must be positive, got %s", c.Monitor.HealthCheckInterval)
	}
	if c.Chain.TxType != 0 && c.Chain.TxType != 2 {
		return invalid("chain.tx-type must be 0 or 2, got %d", c.Chain.TxType)
	}
	if _, err := c.FundAmount(); err != nil {
		return err
	}
	if _, err := c.BalanceOverride(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("log-format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// FundAmount returns relay.fund-amount-wei as a big integer.
func (c *RelayConfig) FundAmount() (*big.Int, error) {
	return parseWei("relay.fund-amount-wei", c.Relay.FundAmountWei)
}

// BalanceOverride returns relay.balance-override-wei as a big integer.
func (c *RelayConfig) BalanceOverride() (*big.Int, error) {
	v, err := parseWei("relay.balance-override-wei", c.Relay.BalanceOverrideWei)
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, invalid("relay.balance-override-wei must be positive")
	}
	return v, nil
}

// ChainConfig converts the chain section to the type the chain client is built from.
func (c *RelayConfig) ChainConfig() types.ChainConfig {
	return types.ChainConfig{
		Name:        c.Chain.Name,
		ChainID:     c.Chain.ChainID,
		RpcUrl:      c.Chain.RpcUrl,
		TxType:      c.Chain.TxType,
		WaitNBlocks: c.Chain.WaitNBlocks,
		PrivateKey:  c.Chain.PrivateKey,
	}
}

func parseWei(name, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || v.Sign() < 0 {
		return nil, invalid("%s must be a non-negative integer, got %q", name, value)
	}
	return v, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrap(commonerrors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
