// Package config loads the mint bot configuration file.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"github.com/ligun0805/mintbot/internal/bundlecore"
)

// Env keys.
const (
	EnvConfigFile  = "CONFIG_FILE"
	EnvBotKeyPW    = "BOT_KEYSTORE_PW"
	EnvAuthKeyPW   = "AUTH_KEYSTORE_PW"
	EnvRPCURL      = "RPC_URL"
	EnvRelayURL    = "RELAY_URL"
	defaultRelay   = "https://relay.flashbots.net"
	defaultPollDur = 500 * time.Millisecond
)

// Transaction is one [[transactions]] table.
type Transaction struct {
	To                string `toml:"to"`
	FunctionSignature string `toml:"function_signature"`
	Value             string `toml:"value"`
	Args              []any  `toml:"args"`
	GasEstimate       uint64 `toml:"gas_estimate"`
}

// MintBot is the whole configuration file.
type MintBot struct {
	RPCURL          string        `toml:"rpc_url"`
	RelayURL        string        `toml:"relay_url"`
	BlockTime       uint64        `toml:"block_time"`
	BotKeystore     string        `toml:"bot_keystore"`
	AuthKeystore    string        `toml:"auth_keystore"`
	TargetTimestamp int64         `toml:"target_timestamp"`
	PriorityFee     Gwei          `toml:"priority_fee"`
	Transactions    []Transaction `toml:"transactions"`

	RetryWidth     int           `toml:"retry_width"`
	MaxCycles      int           `toml:"max_cycles"`
	PollInterval   time.Duration `toml:"poll_interval"`
	ParallelSubmit bool          `toml:"parallel_submit"`
	Simulate       bool          `toml:"simulate"`
}

// Gwei is a decimal gwei amount; TOML may give it as integer, float or string.
type Gwei struct {
	Raw string
	Wei *big.Int
}

func (g *Gwei) UnmarshalTOML(v any) error {
	var s string
	switch x := v.(type) {
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "gwei"))
	default:
		return fmt.Errorf("priority_fee: cannot use %T", v)
	}
	wei, err := bundlecore.GweiToWei(s)
	if err != nil {
		return err
	}
	g.Raw, g.Wei = s, wei
	return nil
}

// LoadDotEnv loads .env and then .env.local over it. Missing files are fine.
func LoadDotEnv() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")
}

// Load reads and validates the TOML file at path. RPC_URL and RELAY_URL
// from the environment override the file.
func Load(path string) (*MintBot, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("no config file (set %s or --config)", EnvConfigFile)
	}
	var cfg MintBot
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *MintBot) applyEnv() {
	if v := getenv(EnvRPCURL); v != "" {
		c.RPCURL = v
	}
	if v := getenv(EnvRelayURL); v != "" {
		c.RelayURL = v
	}
}

func (c *MintBot) applyDefaults() {
	if c.RelayURL == "" {
		c.RelayURL = defaultRelay
	}
	if c.RetryWidth == 0 {
		c.RetryWidth = bundlecore.DefaultRetryWidth
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollDur
	}
	if c.PriorityFee.Wei == nil {
		c.PriorityFee = Gwei{Raw: "0", Wei: new(big.Int)}
	}
}

// Validate reports every problem in the file at once.
func (c *MintBot) Validate() error {
	var result *multierror.Error
	add := func(format string, a ...any) {
		result = multierror.Append(result, fmt.Errorf(format, a...))
	}
	if c.RPCURL == "" {
		add("rpc_url is empty")
	}
	if c.RelayURL == "" {
		add("relay_url is empty")
	}
	if c.BlockTime == 0 {
		add("block_time must be > 0")
	}
	if c.BotKeystore == "" {
		add("bot_keystore is empty")
	}
	if c.AuthKeystore == "" {
		add("auth_keystore is empty")
	}
	if c.TargetTimestamp < 0 {
		add("target_timestamp must be >= 0")
	}
	if c.RetryWidth < 0 {
		add("retry_width must be >= 0")
	}
	if c.MaxCycles < 0 {
		add("max_cycles must be >= 0")
	}
	if c.PollInterval < 0 {
		add("poll_interval must be >= 0")
	}
	if len(c.Transactions) == 0 {
		add("no transactions configured")
	}
	for i, tx := range c.Transactions {
		if _, err := bundlecore.ParseAddress(tx.To); err != nil {
			add("transactions[%d].to: %w", i, err)
		}
		if strings.TrimSpace(tx.FunctionSignature) == "" {
			add("transactions[%d].function_signature is empty", i)
		}
		if _, err := bundlecore.ParseValue(tx.Value); err != nil {
			add("transactions[%d].value: %w", i, err)
		}
		if tx.GasEstimate == 0 {
			add("transactions[%d].gas_estimate must be > 0", i)
		}
	}
	return result.ErrorOrNil()
}

// Specs converts the configured transactions for the scheduler.
func (c *MintBot) Specs() []bundlecore.TransactionSpec {
	out := make([]bundlecore.TransactionSpec, 0, len(c.Transactions))
	for _, tx := range c.Transactions {
		out = append(out, bundlecore.TransactionSpec{
			To:                tx.To,
			FunctionSignature: tx.FunctionSignature,
			Value:             tx.Value,
			Args:              tx.Args,
			GasLimit:          tx.GasEstimate,
		})
	}
	return out
}

// Params maps the file onto scheduler parameters. Logger and status sink
// are left to the caller.
func (c *MintBot) Params() bundlecore.Params {
	return bundlecore.Params{
		TargetTimestamp: c.TargetTimestamp,
		BlockTime:       c.BlockTime,
		PriorityFee:     new(big.Int).Set(c.PriorityFee.Wei),
		Transactions:    c.Specs(),
		RetryWidth:      c.RetryWidth,
		MaxCycles:       c.MaxCycles,
		PollInterval:    c.PollInterval,
		ParallelSubmit:  c.ParallelSubmit,
		Simulate:        c.Simulate,
	}
}

// getenv reads key in upper or lower case.
func getenv(key string) string {
	for _, k := range []string{key, strings.ToLower(key)} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
