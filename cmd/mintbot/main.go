package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/urfave/cli/v2"

	core "github.com/ligun0805/mintbot/internal/bundlecore"
	"github.com/ligun0805/mintbot/internal/config"
	"github.com/ligun0805/mintbot/internal/flashbots"
	"github.com/ligun0805/mintbot/internal/secrets"
)

func main() {
	config.LoadDotEnv()

	app := &cli.App{
		Name:  "mintbot",
		Usage: "submit a signed transaction bundle to a Flashbots relay at a target time",
		Description: "Waits until two blocks before target_timestamp, signs the configured transactions " +
			"into one bundle and submits it for the next blocks until it lands. Without --max-cycles or " +
			"--deadline it keeps resubmitting until interrupted.",
		Flags:  flags,
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		log.Error("Mint bot failed", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	runID := uuid.NewString()
	logger := newLogger(c.String(logLevelFlag.Name)).New("run", runID[:8])
	log.SetDefault(logger)

	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)

	botKey, err := secrets.LoadKeystore(cfg.BotKeystore, config.EnvBotKeyPW, "Enter the bot keystore password: ")
	if err != nil {
		return fmt.Errorf("bot keystore: %w", err)
	}
	defer botKey.Wipe()
	botAddr, err := botKey.Address()
	if err != nil {
		return err
	}
	printLine(colorGreen, "Bot Loaded: %s", botAddr.Hex())

	authKey, err := secrets.LoadKeystore(cfg.AuthKeystore, config.EnvAuthKeyPW, "Enter the flashbots auth keystore password: ")
	if err != nil {
		return fmt.Errorf("auth keystore: %w", err)
	}
	relay, err := flashbots.NewClient(cfg.RelayURL, authKey)
	authKey.Wipe()
	if err != nil {
		return err
	}
	defer relay.Close()
	printLine(colorGreen, "Auth Account Loaded: %s", relay.Address().Hex())

	ec, err := core.DialChain(c.Context, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer ec.Close()

	printConfig(cfg)

	reg := prometheus.NewRegistry()
	metrics := core.NewMetrics(reg)
	if url := c.String(metricsPushFlag.Name); url != "" {
		defer func() {
			if err := push.New(url, "mintbot").Gatherer(reg).Grouping("run", runID).Push(); err != nil {
				logger.Warn("Metrics push failed", "url", url, "err", err)
			}
		}()
	}

	ctx := c.Context
	if d := c.Duration(deadlineFlag.Name); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	} else if cfg.MaxCycles == 0 {
		logger.Warn("No max cycles or deadline set, resubmitting until included or interrupted")
	}

	p := cfg.Params()
	p.Logger = logger
	p.OnStatus = printStatus
	sched := core.NewScheduler(ec, relay, p, core.WithMetrics(metrics))

	res, err := sched.Run(ctx, botKey)
	if err != nil {
		switch {
		case core.IsFatal(err):
			return fmt.Errorf("nothing was sent: %w", err)
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("deadline reached before inclusion: %w", err)
		}
		return err
	}
	printResult(res)
	return nil
}

func applyFlags(c *cli.Context, cfg *config.MintBot) {
	if c.IsSet(maxCyclesFlag.Name) {
		cfg.MaxCycles = c.Int(maxCyclesFlag.Name)
	}
	if c.IsSet(retryWidthFlag.Name) {
		cfg.RetryWidth = c.Int(retryWidthFlag.Name)
	}
	if c.Bool(parallelSubmitFlag.Name) {
		cfg.ParallelSubmit = true
	}
	if c.Bool(simulateFlag.Name) {
		cfg.Simulate = true
	}
}
