package main

import (
	"github.com/urfave/cli/v2"

	"github.com/ligun0805/mintbot/internal/config"
)

const envPrefix = "MINTBOT_"

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to the TOML config file",
		EnvVars: []string{config.EnvConfigFile},
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "Log level: trace, debug, info, warn, error, crit",
		Value:   "info",
		EnvVars: []string{envPrefix + "LOG_LEVEL"},
	}
	maxCyclesFlag = &cli.IntFlag{
		Name:    "max-cycles",
		Usage:   "Give up after this many submission cycles (0: never)",
		EnvVars: []string{envPrefix + "MAX_CYCLES"},
	}
	retryWidthFlag = &cli.IntFlag{
		Name:    "retry-width",
		Usage:   "Consecutive blocks targeted per cycle",
		EnvVars: []string{envPrefix + "RETRY_WIDTH"},
	}
	deadlineFlag = &cli.DurationFlag{
		Name:    "deadline",
		Usage:   "Abort the run after this long (0: no deadline)",
		EnvVars: []string{envPrefix + "DEADLINE"},
	}
	parallelSubmitFlag = &cli.BoolFlag{
		Name:    "parallel-submit",
		Usage:   "Send the per-block submissions of a cycle concurrently",
		EnvVars: []string{envPrefix + "PARALLEL_SUBMIT"},
	}
	simulateFlag = &cli.BoolFlag{
		Name:    "simulate",
		Usage:   "Dry-run the bundle with eth_callBundle before the first submission",
		EnvVars: []string{envPrefix + "SIMULATE"},
	}
	metricsPushFlag = &cli.StringFlag{
		Name:    "metrics.push-url",
		Usage:   "Prometheus Pushgateway to push run metrics to on exit",
		EnvVars: []string{envPrefix + "METRICS_PUSH_URL"},
	}
)

var flags = []cli.Flag{
	configFlag,
	logLevelFlag,
	maxCyclesFlag,
	retryWidthFlag,
	deadlineFlag,
	parallelSubmitFlag,
	simulateFlag,
	metricsPushFlag,
}
