package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"

	core "github.com/ligun0805/mintbot/internal/bundlecore"
	"github.com/ligun0805/mintbot/internal/config"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
)

var useColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

func newLogger(level string) log.Logger {
	lvl, err := log.LvlFromString(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.LevelInfo
	}
	color := isatty.IsTerminal(os.Stderr.Fd())
	return log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, color))
}

func printLine(color, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if useColor && color != "" {
		msg = color + msg + colorReset
	}
	fmt.Println(msg)
}

func printStatus(st core.Status) {
	stamp := time.Now().Format("15:04:05")
	switch {
	case st.Err != nil:
		printLine(colorYellow, "%s [%s] %s: %v", stamp, st.State, st.Message, st.Err)
	case st.State == core.StateIncluded:
		printLine(colorGreen, "%s [%s] %s", stamp, st.State, st.Message)
	case st.State == core.StateExhausted:
		printLine(colorRed, "%s [%s] %s", stamp, st.State, st.Message)
	default:
		printLine(colorCyan, "%s [%s] %s", stamp, st.State, st.Message)
	}
}

func printConfig(cfg *config.MintBot) {
	fmt.Println("=== CONFIG ===")
	fmt.Println("RPC_URL          :", maskURL(cfg.RPCURL))
	fmt.Println("RELAY_URL        :", cfg.RelayURL)
	fmt.Println("Block time       :", cfg.BlockTime, "s")
	fmt.Println("Target           :", time.Unix(cfg.TargetTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Println("Priority fee     :", core.FormatGwei(cfg.PriorityFee.Wei), "gwei")
	fmt.Println("Retry width      :", cfg.RetryWidth)
	if cfg.MaxCycles > 0 {
		fmt.Println("Max cycles       :", cfg.MaxCycles)
	} else {
		fmt.Println("Max cycles       : unbounded")
	}
	for i, tx := range cfg.Transactions {
		value := tx.Value
		if wei, err := core.ParseValue(tx.Value); err == nil {
			value = core.FormatETH(wei) + " ETH"
		}
		fmt.Printf("Tx #%d            : %s %s value=%s gas=%d\n", i, tx.To, tx.FunctionSignature, value, tx.GasEstimate)
	}
	fmt.Println("==============")
}

func printResult(res *core.Result) {
	printLine(colorGreen, "[RESULT] %s after %d cycle(s)", res.Reason, res.Cycles)
	for i, h := range res.TxHashes {
		fmt.Printf("  tx #%d: %s\n", i, h.Hex())
	}
}

// maskURL hides RPC API keys carried in the path or query.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return maskHex(raw)
	}
	masked := u.Scheme + "://" + u.Host
	if p := strings.Trim(u.Path, "/"); p != "" {
		masked += "/" + maskHex(p)
	}
	if u.RawQuery != "" {
		masked += "?***"
	}
	return masked
}

func maskHex(h string) string {
	h = strings.TrimSpace(h)
	if len(h) <= 10 {
		return "***"
	}
	return h[:6] + "…" + h[len(h)-4:]
}
