package bundlecore

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultRetryWidth is how many consecutive blocks one cycle targets.
const DefaultRetryWidth = 3

type Params struct {
	// Desired inclusion time (unix seconds) and the chain's block interval.
	// Work starts two block intervals before the target.
	TargetTimestamp int64
	BlockTime       uint64

	// Priority fee floor in wei; the network estimate wins when higher.
	PriorityFee  *big.Int
	Transactions []TransactionSpec

	// RetryWidth blocks are targeted per cycle (default 3).
	RetryWidth int
	// MaxCycles bounds the submit/poll cycles; 0 keeps resubmitting until
	// the bundle lands or ctx is cancelled. The scheduler has no deadline
	// of its own: put one on ctx.
	MaxCycles int

	PollInterval   time.Duration
	ParallelSubmit bool
	Simulate       bool

	Logger   log.Logger
	OnStatus func(Status)
}

// Status is a human-readable progress event.
type Status struct {
	State   State
	Message string
	Err     error
}

// Result of a run.
type Result struct {
	Included    bool
	Reason      string
	BlockNumber uint64
	TxHashes    []common.Hash
	Cycles      int
}

func (p *Params) withDefaults() Params {
	out := *p
	if out.RetryWidth <= 0 {
		out.RetryWidth = DefaultRetryWidth
	}
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.MaxCycles < 0 {
		out.MaxCycles = 0
	}
	if out.PriorityFee == nil {
		out.PriorityFee = new(big.Int)
	}
	if out.Logger == nil {
		out.Logger = log.Root()
	}
	return out
}
