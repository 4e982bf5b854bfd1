package bundlecore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Relay accepts bundles for a target block.
type Relay interface {
	SendBundle(ctx context.Context, txs types.Transactions, targetBlock uint64) (common.Hash, error)
}

// Simulator is implemented by relays that can dry-run a bundle.
type Simulator interface {
	SimulateBundle(ctx context.Context, rawTxs [][]byte, targetBlock uint64) (string, error)
}

// State of a scheduler run.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateFeeAndBuild
	StateSigned
	StateSubmitting
	StatePolling
	StateIncluded
	StateExhausted
)

var stateNames = [...]string{"idle", "waiting", "fee-and-build", "signed", "submitting", "polling", "included", "exhausted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Scheduler drives one bundle from the pre-target wait to inclusion.
type Scheduler struct {
	chain   ChainClient
	relay   Relay
	p       Params
	log     log.Logger
	metrics *Metrics

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu    sync.Mutex
	state State
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records the run into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces the wall clock and the pre-execution sleep.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func NewScheduler(chain ChainClient, relay Relay, p Params, opts ...Option) *Scheduler {
	p = p.withDefaults()
	s := &Scheduler{
		chain: chain,
		relay: relay,
		p:     p,
		log:   p.Logger,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SecondsUntilExecution is how long to wait so that work starts two block
// intervals before target. Non-positive means start now.
func SecondsUntilExecution(target int64, now time.Time, blockTime uint64) int64 {
	return target - now.Unix() - 2*int64(blockTime)
}

// Run waits for the execution window, builds and signs the bundle once and
// then resubmits it cycle after cycle until it lands, MaxCycles is reached
// or ctx ends. Run owns key: it is wiped as soon as the bundle is signed,
// and on every early return.
func (s *Scheduler) Run(ctx context.Context, key *SecretKey) (*Result, error) {
	defer key.Wipe()
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	bundle, err := s.Prepare(ctx, key)
	key.Wipe()
	if err != nil {
		return nil, err
	}
	if s.p.Simulate {
		s.simulate(ctx, bundle)
	}

	res := &Result{}
	for cycle := 1; s.p.MaxCycles == 0 || cycle <= s.p.MaxCycles; cycle++ {
		res.Cycles = cycle
		inc, err := s.SubmitCycle(ctx, bundle)
		if err == nil {
			res.Included = true
			res.BlockNumber = inc.BlockNumber
			res.TxHashes = inc.TxHashes
			res.Reason = fmt.Sprintf("included in block %d", inc.BlockNumber)
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if errors.Is(err, ErrBundleNotFound) {
			continue
		}
		// Head read or every submission failed: give the node/relay a block
		// interval before the next window.
		s.log.Warn("Submission cycle failed", "cycle", cycle, "err", err)
		if cycle == s.p.MaxCycles {
			break
		}
		if err := s.sleep(ctx, time.Duration(s.p.BlockTime)*time.Second); err != nil {
			return res, err
		}
	}
	res.Reason = fmt.Sprintf("not included after %d cycles", res.Cycles)
	s.emit(StateExhausted, res.Reason, ErrExhausted)
	return res, ErrExhausted
}

// Wait sleeps until two block intervals before the target timestamp.
func (s *Scheduler) Wait(ctx context.Context) error {
	secs := SecondsUntilExecution(s.p.TargetTimestamp, s.now(), s.p.BlockTime)
	if secs <= 0 {
		s.metrics.recordWait(0)
		return nil
	}
	s.metrics.recordWait(secs)
	s.emit(StateWaiting, fmt.Sprintf("Sleeping %d seconds...", secs), nil)
	return s.sleep(ctx, time.Duration(secs)*time.Second)
}

// Prepare derives the fees, assembles the configured transactions and signs
// them into the bundle. Every error here is fatal for the run.
func (s *Scheduler) Prepare(ctx context.Context, key *SecretKey) (*Bundle, error) {
	s.emit(StateFeeAndBuild, "Getting gas data...", nil)
	fees, err := FetchFeePolicy(ctx, s.chain, s.p.PriorityFee)
	if err != nil {
		return nil, err
	}
	s.log.Info("Fee policy", "baseFee", fees.BaseFee, "maxFee", fees.MaxFeePerGas, "tip", fees.PriorityFeePerGas)

	s.emit(StateFeeAndBuild, "Building transactions...", nil)
	from, err := key.Address()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	nonce, err := s.chain.NonceAt(ctx, from, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce of %s: %w", ErrRPCUnavailable, from.Hex(), err)
	}
	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %w", ErrRPCUnavailable, err)
	}
	prepared, err := Assemble(s.p.Transactions, fees, nonce, chainID)
	if err != nil {
		return nil, err
	}

	s.emit(StateFeeAndBuild, "Creating bundle...", nil)
	bundle, err := SignBundle(prepared, key)
	if err != nil {
		return nil, err
	}
	s.metrics.recordBundle(bundle)
	total := new(big.Int)
	for _, p := range prepared {
		total.Add(total, p.Value)
	}
	s.emit(StateSigned, fmt.Sprintf("Bundle signed: %d txs from %s, nonces %d..%d, value %s ETH, %s",
		bundle.Len(), from.Hex(), nonce, nonce+uint64(bundle.Len())-1, FormatETH(total), fees), nil)
	return bundle, nil
}

// SubmitCycle sends bundle for the RetryWidth blocks after the current head
// and polls the attempts in target order. It returns ErrBundleNotFound when
// none of them landed.
func (s *Scheduler) SubmitCycle(ctx context.Context, bundle *Bundle) (*Inclusion, error) {
	s.metrics.recordCycle()
	s.emit(StateSubmitting, fmt.Sprintf("Submitting bundle for the next %d blocks...", s.p.RetryWidth), nil)
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %w", ErrRPCUnavailable, err)
	}
	attempts, err := s.submit(ctx, bundle, head)
	if err != nil {
		return nil, err
	}

	s.emit(StatePolling, "Checking bundle submissions...", nil)
	sent := 0
	for _, a := range attempts {
		if a.Err != nil {
			continue
		}
		sent++
		inc, err := a.Await(ctx)
		switch {
		case err == nil:
			s.metrics.recordResolution("included")
			s.emit(StateIncluded, fmt.Sprintf("Bundle included in block %d", inc.BlockNumber), nil)
			return inc, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrBundleNotFound):
			s.metrics.recordResolution("not_found")
			s.emit(StatePolling, fmt.Sprintf("Bundle not found in block %d", a.TargetBlock), err)
		default:
			s.metrics.recordResolution("error")
			s.emit(StatePolling, fmt.Sprintf("Could not resolve block %d", a.TargetBlock), err)
		}
	}
	if sent == 0 {
		return nil, fmt.Errorf("%w: no submission accepted for blocks %d..%d", ErrRelayUnavailable, head+1, head+uint64(s.p.RetryWidth))
	}
	return nil, fmt.Errorf("%w: blocks %d..%d", ErrBundleNotFound, head+1, head+uint64(s.p.RetryWidth))
}

// submit sends the bundle for head+1..head+RetryWidth. All submissions
// finish before it returns; attempts are in ascending target order.
func (s *Scheduler) submit(ctx context.Context, bundle *Bundle, head uint64) ([]*Attempt, error) {
	txs := bundle.Transactions()
	hashes := bundle.Hashes()
	attempts := make([]*Attempt, s.p.RetryWidth)
	for i := range attempts {
		attempts[i] = &Attempt{
			TargetBlock: head + uint64(i) + 1,
			chain:       s.chain,
			hashes:      hashes,
			poll:        s.p.PollInterval,
			log:         s.log,
		}
	}
	send := func(a *Attempt) error {
		a.BundleHash, a.Err = s.relay.SendBundle(ctx, txs, a.TargetBlock)
		if a.Err != nil {
			a.Err = fmt.Errorf("%w: target %d: %w", ErrRelayUnavailable, a.TargetBlock, a.Err)
			s.log.Warn("Bundle submission failed", "target", a.TargetBlock, "err", a.Err)
		} else {
			s.log.Debug("Bundle submitted", "target", a.TargetBlock, "bundle", a.BundleHash)
		}
		s.metrics.recordSubmission(a.Err)
		return a.Err
	}

	if s.p.ParallelSubmit {
		var g errgroup.Group
		for _, a := range attempts {
			g.Go(func() error { return send(a) })
		}
		// Failed attempts keep their own error and are skipped when polling.
		if err := g.Wait(); err != nil {
			s.log.Debug("Parallel submission incomplete", "head", head, "first", err)
		}
	} else {
		for _, a := range attempts {
			if ctx.Err() != nil {
				break
			}
			_ = send(a)
		}
	}
	// A cancelled window is dropped whole, never polled or resumed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (s *Scheduler) simulate(ctx context.Context, bundle *Bundle) {
	sim, ok := s.relay.(Simulator)
	if !ok {
		s.log.Info("Relay does not support simulation")
		return
	}
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		s.log.Warn("Simulation skipped", "err", err)
		return
	}
	raws, err := bundle.RawTransactions()
	if err != nil {
		s.log.Warn("Simulation skipped", "err", err)
		return
	}
	raw, err := sim.SimulateBundle(ctx, raws, head+1)
	if err != nil {
		s.emit(StateSigned, fmt.Sprintf("Simulation for block %d failed", head+1), err)
		s.log.Debug("Simulation response", "raw", raw)
		return
	}
	s.emit(StateSigned, fmt.Sprintf("Simulation for block %d ok", head+1), nil)
	s.log.Debug("Simulation response", "raw", raw)
}

func (s *Scheduler) emit(st State, msg string, err error) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.metrics.recordState(st)

	if err != nil {
		s.log.Warn(msg, "state", st, "err", err)
	} else {
		s.log.Info(msg, "state", st)
	}
	if s.p.OnStatus != nil {
		s.p.OnStatus(Status{State: st, Message: msg, Err: err})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
