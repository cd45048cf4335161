// Package portfolio is the authoritative persisted record of cash, positions,
// trades and the agent allocation. Two independent processes (the agent loop
// and the serving layer) mutate it; the file lock is the sole synchronization
// point between them.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"finsight/internal/models"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
)

var (
	// ErrLockTimeout is a retryable failure to enter the critical section.
	ErrLockTimeout = errors.New("portfolio: timed out waiting for state lock")
	// ErrCorruptState means the persisted file failed structural validation.
	// It is fatal for the operation; the store never auto-repairs.
	ErrCorruptState = errors.New("portfolio: persisted state failed validation")
	// ErrInsufficientFunds rejects a buy the main account cannot cover.
	ErrInsufficientFunds = errors.New("portfolio: insufficient buying power")
	// ErrAllocationExhausted rejects an agent buy exceeding its capital limit.
	ErrAllocationExhausted = errors.New("portfolio: agent allocation exhausted")
	// ErrNoPosition rejects a sell of shares that are not held.
	ErrNoPosition = errors.New("portfolio: not enough shares to sell")
)

const (
	stateVersion    = "1.0"
	maxTrades       = 500
	maxEquityPoints = 1000
	lockRetryDelay  = 100 * time.Millisecond
)

var initialCash = decimal.NewFromInt(100000)

// AgentBook is the agent's isolated sub-portfolio: its allocation plus the
// positions it opened, kept disjoint from manual ones for P&L attribution.
type AgentBook struct {
	Allocation models.AgentAllocation      `json:"allocation"`
	Positions  map[string]*models.Position `json:"positions"`
}

// State is the full durable record. It is only ever handled inside the
// store's critical section.
type State struct {
	Version       string                      `json:"version"`
	Cash          decimal.Decimal             `json:"cash"`
	Equity        decimal.Decimal             `json:"equity"`
	BuyingPower   decimal.Decimal             `json:"buying_power"`
	Positions     map[string]*models.Position `json:"positions"`
	Agent         AgentBook                   `json:"agent_portfolio"`
	Trades        []models.Trade              `json:"trades"`
	EquityHistory []models.EquityPoint        `json:"equity_history"`
}

// Store serializes every read-modify-write against the state file. The file
// lock spans processes; the mutex spans goroutines sharing one Store, since
// flock is per file descriptor, not per goroutine.
type Store struct {
	path        string
	fileLock    *flock.Flock
	mu          sync.Mutex
	lockTimeout time.Duration
	now         func() time.Time
}

func NewStore(path string, lockTimeout time.Duration) *Store {
	return &Store{
		path:        path,
		fileLock:    flock.New(path + ".lock"),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// Update runs fn inside the exclusive critical section and persists the
// result atomically before the lock is released. Collaborator calls that can
// block (data providers, inference, brokerage) must happen before Update is
// entered, never inside fn.
func (s *Store) Update(fn func(*State) error) error {
	return s.locked(func(state *State) error {
		if err := fn(state); err != nil {
			return err
		}
		return s.save(state)
	})
}

// View runs fn with a consistent snapshot of the state, under the same lock
// so it never observes a partially written mutation.
func (s *Store) View(fn func(*State) error) error {
	return s.locked(fn)
}

func (s *Store) locked(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	ok, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		// A failure to reach the lock file is not contention.
		return fmt.Errorf("acquire state lock: %w", err)
	}
	if err != nil || !ok {
		return fmt.Errorf("%w (after %s)", ErrLockTimeout, s.lockTimeout)
	}
	defer s.fileLock.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	return fn(state)
}

// load reads and validates the state file, bootstrapping a fresh simulated
// portfolio when no file exists yet.
func (s *Store) load() (*State, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		state := newState()
		if err := s.save(state); err != nil {
			return nil, err
		}
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	migrate(&state)
	if err := validate(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

// save writes via temp file + fsync + rename so a crash mid-write can never
// leave a truncated state file behind.
func (s *Store) save(state *State) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp state file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func newState() *State {
	return &State{
		Version:     stateVersion,
		Cash:        initialCash,
		Equity:      initialCash,
		BuyingPower: initialCash,
		Positions:   make(map[string]*models.Position),
		Agent: AgentBook{
			Positions: make(map[string]*models.Position),
		},
	}
}

// migrate backfills structures older files lack. Nil maps are a schema gap,
// not corruption.
func migrate(state *State) {
	if state.Positions == nil {
		state.Positions = make(map[string]*models.Position)
	}
	if state.Agent.Positions == nil {
		state.Agent.Positions = make(map[string]*models.Position)
	}
	if state.Version == "" {
		state.Version = stateVersion
	}
}

// validate enforces the structural invariants of the ledger. Violations are
// surfaced loudly as ErrCorruptState; silent repair could mask data loss.
func validate(state *State) error {
	if state.Cash.IsNegative() {
		return fmt.Errorf("%w: negative cash %s", ErrCorruptState, state.Cash)
	}
	for symbol, pos := range state.Positions {
		if pos == nil || !pos.Qty.IsPositive() {
			return fmt.Errorf("%w: position %s has non-positive quantity", ErrCorruptState, symbol)
		}
		if pos.AvgEntry.IsNegative() {
			return fmt.Errorf("%w: position %s has negative entry price", ErrCorruptState, symbol)
		}
	}
	for symbol, pos := range state.Agent.Positions {
		if pos == nil || !pos.Qty.IsPositive() {
			return fmt.Errorf("%w: agent position %s has non-positive quantity", ErrCorruptState, symbol)
		}
	}
	alloc := state.Agent.Allocation
	if alloc.CashUsed.GreaterThan(alloc.CapitalLimit) {
		return fmt.Errorf("%w: agent cash used %s exceeds capital limit %s",
			ErrCorruptState, alloc.CashUsed, alloc.CapitalLimit)
	}
	return nil
}
