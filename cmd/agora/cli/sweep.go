package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agora-forum/agora/internal/accounts"
	"github.com/agora-forum/agora/internal/bans"
)

// Ledger is the part of the ban ledger the sweep helpers drive.
type Ledger interface {
	SweepExpired(ctx context.Context) (bans.SweepResult, error)
	Reconcile(ctx context.Context, accountID int64) (accounts.Status, error)
}

// SweepCLI runs the expiry sweep in-process, bypassing the queue.
type SweepCLI struct {
	ledger Ledger
}

// NewSweepCLI constructs a SweepCLI.
func NewSweepCLI(ledger Ledger) *SweepCLI {
	return &SweepCLI{ledger: ledger}
}

// SweepOptions defines flags for the sweep and reconcile commands.
type SweepOptions struct {
	AccountID  int64
	Timeout    time.Duration
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SweepCommand runs one sweep. It exits 10 when some accounts could not be
// settled so cron wrappers can alert.
func (c *SweepCLI) SweepCommand(ctx context.Context, opts SweepOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	result, err := c.ledger.SweepExpired(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "sweep: run %s: %v\n", result.RunID, err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "sweep: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "run %s: accounts=%d lifted=%d repaired=%d failed=%d\n",
			result.RunID, result.Accounts, result.Lifted, result.Repaired, result.Failed)
	}
	if result.Failed > 0 {
		return 10
	}
	return 0
}

// ReconcileCommand settles one account's status against its records.
func (c *SweepCLI) ReconcileCommand(ctx context.Context, opts SweepOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.AccountID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "reconcile: --account is required and must be positive")
		return 1
	}
	status, err := c.ledger.Reconcile(ctx, opts.AccountID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "account %d: %s\n", opts.AccountID, status)
	return 0
}
