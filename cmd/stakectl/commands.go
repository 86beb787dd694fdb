package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// newFlags returns a FlagSet that reports errors instead of exiting.
func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// requireFlags fails with errUsage when any named value is empty.
func requireFlags(fs *flag.FlagSet, vals map[string]string) error {
	for name, v := range vals {
		if v == "" {
			return fmt.Errorf("%s: -%s is required: %w", fs.Name(), name, errUsage)
		}
	}
	return nil
}

func runCreate(ctx context.Context, e *env, args []string) error {
	fs := newFlags("create")
	owner := fs.String("owner", "", "position owner")
	pool := fs.String("pool", "", "pool code or id")
	amount := fs.String("amount", "", "principal as a decimal string")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"owner": *owner, "pool": *pool, "amount": *amount}); err != nil {
		return err
	}

	principal, err := domain.ParseAmount(*amount)
	if err != nil {
		return err
	}

	poolID := *pool
	if _, err := uuid.Parse(poolID); err != nil {
		p, err := e.deps.Engine.Pools.GetByCode(ctx, *pool)
		if err != nil {
			return err
		}
		poolID = p.ID
	}

	pos, err := e.deps.Engine.CreatePosition(ctx, *owner, poolID, principal)
	if err != nil {
		return err
	}
	return e.print(pos)
}

func runAccrue(ctx context.Context, e *env, args []string) error {
	fs := newFlags("accrue")
	position := fs.String("position", "", "position id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"position": *position}); err != nil {
		return err
	}

	amount, err := e.deps.Engine.Accrue(ctx, *position)
	if err != nil {
		return err
	}
	return e.print(map[string]string{
		"position_id": *position,
		"accrued":     domain.FormatAmount(amount),
	})
}

func runClaim(ctx context.Context, e *env, args []string) error {
	fs := newFlags("claim")
	position := fs.String("position", "", "position id")
	owner := fs.String("owner", "", "position owner")
	key := fs.String("key", "", "idempotency key (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"position": *position, "owner": *owner}); err != nil {
		return err
	}

	amount, err := e.deps.Engine.Claim(ctx, *position, *owner, *key)
	if err != nil {
		return err
	}
	return e.print(map[string]string{
		"position_id": *position,
		"claimed":     domain.FormatAmount(amount),
	})
}

func runUnstakePrepare(ctx context.Context, e *env, args []string) error {
	fs := newFlags("unstake-prepare")
	position := fs.String("position", "", "position id")
	owner := fs.String("owner", "", "position owner")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"position": *position, "owner": *owner}); err != nil {
		return err
	}

	quote, err := e.deps.Engine.UnstakePrepare(ctx, *position, *owner)
	if err != nil {
		return err
	}
	return e.print(quote)
}

func runUnstakeConfirm(ctx context.Context, e *env, args []string) error {
	fs := newFlags("unstake-confirm")
	position := fs.String("position", "", "position id")
	owner := fs.String("owner", "", "position owner")
	key := fs.String("key", "", "idempotency key")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"position": *position, "owner": *owner, "key": *key}); err != nil {
		return err
	}

	res, err := e.deps.Engine.UnstakeConfirm(ctx, *position, *owner, *key)
	if err != nil {
		return err
	}
	return e.print(res)
}

func runSweep(ctx context.Context, e *env, args []string) error {
	if err := newFlags("sweep").Parse(args); err != nil {
		return errUsage
	}
	res, err := e.deps.Engine.Sweep(ctx)
	if err != nil {
		return err
	}
	return e.print(res)
}

func runPools(ctx context.Context, e *env, args []string) error {
	if err := newFlags("pools").Parse(args); err != nil {
		return errUsage
	}
	pools, err := e.deps.Engine.Pools.ListActive(ctx)
	if err != nil {
		return err
	}
	return e.print(pools)
}

func runPosition(ctx context.Context, e *env, args []string) error {
	fs := newFlags("position")
	position := fs.String("position", "", "position id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"position": *position}); err != nil {
		return err
	}

	pos, err := e.deps.Engine.Positions.Get(ctx, *position)
	if err != nil {
		return err
	}
	return e.print(pos)
}

func runPositions(ctx context.Context, e *env, args []string) error {
	fs := newFlags("positions")
	owner := fs.String("owner", "", "position owner")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "rows to skip")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"owner": *owner}); err != nil {
		return err
	}

	out, err := e.deps.Engine.Positions.ListByOwner(ctx, *owner, domain.ListOpts{Limit: *limit, Offset: *offset})
	if err != nil {
		return err
	}
	return e.print(out)
}

func runRewards(ctx context.Context, e *env, args []string) error {
	fs := newFlags("rewards")
	position := fs.String("position", "", "position id")
	limit := fs.Int("limit", 100, "page size")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"position": *position}); err != nil {
		return err
	}

	out, err := e.deps.Engine.Positions.Rewards(ctx, *position, domain.ListOpts{Limit: *limit})
	if err != nil {
		return err
	}
	return e.print(out)
}

func runEvents(ctx context.Context, e *env, args []string) error {
	fs := newFlags("events")
	position := fs.String("position", "", "position id")
	limit := fs.Int("limit", 100, "page size")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireFlags(fs, map[string]string{"position": *position}); err != nil {
		return err
	}

	out, err := e.deps.Engine.Positions.Events(ctx, *position, domain.ListOpts{Limit: *limit})
	if err != nil {
		return err
	}
	return e.print(out)
}

// runWatch prints committed events from the Redis bus until interrupted.
func runWatch(ctx context.Context, e *env, args []string) error {
	fs := newFlags("watch")
	recent := fs.Int64("recent", 0, "print this many stored events first")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	bus := e.deps.EventBus
	if bus == nil {
		return errors.New("watch: redis is not enabled")
	}

	sub, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	if *recent > 0 {
		events, err := bus.Recent(ctx, *recent)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := e.print(ev); err != nil {
				return err
			}
		}
	}
	for ev := range sub {
		if err := e.print(ev); err != nil {
			return err
		}
	}
	return nil
}

// exitCode maps errors to process exit codes: 2 usage, 3 validation or
// permission, 4 not found, 5 retryable, 1 anything else.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrInvalidTransition):
		return 3
	case errors.Is(err, domain.ErrNotFound):
		return 4
	case domain.IsRetryable(err):
		return 5
	default:
		return 1
	}
}
