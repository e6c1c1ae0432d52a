package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/agora-forum/agora/cmd/agora/cli"
	"github.com/agora-forum/agora/internal/app"
	"github.com/agora-forum/agora/jobs"
)

const usage = `usage: agora [command]

Without a command agora serves the admin API.

commands:
  sweep [--json] [--timeout d]           run the ban expiry sweep in-process
  reconcile --account id                 settle one account's status
  jobs trigger [--job name] [--json]     enqueue a job (default bans:sweep)
  jobs inspect [--json]                  show default queue state
  jobs scheduled [--size n]              list scheduled tasks
`

func runCommand(ctx context.Context, cfg *app.Config, ledger cli.Ledger, args []string) int {
	switch args[0] {
	case "sweep", "reconcile":
		fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
		opts := cli.SweepOptions{Timeout: cfg.SweepTimeout}
		fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
		fs.DurationVar(&opts.Timeout, "timeout", cfg.SweepTimeout, "sweep timeout")
		fs.Int64Var(&opts.AccountID, "account", 0, "account id")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		sweeper := cli.NewSweepCLI(ledger)
		if args[0] == "sweep" {
			return sweeper.SweepCommand(ctx, opts)
		}
		return sweeper.ReconcileCommand(ctx, opts)
	case "jobs":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("jobs "+args[1], flag.ContinueOnError)
		opts := cli.JobsOptions{}
		fs.StringVar(&opts.Job, "job", jobs.TaskBanSweep, "job name")
		fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
		fs.DurationVar(&opts.Timeout, "timeout", cfg.SweepTimeout, "job timeout")
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer func() { _ = jobsCLI.Close() }()
		switch args[1] {
		case "trigger":
			return jobsCLI.TriggerCommand(ctx, opts)
		case "inspect":
			return jobsCLI.InspectCommand(ctx, opts)
		case "scheduled":
			tasks, err := jobsCLI.ListScheduled(ctx, *size)
			if err != nil {
				fmt.Fprintf(os.Stderr, "jobs scheduled: %v\n", err)
				return 1
			}
			for _, task := range tasks {
				fmt.Printf("%s %s next=%s\n", task.ID, task.Type, task.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
			}
			return 0
		}
	}
	fmt.Fprint(os.Stderr, usage)
	return 2
}
