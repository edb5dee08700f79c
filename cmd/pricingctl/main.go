package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pricing/cmd/pricingctl/cli"
	"github.com/odyssey-erp/odyssey-pricing/internal/app"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/cache"
)

const usage = `usage: pricingctl <command> [flags]

commands:
  sweep       enqueue a quote sweep now
  queues      show pricing queue stats
  scheduled   list scheduled tasks
  rules-bust  invalidate the shared rule cache
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	os.Exit(run(ctx, cfg, os.Args[1], os.Args[2:]))
}

func run(ctx context.Context, cfg *app.Config, cmd string, args []string) int {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	grace := fs.Duration("grace", cfg.QuoteSweepGrace, "sweep grace period")
	asJSON := fs.Bool("json", false, "print JSON")
	size := fs.Int("size", 10, "page size for scheduled")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	switch cmd {
	case "sweep":
		client := asynq.NewClient(redisOpts)
		defer client.Close()
		info, err := cli.NewJobsCLI(client, nil).TriggerSweep(ctx, *grace)
		if err != nil {
			return fail(cmd, err)
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "queues", "scheduled":
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()
		jobsCLI := cli.NewJobsCLI(nil, inspector)
		if cmd == "queues" {
			stats, err := jobsCLI.InspectQueues(ctx)
			if err != nil {
				return fail(cmd, err)
			}
			if err := cli.RenderQueues(os.Stdout, stats, *asJSON); err != nil {
				return fail(cmd, err)
			}
			return 0
		}
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			return fail(cmd, err)
		}
		if err := cli.RenderTasks(os.Stdout, tasks); err != nil {
			return fail(cmd, err)
		}
	case "rules-bust":
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return fail(cmd, err)
		}
		defer client.Close()
		versioned := cache.NewVersioned(client, app.RuleCacheNamespace, cfg.RuleCacheTTL, nil)
		v, err := cli.NewRulesCLI(versioned).Invalidate(ctx)
		if err != nil {
			return fail(cmd, err)
		}
		fmt.Printf("rule cache version %d\n", v)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}

func fail(cmd string, err error) int {
	fmt.Fprintf(os.Stderr, "pricingctl %s: %v\n", cmd, err)
	return 1
}
