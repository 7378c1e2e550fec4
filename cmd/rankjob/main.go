// Command rankjob rebuilds one month of the leaderboard and exits. Without
// flags it rebuilds the current month in RANK_TIMEZONE, exactly like a
// scheduler tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"runnersmap/internal/bootstrap"
	"runnersmap/internal/config"
	"runnersmap/internal/notifications"
	"runnersmap/internal/repository"
	"runnersmap/internal/scheduler"
	"runnersmap/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	year := flag.Int("year", 0, "year to rebuild (requires -month)")
	month := flag.Int("month", 0, "month to rebuild, 1-12 (requires -year)")
	flag.Parse()

	if (*year == 0) != (*month == 0) {
		return fmt.Errorf("-year and -month must be given together")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{ServiceName: "runnersmap-rankjob", SkipSchema: true})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	var notifier *notifications.Notifier
	if rt.Redis != nil {
		notifier = notifications.NewNotifier(rt.Redis)
	}
	ranks := service.NewRankService(
		rt.DB,
		repository.NewUserPostRepository(rt.DB),
		repository.NewRankRepository(rt.DB),
		repository.NewUserRepository(rt.DB),
		notifier,
		rt.Location,
	)
	sched := scheduler.New(cfg.RankCron, ranks)

	ctx, cancel := context.WithTimeout(context.Background(), scheduler.DefaultTimeout)
	defer cancel()

	if *year != 0 {
		return sched.RunPeriod(ctx, *year, *month)
	}
	return sched.RunOnce(ctx)
}
