package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/viral_go_server/config"
	"github.com/qs3c/viral_go_server/internal/database"
	"github.com/qs3c/viral_go_server/internal/pkg/logger"
	"github.com/qs3c/viral_go_server/internal/pkg/pubsub"
	"github.com/qs3c/viral_go_server/internal/repository"
	"github.com/qs3c/viral_go_server/internal/service"
)

var (
	dryRun        = flag.Bool("dry-run", true, "Dry run mode, only count expired history")
	retentionDays = flag.Int("retention-days", 0, "Days to keep search history (0 = use config)")
	notify        = flag.Bool("notify", true, "Publish delete events so open sessions refresh")
)

func main() {
	flag.Parse()

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	// 连接数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}

	var notifier repository.ChangeNotifier
	if *notify && !*dryRun {
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			zl.Warn("redis unavailable, delete events will not be published", zap.Error(err))
		} else {
			defer rdb.Close()
			notifier = pubsub.NewPublisher(rdb)
		}
	}

	days := cfg.History.RetentionDays
	if *retentionDays > 0 {
		days = *retentionDays
	}

	historyService := service.NewHistoryService(
		repository.NewHistoryRepository(db, notifier),
		repository.NewResultRepository(db),
		nil,
		days,
		zl,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	zl.Info("starting history cleanup",
		zap.Bool("dry_run", *dryRun),
		zap.Int("retention_days", historyService.RetentionDays()))

	count, err := historyService.Purge(ctx, time.Now(), *dryRun)
	if err != nil {
		zl.Fatal("history cleanup failed", zap.Error(err))
	}

	if *dryRun {
		zl.Info("dry run finished, nothing deleted (run with -dry-run=false to delete)", zap.Int64("expired", count))
		return
	}
	zl.Info("history cleanup completed", zap.Int64("deleted", count))
}
