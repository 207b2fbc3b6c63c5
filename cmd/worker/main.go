package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/config"
	"github.com/harmoni/backend/internal/devicestore"
	"github.com/harmoni/backend/internal/jobs"
	"github.com/harmoni/backend/internal/logger"
	"github.com/harmoni/backend/internal/repository"
	"github.com/harmoni/backend/internal/service"
)

func main() {
	runNow := flag.Bool("run-now", false, "enqueue one expire-lapsed task and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(!cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required for the worker")
	}
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *runNow {
		task, err := jobs.NewExpireLapsedTask(jobs.ExpireLapsedPayload{})
		if err != nil {
			log.Fatal("build expire task", zap.Error(err))
		}
		info, err := jobs.Enqueue(ctx, redisOpts, task, asynq.Queue(jobs.QueueDefault))
		if err != nil {
			log.Fatal("enqueue expire task", zap.Error(err))
		}
		log.Info("expire-lapsed task enqueued", zap.String("task_id", info.ID))
		return
	}

	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := devicestore.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Expiries fan out to server instances through the relay channel.
	relay := service.NewEntitlementRelay(redisClient, service.NewEntitlementHub(), log)
	users := repository.NewUserRepository(db)
	subscriptions := service.NewSubscriptionService(repository.NewTransactionRepository(db, users), relay, cfg.ExpiryPolicy, log)
	expireJob := jobs.NewExpireLapsedJob(subscriptions, log)

	var cron []jobs.CronRegistration
	if cfg.ExpiryCron != "" {
		task, err := jobs.NewExpireLapsedTask(jobs.ExpireLapsedPayload{})
		if err != nil {
			log.Fatal("build expire task", zap.Error(err))
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ExpiryCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    log,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpireLapsed, Handler: expireJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		log.Fatal("init worker", zap.Error(err))
	}

	log.Info("worker started", zap.Bool("scheduled", worker.Scheduled()), zap.String("policy", string(cfg.ExpiryPolicy)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
	}
}
