package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/correction"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/notify"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/sweeper"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 加载配置
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", "error", err)
		return
	}

	/**********************************************
	 * 连接数据库
	 **********************************************/
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer pingCancel()
	if err := dbpool.PingContext(pingCtx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	repo := repository.NewRepository(cfg, dbpool)

	/**********************************************
	 * 连接 rabbitmq，自动升级和自动批准都需要发送通知
	 **********************************************/
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		logger.Error("无法连接到 rabbitmq", "error", err)
		return
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("无法建立通道", "error", err)
		return
	}
	defer ch.Close()

	if _, err := notify.DeclareQueue(ch, cfg.RabbitMQ.Queue); err != nil {
		logger.Error("无法声明队列", "error", err)
		return
	}

	dispatcher := notify.NewDispatcher(
		notify.NewAMQPPublisher(ch, cfg.RabbitMQ.Queue),
		time.Duration(cfg.RabbitMQ.PublishTimeout)*time.Second,
		cfg.RabbitMQ.PublishBuffer,
	)

	/**********************************************
	 * 连接 redis，用于多个 worker 之间的任务租约
	 **********************************************/
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer rdb.Close()

	/**********************************************
	 * 启动后台任务
	 **********************************************/
	corrections := correction.NewService(repo, dispatcher, correction.OptionsFromConfig(cfg))
	runner := sweeper.NewRunner(
		cache.New(rdb, time.Duration(cfg.Tracking.WindowMinutes)*time.Minute),
		time.Duration(cfg.Sweeper.LeaseTTL)*time.Second,
	)
	interval := time.Duration(cfg.Sweeper.Interval) * time.Second
	tasks := []sweeper.Task{
		sweeper.EscalateTask(corrections),
		sweeper.AutoApproveTask(corrections),
		sweeper.PurgePingsTask(repo, time.Duration(cfg.Tracking.RetentionDays)*24*time.Hour),
		sweeper.CompleteShiftsTask(repo, time.Duration(cfg.Clock.GraceMinutes)*time.Minute),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return runner.Every(ctx, interval, task)
		})
	}

	logger.Info("后台任务已启动（按 CTRL+C 退出）", "interval", interval, "tasks", len(tasks))
	if err := g.Wait(); err != nil {
		logger.Error("后台任务异常退出", "error", err)
	}

	// 所有任务退出后不会再有新的通知，投递完缓冲区再退出
	dispatchCancel()
	<-dispatchDone
	logger.Info("worker 已成功关闭", "notificationFailures", dispatcher.Failures())
}
