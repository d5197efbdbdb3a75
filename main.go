package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YlovexLN/Pallas-Bot/api"
	"github.com/YlovexLN/Pallas-Bot/global/config"
	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/chat"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/keyword"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/store"
	"github.com/YlovexLN/Pallas-Bot/module/status"
	"github.com/YlovexLN/Pallas-Bot/service/botconfig"
	"github.com/YlovexLN/Pallas-Bot/service/dispatcher"
	"github.com/YlovexLN/Pallas-Bot/service/mgo"
	"github.com/YlovexLN/Pallas-Bot/service/natsx"
	"github.com/YlovexLN/Pallas-Bot/service/onebot"
	"github.com/YlovexLN/Pallas-Bot/service/scheduler"
	"github.com/YlovexLN/Pallas-Bot/service/storage/redis"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("load config failed: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// ===== 存储 =====
	mgo.StartAsync(ctx, &mgo.Config{
		Uri:         cfg.Mongo.Uri,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
	})
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = mgo.WaitReady(waitCtx)
	cancel()
	if err != nil {
		logger.Errorf("mongo not ready: %v", err)
		os.Exit(1)
	}
	db := mgo.GetDB()
	if err := store.EnsureIndexes(ctx, db); err != nil {
		logger.Warnf("ensure indexes failed: %v", err)
	}

	if err := redis.InitRedis(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		logger.Errorf("init redis failed: %v", err)
		os.Exit(1)
	}

	bus, err := natsx.NewManager(natsx.Config{
		Servers: cfg.Nats.Servers,
		Name:    cfg.Nats.Name,
	})
	if err != nil {
		logger.Errorf("connect nats failed: %v", err)
		os.Exit(1)
	}

	// ===== 复读核心 =====
	extractor, err := keyword.NewExtractor()
	if err != nil {
		logger.Errorf("init keyword extractor failed: %v", err)
		os.Exit(1)
	}

	contexts := &store.ContextRepo{DB: db}
	messages := &store.MessageRepo{DB: db}
	blacklists := &store.BlacklistRepo{DB: db}
	botcfgRepo := &store.BotConfigRepo{DB: db}
	groupcfgRepo := &store.GroupConfigRepo{DB: db}

	bots := botconfig.NewService(redis.GetRedis(), botcfgRepo, groupcfgRepo, config.Cooldown)
	bots.OnDrink(func(botID, groupID int64, value int) {
		logger.Infof("bot [%d] drunkenness in group [%d] is now %d", botID, groupID, value)
	})
	bots.OnSoberUp(func(botID, groupID int64, _ int) {
		logger.Infof("bot [%d] in group [%d] is sober now", botID, groupID)
	})

	engine := chat.NewEngine(cfg.Repeater, contexts, messages, blacklists, bots, extractor)

	// 黑名单预热，顺便算一轮跨群共识
	if err := engine.UpdateGlobalBlacklist(ctx); err != nil {
		logger.Warnf("update global blacklist failed: %v", err)
	}

	// ===== 服务 =====
	st := status.NewService(cfg.Mail, bots)
	gateway := onebot.NewGateway(bus, bots, st, cfg.Repeater.CallName)
	if err := gateway.Start(); err != nil {
		logger.Errorf("start gateway failed: %v", err)
		os.Exit(1)
	}

	disp := dispatcher.New(engine, bots, bus)
	if err := disp.Run(); err != nil {
		logger.Errorf("start dispatcher failed: %v", err)
		os.Exit(1)
	}

	sched := scheduler.New(engine, bots, bus)
	if err := sched.Start(); err != nil {
		logger.Errorf("start scheduler failed: %v", err)
		os.Exit(1)
	}

	router := api.NewRouter(cfg.Server, engine, bots, st, gateway)
	gateway.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	sched.Stop()
	bus.Close()
	if err := engine.Sync(ctx); err != nil {
		logger.Errorf("final sync failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = redis.CloseRedis()
}
