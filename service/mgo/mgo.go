package mgo

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/YlovexLN/Pallas-Bot/logger"
)

// Config MongoDB 连接配置
type Config struct {
	Uri         string
	Database    string
	Username    string
	Password    string
	MaxPoolSize int
}

type Manager struct {
	mu        sync.RWMutex
	db        *mongo.Database
	readyCh   chan struct{} // 首次就绪通知，只 close 一次
	readyOnce sync.Once
}

var globalMgr = Manager{readyCh: make(chan struct{})}

func connect(ctx context.Context, cfg *Config) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.Uri)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: "admin",
		})
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cli, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(cctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// StartAsync 后台连接，掉线自动重连；首次连上 close readyCh
func StartAsync(ctx context.Context, cfg *Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
			failThresh  = 3
		)

		for {
			// ===== 连接阶段（退避重试） =====
			attempt := 0
			var cli *mongo.Client
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				c, err := connect(ctx, cfg)
				if err == nil {
					cli = c
					globalMgr.mu.Lock()
					globalMgr.db = c.Database(cfg.Database)
					globalMgr.mu.Unlock()
					globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
					break
				}
				logger.Warnf("[mgo] connect failed: %v", err)

				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
				timer := time.NewTimer(backoff - jitter/2)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// ===== 健康检查阶段 =====
			fail := 0
			ticker := time.NewTicker(healthEvery)
		health:
			for {
				select {
				case <-ctx.Done():
					ticker.Stop()
					_ = cli.Disconnect(context.Background())
					globalMgr.mu.Lock()
					globalMgr.db = nil
					globalMgr.mu.Unlock()
					return
				case <-ticker.C:
					if err := cli.Ping(ctx, nil); err != nil {
						fail++
						if fail >= failThresh {
							logger.Warnf("[mgo] lost connection, reconnecting: %v", err)
							ticker.Stop()
							_ = cli.Disconnect(context.Background())
							globalMgr.mu.Lock()
							globalMgr.db = nil
							globalMgr.mu.Unlock()
							break health
						}
					} else {
						fail = 0
					}
				}
			}
		}
	}()
}

// WaitReady 阻塞到首次连接成功
func WaitReady(ctx context.Context) error {
	select {
	case <-globalMgr.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		panic("Mongo not ready: wait WaitReady() first")
	}
	return globalMgr.db
}
