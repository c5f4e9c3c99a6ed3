package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"collabnotes/backend/internal/collab"
	"collabnotes/backend/internal/config"
	"collabnotes/backend/internal/httpapi/handlers"
	"collabnotes/backend/internal/oplog"
	"collabnotes/backend/internal/ot"
	"collabnotes/backend/internal/replog"
	"collabnotes/backend/internal/store"
	"collabnotes/backend/internal/ws"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config failed", zap.Error(err))
	}

	nodeID := cfg.Running.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.Error(err))
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		logger.Fatal("mysql open failed", zap.Error(err))
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormmysql.Open(cfg.Mysql.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("gorm open failed", zap.Error(err))
	}
	metadataStore := store.NewMetadataStore(gormDB)
	if err := metadataStore.AutoMigrate(); err != nil {
		logger.Fatal("metadata migrate failed", zap.Error(err))
	}

	kafkaCfg := sarama.NewConfig()
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		logger.Fatal("kafka connect failed", zap.Error(err))
	}
	defer producer.Close()

	sequencer := replog.NewKafkaSequencer(producer, cfg.Kafka.Topic)
	dispatcher := replog.NewDispatcher(sequencer,
		replog.NewSemaphore(orDefault(cfg.Replication.MaxInflight, 100)),
		logger, replog.DispatcherOptions{
		QueueSize:   orDefault(cfg.Replication.QueueSize, 10_000),
		Workers:     orDefault(cfg.Replication.Workers, 4),
		MaxRetry:    orDefault(cfg.Replication.MaxRetry, 3),
		BaseBackoff: time.Duration(orDefault(cfg.Replication.BaseBackoffMs, 50)) * time.Millisecond,
		MaxBackoff:  time.Duration(orDefault(cfg.Replication.MaxBackoffMs, 1000)) * time.Millisecond,
	})
	defer dispatcher.Close()

	liveness := replog.NewRedisLiveness(rdb, nodeID,
		time.Duration(orDefault(cfg.Replication.LivenessTTLs, 30))*time.Second, logger)

	window := ot.DefaultWindow()
	if cfg.Collab.WindowPrefilterMs > 0 {
		window.Prefilter = time.Duration(cfg.Collab.WindowPrefilterMs) * time.Millisecond
	}
	if cfg.Collab.WindowRadiusMs > 0 {
		window.Radius = time.Duration(cfg.Collab.WindowRadiusMs) * time.Millisecond
	}

	svc := collab.NewService(oplog.NewMySQL(db), dispatcher, metadataStore, logger, collab.Options{
		Window:      window,
		MaxAttempts: cfg.Collab.MaxAppendAttempts,
		NodeID:      nodeID,
	})

	hub := ws.NewHub(liveness, logger)
	manager := ws.NewManager(hub, svc, logger)

	r := gin.New()
	r.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	handlers.NewDocuments(metadataStore, svc, logger).Register(r)
	r.GET("/ws", manager.WebSocketConnect)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	logger.Info("collab server starting",
		zap.Int("port", cfg.Running.Port),
		zap.String("nodeId", nodeID))
	if err := r.Run(fmt.Sprintf(":%d", cfg.Running.Port)); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
