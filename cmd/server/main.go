// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docqa-go/internal/config"
	"docqa-go/internal/handler"
	"docqa-go/internal/metrics"
	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/internal/retrieval"
	"docqa-go/internal/service"
	"docqa-go/pkg/database"
	"docqa-go/pkg/embedding"
	"docqa-go/pkg/es"
	"docqa-go/pkg/kafka"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
	"docqa-go/pkg/ratelimit"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tasks"
	"docqa-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("DOCQA_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 后台 worker 的生命周期，收到退出信号时取消
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	// 3. 初始化指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 4. 初始化数据库和 Redis（按需）
	if needsRedis(cfg) {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}
	if cfg.Conversation.Driver == "mongo" {
		database.InitMongo(cfg.Database.Mongo.URI, cfg.Database.Mongo.Database, cfg.StoreTimeout())
	}
	if cfg.Audit.MySQLEnabled {
		database.InitMySQL(cfg.Database.MySQL.DSN, &model.AuditEntry{})
	}

	// 5. 初始化外部客户端
	llmClient, err := llm.NewClient(appCtx, cfg.LLM)
	if err != nil {
		log.Fatal("LLM 客户端初始化失败", err)
	}
	var presigner service.Presigner
	if cfg.MinIO.Enabled {
		p, err := storage.NewPresigner(cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		presigner = p
	}

	// 6. 初始化身份服务
	jwtManager, err := token.NewJWTManager(cfg.Auth)
	if err != nil {
		log.Fatal("JWT 校验器初始化失败", err)
	}
	identityService := service.NewIdentityService(jwtManager, cfg.OBO, m)

	// 7. 初始化检索策略
	searchRegistry, err := buildRegistry(appCtx, cfg, identityService)
	if err != nil {
		log.Fatal("检索策略初始化失败", err)
	}

	// 8. 初始化限流器
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Driver == "redis" {
		limiter = ratelimit.NewRedisLimiter(database.RDB, cfg.RateLimit.PerMinute, cfg.RateLimitWindow())
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.PerMinute, cfg.RateLimitWindow())
		memLimiter.StartJanitor(appCtx, cfg.RateLimitWindow())
		limiter = memLimiter
	}

	// 9. 初始化 Repository 与 Service (依赖注入)
	var conversationRepo repository.ConversationRepository
	if cfg.Conversation.Driver == "mongo" {
		coll := database.MDB.Collection(cfg.Database.Mongo.Collection)
		if err := repository.EnsureConversationIndexes(appCtx, coll); err != nil {
			log.Fatal("MongoDB 索引初始化失败", err)
		}
		conversationRepo = repository.NewMongoConversationRepository(coll)
	} else {
		conversationRepo = repository.NewRedisConversationRepository(database.RDB)
	}
	var auditRepo repository.AuditRepository
	if cfg.Audit.MySQLEnabled {
		auditRepo = repository.NewAuditRepository(database.DB)
	}

	conversationService := service.NewConversationService(conversationRepo, cfg.ConversationTTL())
	synthesisService := service.NewSynthesisService(llmClient, service.SynthesisOptions{
		Prompt:             cfg.LLM.Prompt,
		Generation:         llm.FromConfig(cfg.LLM.Generation),
		RelevanceThreshold: cfg.Retrieval.RelevanceThreshold,
		HistoryWindow:      cfg.Conversation.HistoryWindow,
		Presigner:          presigner,
	})
	auditService := service.NewAuditService(auditRepo)

	// 10. 初始化标题任务队列与 worker
	var queue tasks.Queue
	var producer *kafka.Producer
	var memQueue *tasks.MemoryQueue
	if cfg.Title.Driver == "kafka" {
		producer = kafka.NewProducer(cfg.Kafka)
		queue = producer
	} else {
		memQueue = tasks.NewMemoryQueue(100)
		queue = memQueue
	}
	var claimer tasks.Claimer
	if database.RDB != nil {
		claimer = tasks.NewRedisClaimer(database.RDB, "title:claimed:", cfg.ConversationTTL())
	} else {
		claimer = tasks.NewMemoryClaimer()
	}
	titleService := service.NewTitleService(llmClient, conversationService, queue, claimer, m)
	if producer != nil {
		go kafka.StartConsumer(appCtx, cfg.Kafka, titleService)
	} else {
		memQueue.Start(appCtx, cfg.Title.Workers, titleService)
	}

	slow := time.Duration(cfg.Chat.SlowRequestSeconds) * time.Second
	chatService := service.NewChatService(searchRegistry, limiter, conversationService, synthesisService,
		auditService, titleService, m, service.ChatOptions{
			MaxInputLength: cfg.Chat.MaxInputLength,
			TopK:           cfg.Retrieval.TopK,
			SlowRequest:    slow,
			StoreTimeout:   cfg.StoreTimeout(),
		})

	// 11. 设置 Gin 路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterDeps{
		IdentityService:     identityService,
		ChatService:         chatService,
		ConversationService: conversationService,
		Registry:            searchRegistry,
		Version:             cfg.Server.Version,
		SlowRequest:         slow,
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// 12. 启动服务器并实现优雅关停
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("服务器强制关闭", err)
	}

	cancelApp()
	if memQueue != nil {
		memQueue.Wait()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("关闭 Kafka 生产者失败", err)
		}
	}
	if database.MDB != nil {
		database.CloseMongo(ctx)
	}
	log.Info("服务器已退出")
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Conversation.Driver != "mongo" || cfg.RateLimit.Driver == "redis"
}

// buildRegistry 按配置启用检索策略，每个后端都包上超时与指标。
func buildRegistry(ctx context.Context, cfg *config.Config, exchanger retrieval.TokenExchanger) (*retrieval.Registry, error) {
	timeout := cfg.RetrievalTimeout()
	backends := make(map[retrieval.Approach]retrieval.Backend, len(cfg.Retrieval.Enabled))
	order := make([]retrieval.Approach, 0, len(cfg.Retrieval.Enabled))
	var kbClient *retrieval.KnowledgeBaseClient

	for _, name := range cfg.Retrieval.Enabled {
		approach, err := retrieval.ParseApproach(name)
		if err != nil {
			return nil, err
		}
		var backend retrieval.Backend
		switch approach {
		case retrieval.IndexedHybrid:
			esClient, err := es.NewClient(ctx, cfg.Elasticsearch)
			if err != nil {
				return nil, err
			}
			if cfg.Elasticsearch.CreateIndex {
				if err := es.EnsureIndex(ctx, esClient, cfg.Elasticsearch.IndexName, cfg.Elasticsearch.Dimensions); err != nil {
					return nil, err
				}
			}
			backend = retrieval.NewHybridBackend(esClient, embedding.NewClient(cfg.Embedding), cfg.Elasticsearch.IndexName)
		case retrieval.LiveRemote, retrieval.IndexedKnowledgeBase:
			if kbClient == nil {
				kbClient = retrieval.NewKnowledgeBaseClient(cfg.Retrieval.KnowledgeBase, &http.Client{Timeout: timeout})
			}
			kb := cfg.Retrieval.KnowledgeBase
			if approach == retrieval.LiveRemote {
				backend = retrieval.NewLiveRemoteBackend(kbClient, kb.RemoteKB, kb.RemoteSource, cfg.OBO.Scope, exchanger)
			} else {
				backend = retrieval.NewIndexedKBBackend(kbClient, kb.IndexedKB, kb.IndexedSource, kb.APIKey)
			}
		}
		backends[approach] = retrieval.Guard(approach, backend, timeout)
		order = append(order, approach)
	}
	log.Infof("已启用检索策略: %s, 默认: %s", strings.Join(cfg.Retrieval.Enabled, ","), cfg.Retrieval.DefaultApproach)
	return retrieval.NewRegistry(retrieval.Approach(cfg.Retrieval.DefaultApproach), order, backends)
}
