package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-tailor/internal/api/handler"
	"resume-tailor/internal/api/router"
	"resume-tailor/internal/auth"
	"resume-tailor/internal/billing"
	"resume-tailor/internal/config"
	"resume-tailor/internal/jobs"
	appCoreLogger "resume-tailor/internal/logger"
	"resume-tailor/internal/outbox"
	"resume-tailor/internal/parser"
	"resume-tailor/internal/processor"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/tracing"
	"resume-tailor/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

const requestIDHeader = "X-Request-ID"

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}
	initLogger(cfg.Logger)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 链路追踪
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.InitProvider(ctx, tracing.ProviderConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			glog.Fatalf("初始化链路追踪失败: %v", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			_ = shutdownTracing(flushCtx)
		}()
		glog.Infof("链路追踪已启用，导出到 %s", cfg.Tracing.Endpoint)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	// 发件箱中继
	messageRelay := outbox.NewMessageRelay(
		storageManager.MySQL.DB(),
		storageManager.RabbitMQ,
		appCoreLogger.StdLogger("[MessageRelay] "),
		outbox.WithPollingInterval(config.GetDuration(cfg.Outbox.PollInterval, 2*time.Second)),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxRetries(cfg.Outbox.MaxRetries),
	)
	messageRelay.Start()
	glog.Info("消息中继服务已启动")

	// 额度与任务
	profiles := billing.NewService(storageManager.MySQL.DB(), cfg.Credits)
	jobManager := jobs.NewManager(
		storageManager.MySQL.DB(),
		profiles.Gate(),
		cfg.RabbitMQ.GenerationExchange,
		cfg.RabbitMQ.GenerationRoutingKey,
		jobs.WithDeadline(config.GetDuration(cfg.Jobs.Deadline, 0)),
		jobs.WithTTL(config.GetDuration(cfg.Jobs.TTL, 0)),
	)
	sweeper := jobs.NewSweeper(jobManager, config.GetDuration(cfg.Jobs.SweepInterval, 10*time.Minute), appCoreLogger.Component("job_sweeper"))
	sweeper.Start()

	// 模型与流水线
	genaiClient, err := parser.NewGenAIClient(ctx, &cfg.Gemini)
	if err != nil {
		glog.Fatalf("初始化Gemini客户端失败: %v", err)
	}
	limits := ratelimit.NewRegistry(cfg.ModelQPMLimits, 2*time.Second, 3, parser.IsRetryableGenAIError)
	pipelines, err := processor.NewPipelinesFromConfig(ctx, processor.ServiceDeps{
		Config:  cfg,
		Storage: storageManager,
		GenAI:   genaiClient.Models,
		Limits:  limits,
		Jobs:    jobManager,
	})
	if err != nil {
		glog.Fatalf("初始化流水线失败: %v", err)
	}

	// 消费者
	retry := config.GetDuration(cfg.RabbitMQ.RetryInterval, 5*time.Second)
	ingestConsumer := handler.NewIngestConsumer(pipelines.Ingestion)
	generationConsumer := handler.NewGenerationConsumer(jobManager, pipelines.Generation)
	go handler.RunConsumer(ctx, storageManager.RabbitMQ, cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.PrefetchCount, retry, ingestConsumer.Handle)
	go handler.RunConsumer(ctx, storageManager.RabbitMQ, cfg.RabbitMQ.GenerationQueue, cfg.RabbitMQ.PrefetchCount, retry, generationConsumer.Handle)
	glog.Infof("消费者已启动: %s, %s", cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.GenerationQueue)

	if cfg.MinIO.WatchUploads {
		notifier := handler.NewUploadNotifier(storageManager.RabbitMQ, cfg.RabbitMQ)
		go storageManager.MinIO.ListenUploads(ctx, notifier.HandleUpload)
		glog.Info("已开启上传通知监听")
	}

	// 鉴权
	verifier, err := auth.NewJWKSVerifier(cfg.Auth)
	if err != nil {
		glog.Fatalf("初始化JWT校验失败: %v", err)
	}
	defer verifier.Close()
	webhookVerifier, err := auth.NewWebhookVerifier(cfg.Webhook)
	if err != nil {
		glog.Fatalf("初始化回调签名校验失败: %v", err)
	}

	// HTTP
	tracer, tracingCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracingCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		requestID := string(ctx.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Response.Header.Set(requestIDHeader, requestID)
		ctx.Next(c)
		glog.CtxInfof(c, "[%s] %s %s -> %d (%s)", requestID, string(ctx.Method()), string(ctx.Path()), ctx.Response.StatusCode(), time.Since(start))
	})

	router.RegisterRoutes(h, router.Handlers{
		Resume:     handler.NewResumeHandler(storageManager.MySQL, storageManager.MinIO, config.GetDuration(cfg.MinIO.UploadURLExpiry, time.Hour)),
		Generation: handler.NewGenerationHandler(storageManager.MySQL, jobManager, pipelines.Generation.PromptVersion()),
		Profile:    handler.NewProfileHandler(profiles, webhookVerifier),
		Health:     storageManager,
	}, auth.Middleware(verifier))
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}

	// 先停止消费，再停后台任务
	cancel()
	sweeper.Stop()
	messageRelay.Stop()
	glog.Info("优雅退出完成")
}

// initLogger 初始化应用日志并把 hertz 日志接到同一个 zerolog 实例
func initLogger(cfg config.LoggerConfig) {
	if err := appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
		FilePath:     cfg.FilePath,
	}); err != nil {
		glog.Fatalf("初始化日志失败: %v", err)
	}

	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	if cfg.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}
