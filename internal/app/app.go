// Package app 负责按配置组装所有组件：数据库、缓存、对象存储、外部服务客户端、
// 编排器、调度器和查询引擎。服务进程和命令行工具共用这一套装配逻辑。
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/checkpoint"
	"aec-rag-go/internal/chunker"
	"aec-rag-go/internal/config"
	"aec-rag-go/internal/embedcache"
	"aec-rag-go/internal/indexer"
	"aec-rag-go/internal/lease"
	"aec-rag-go/internal/pipeline"
	"aec-rag-go/internal/provider"
	"aec-rag-go/internal/query"
	"aec-rag-go/internal/repository"
	"aec-rag-go/internal/scheduler"
	"aec-rag-go/internal/vectorstore"
	"aec-rag-go/pkg/database"
	"aec-rag-go/pkg/embedding"
	"aec-rag-go/pkg/es"
	"aec-rag-go/pkg/extract"
	"aec-rag-go/pkg/kafka"
	"aec-rag-go/pkg/limiter"
	"aec-rag-go/pkg/llm"
	"aec-rag-go/pkg/log"
	"aec-rag-go/pkg/ner"
	"aec-rag-go/pkg/storage"
	"aec-rag-go/pkg/tika"

	"golang.org/x/sync/errgroup"
)

// App 持有装配好的组件。
type App struct {
	Config       *config.Config
	Store        provider.ObjectStore
	Uploads      provider.ObjectWriter
	Records      repository.PipelineRepository
	Catalog      repository.ChunkCatalog
	Orchestrator *pipeline.Orchestrator
	Pool         *pipeline.WorkerPool
	Queue        pipeline.Enqueuer
	Scanner      *scheduler.Scanner
	Runner       *scheduler.Runner
	Engine       *query.Engine

	local       *storage.LocalStore
	producer    *kafka.Producer
	index       *es.Index
	tika        *tika.Client
	checkpoints *checkpoint.Store
}

func window(name string, w config.WindowConfig) *limiter.Window {
	return limiter.New(name, limiter.Options{
		Concurrency: w.Concurrency,
		RatePerSec:  w.RatePerSec,
		Burst:       w.Burst,
		Timeout:     w.Timeout,
	})
}

// New 连接所有外部依赖并组装组件。配置问题返回 apperr.ErrConfiguration，
// 其余错误表示依赖不可达。ctx 结束时进行中的文档处理在阶段之间停止。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	metric, err := vectorstore.ParseMetric(cfg.Query.Similarity)
	if err != nil {
		return nil, apperr.Configuration("%v", err)
	}
	ck, err := chunker.New(chunker.Options{MaxTokens: cfg.Chunking.MaxTokens, OverlapTokens: cfg.Chunking.OverlapTokens})
	if err != nil {
		return nil, apperr.Configuration("%v", err)
	}

	// 1. 数据库与缓存
	if err := database.InitMySQL(cfg.Database.MySQL.DSN); err != nil {
		return nil, err
	}
	if err := database.InitRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
		return nil, err
	}
	a.Records = repository.NewPipelineRepository(database.DB)
	a.Catalog = repository.NewChunkCatalog(database.DB)
	watermarks := repository.NewWatermarkRepository(database.DB)

	// 2. 文档来源
	switch cfg.Source.Kind {
	case "local":
		local, err := storage.NewLocalStore(cfg.Source.LocalRoot)
		if err != nil {
			return nil, apperr.Configuration("source.local_root: %v", err)
		}
		a.local, a.Store, a.Uploads = local, local, local
	default:
		if err := storage.InitMinIO(ctx, cfg.MinIO); err != nil {
			return nil, err
		}
		ms := storage.NewMinioStore(storage.MinioClient, cfg.MinIO.BucketName, cfg.MinIO.Prefix)
		a.Store, a.Uploads = ms, ms
	}

	// 3. 向量索引
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		return nil, err
	}
	a.index = es.NewIndex(es.ESClient, cfg.Elasticsearch.IndexName, metric, cfg.Embedding.Dimensions)
	if err := a.index.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	// 4. 外部服务，每个服务一个准入窗口
	var remote extract.TextExtractor
	if cfg.Tika.ServerURL != "" {
		a.tika = tika.NewClient(cfg.Tika)
		remote = a.tika
	} else {
		log.Warnf("未配置 tika.server_url，只能处理纯文本、Markdown、CSV 和 JSON")
	}
	extractor := provider.LimitExtractor(extract.NewRouter(remote), window("extraction", cfg.Admission.Extraction))

	embedClient := embedding.NewClient(cfg.Embedding)
	embedder := provider.LimitEmbedder(embedClient, window("embedding", cfg.Admission.Embedding))

	var entities provider.EntityExtractor
	if cfg.NER.BaseURL != "" {
		nerClient, err := ner.NewClient(cfg.NER)
		if err != nil {
			return nil, err
		}
		entities = provider.LimitEntityExtractor(nerClient, window("ner", cfg.Admission.NER))
	} else {
		log.Warnf("未配置 ner.base_url，跳过元数据增强")
	}

	completer := provider.LimitCompleter(llm.NewCompleter(llm.NewClient(cfg.LLM), cfg.LLM), window("completion", cfg.Admission.Completion))

	// 5. 阶段产物缓存
	if cfg.Checkpoint.Path != "" || cfg.Checkpoint.InMemory {
		a.checkpoints, err = checkpoint.Open(cfg.Checkpoint.Path, cfg.Checkpoint.InMemory, cfg.Checkpoint.TTL)
		if err != nil {
			return nil, err
		}
	}

	// 6. 编排器、队列与调度
	writer := indexer.NewWriter(a.index, a.Catalog, embedClient.Model())
	a.Orchestrator = pipeline.NewOrchestrator(pipeline.Dependencies{
		Records:     a.Records,
		Store:       a.Store,
		Extractor:   extractor,
		Embedder:    embedder,
		Entities:    entities,
		Cache:       embedcache.New(embedcache.NewRedisStore(database.RDB, cfg.Embedding.CacheTTL), embedClient.Model()),
		Checkpoints: a.checkpoints,
		Writer:      writer,
		Leaser:      lease.NewRedisLeaser(database.RDB),
		Chunker:     ck,
	}, pipeline.Options{
		MaxRetries:       cfg.Pipeline.MaxRetries,
		BaseDelay:        cfg.Pipeline.BaseDelay,
		MaxDelay:         cfg.Pipeline.MaxDelay,
		LeaseTTL:         cfg.Pipeline.LeaseTTL,
		EmbedConcurrency: cfg.Admission.Embedding.Concurrency,
		NERConcurrency:   cfg.Admission.NER.Concurrency,
	})

	a.Pool, err = pipeline.NewWorkerPool(ctx, cfg.Pipeline.Workers, a.Orchestrator)
	if err != nil {
		return nil, apperr.Configuration("pipeline.workers: %v", err)
	}
	a.Queue = a.Pool
	if cfg.Kafka.Brokers != "" {
		a.producer = kafka.NewProducer(cfg.Kafka)
		a.Queue = a.producer
	}

	a.Scanner = scheduler.NewScanner(a.Store, a.Records, watermarks, a.Queue, a.Orchestrator, scheduler.Options{
		CategorySegment: cfg.Source.CategorySegment,
		StaleAfter:      cfg.Scheduler.StaleAfter,
	})
	a.Runner = scheduler.NewRunner(a.Scanner, cfg.Scheduler.FullScanInterval, cfg.Scheduler.PollInterval)
	a.Engine = query.NewEngine(embedder, indexer.NewReader(a.index, a.Catalog), completer, query.OptionsFromConfig(cfg.Query))

	if err := a.Check(ctx); err != nil {
		a.Close()
		return nil, err
	}
	log.Infof("组件装配完成, source: %s, queue: %s", a.Store.Name(), a.queueName())
	return a, nil
}

func (a *App) queueName() string {
	if a.producer != nil {
		return "kafka:" + a.Config.Kafka.Topic
	}
	return "in-process"
}

// Check 并行检查所有外部依赖是否可达。
func (a *App) Check(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sqlDB, err := database.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(gctx); err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := database.RDB.Ping(gctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.index.Ping(gctx); err != nil {
			return fmt.Errorf("elasticsearch: %w", err)
		}
		return nil
	})
	if a.tika != nil {
		g.Go(func() error {
			if err := a.tika.Ping(gctx); err != nil {
				return fmt.Errorf("tika: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if a.local != nil {
			if _, err := os.Stat(a.local.Root()); err != nil {
				return fmt.Errorf("source: %w", err)
			}
			return nil
		}
		ok, err := storage.MinioClient.BucketExists(gctx, a.Config.MinIO.BucketName)
		if err != nil {
			return fmt.Errorf("minio: %w", err)
		}
		if !ok {
			return fmt.Errorf("minio: bucket %s does not exist", a.Config.MinIO.BucketName)
		}
		return nil
	})
	return g.Wait()
}

// RunBackground 启动任务消费、对象变更通知、本地目录监听和周期扫描，直到 ctx 结束。
func (a *App) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	cfg := a.Config

	if a.producer != nil {
		g.Go(func() error {
			return kafka.StartConsumer(gctx, cfg.Kafka, a.Pool.Enqueue)
		})
	}
	if cfg.Kafka.Brokers != "" && cfg.Kafka.NotificationTopic != "" {
		g.Go(func() error {
			return kafka.StartNotificationConsumer(gctx, cfg.Kafka, a.Scanner.HandleEvent)
		})
	}
	if a.local != nil && cfg.Source.Watch {
		g.Go(func() error {
			return a.local.Watch(gctx, func(ev provider.ObjectEvent) {
				if err := a.Scanner.HandleEvent(gctx, ev); err != nil {
					log.Warnf("[Watcher] 处理文件事件失败, uri: %s, error: %v", ev.URI, err)
				}
			})
		})
	}
	g.Go(func() error {
		return a.Runner.Run(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close 等待进行中的文档处理结束并释放资源。
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Warnf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if a.checkpoints != nil {
		if err := a.checkpoints.Close(); err != nil {
			log.Warnf("关闭检查点存储失败: %v", err)
		}
	}
	if database.RDB != nil {
		_ = database.RDB.Close()
	}
	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
