// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aec-rag-go/internal/app"
	"aec-rag-go/internal/config"
	"aec-rag-go/internal/handler"
	"aec-rag-go/internal/middleware"
	"aec-rag-go/internal/service"
	"aec-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(2)
	}
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 装配组件；rootCtx 结束时后台任务和进行中的文档处理一起停止
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	a, err := app.New(rootCtx, &cfg)
	if err != nil {
		log.Fatalf("组件初始化失败: %v", err)
	}

	// 4. 初始化 Service
	documentService := service.NewDocumentService(a.Orchestrator, a.Catalog, a.Queue, a.Uploads, a.Scanner)
	var queryService service.QueryService = a.Engine

	// 5. 启动后台任务：任务消费、对象变更通知、目录监听和周期扫描
	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		if err := a.RunBackground(rootCtx); err != nil {
			log.Errorf("后台任务异常退出: %v", err)
		}
	}()

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	documentHandler := handler.NewDocumentHandler(documentService)
	queryHandler := handler.NewQueryHandler(queryService)

	// 7. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		scan := apiV1.Group("/scan")
		{
			scan.POST("/rescan", documentHandler.Rescan)
		}

		documents := apiV1.Group("/documents")
		{
			documents.GET("/:id/status", documentHandler.Status)
			documents.POST("/:id/resubmit", documentHandler.Resubmit)
			documents.DELETE("/:id", documentHandler.Delete)
			documents.POST("/upload", documentHandler.Upload)
		}

		apiV1.POST("/query", queryHandler.Ask)
		apiV1.GET("/query/stream", queryHandler.Stream)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// SIGHUP 触发一次全量扫描；SIGINT/SIGTERM 优雅停机
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
wait:
	for {
		select {
		case <-hup:
			if a.Runner.TriggerRescan() {
				log.Info("接收到 SIGHUP，已请求全量扫描")
			}
		case <-quit:
			break wait
		}
	}
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止后台任务；进行中的文档在当前阶段结束后停止，租约到期后由其他实例接手
	cancelRoot()
	<-bgDone
	a.Close()
	log.Info("服务已优雅关闭")
}
