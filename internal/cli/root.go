// Package cli 实现 ragctl 命令行工具。命令在进程内装配组件并直接调用文档和问答服务。
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aec-rag-go/internal/app"
	"aec-rag-go/internal/apperr"
	"aec-rag-go/internal/config"
	"aec-rag-go/internal/service"
	"aec-rag-go/pkg/log"

	"github.com/spf13/cobra"
)

// 退出码。
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
)

var configPath string

// session 是一次命令执行期间使用的服务。
type session struct {
	docs  service.DocumentService
	query service.QueryService
	close func()
}

// connect 加载配置并装配组件。测试中会被替换。
var connect = func(ctx context.Context, path string) (*session, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &session{
		docs:  service.NewDocumentService(a.Orchestrator, a.Catalog, a.Queue, a.Uploads, a.Scanner),
		query: a.Engine,
		close: a.Close,
	}, nil
}

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Operate the AEC document ingestion pipeline",
	Long: `ragctl triggers scans, inspects and repairs document processing state,
and asks questions against the indexed AEC documents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "path to the YAML config file")
}

// withSession 包装需要组件的命令，命令结束后等待进行中的处理并释放资源。
func withSession(run func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := connect(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer s.close()
		return run(cmd, args, s)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ExitCode 把命令错误映射为退出码：配置错误为 2，其余失败为 1。
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, apperr.ErrConfiguration):
		return ExitConfiguration
	default:
		return ExitFailure
	}
}

// Execute 运行根命令并返回退出码。SIGINT/SIGTERM 会取消进行中的命令。
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return ExitCode(err)
}
