package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/attachment"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/bugsplat"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/cache"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/config"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/logging"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/mcp"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/server"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/server/routes"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	purgeOnly   bool
}

// stdout 承载 MCP 协议流，日志与提示一律写 stderr。
var (
	stdIn  io.Reader = os.Stdin
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, stdErr)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["database"] = cfg.BugSplat.Database
		fields["auth"] = cfg.BugSplat.AuthMode()
		fields["http"] = cfg.HTTPEnabled()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → 上游客户端 → 附件管理器 → MCP/HTTP 入口，
	// 所有入口共享同一个 Manager，保证同一崩溃 ID 的填充互斥。
	manager, client, err := buildServices(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化附件缓存失败: %v\n", err)
		return 1
	}

	if opts.purgeOnly {
		if err := purgeOnce(context.Background(), manager, logger); err != nil {
			fmt.Fprintf(stdErr, "清理过期附件失败: %v\n", err)
			return 1
		}
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["database"] = cfg.BugSplat.Database
	fields["storage_root"] = manager.Root()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["purge_interval"] = cfg.Global.PurgeInterval.DurationValue().String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, manager, client, logger); err != nil {
		fmt.Fprintf(stdErr, "服务异常退出: %v\n", err)
		return 1
	}
	return 0
}

// buildServices 构造共享同一个 http.Client 的附件管理器与 BugSplat 客户端。
func buildServices(cfg *config.Config, logger *logrus.Logger) (*attachment.Manager, *bugsplat.Client, error) {
	store, err := cache.NewStore(cache.Options{
		BasePath: cfg.Global.StoragePath,
		Database: cfg.BugSplat.Database,
	})
	if err != nil {
		return nil, nil, err
	}

	httpClient := server.NewUpstreamClient(cfg)
	client, err := bugsplat.NewClient(cfg.BugSplat, httpClient, bugsplat.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	manager, err := attachment.NewManager(attachment.Options{
		Store:  store,
		Source: client,
		Client: httpClient,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return manager, client, nil
}

// serve 运行 MCP stdio 服务、定时清理以及可选的 HTTP 网关，stdin EOF 或收到信号后返回。
func serve(ctx context.Context, cfg *config.Config, manager *attachment.Manager, client *bugsplat.Client, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runPurgeLoop(ctx, manager, cfg.Global.PurgeInterval.DurationValue(), logger)
	}()

	httpErr := make(chan error, 1)
	if cfg.HTTPEnabled() {
		app, err := server.NewApp(server.AppOptions{Logger: logger, Attachments: manager})
		if err != nil {
			return err
		}
		routes.RegisterDiagnosticRoutes(app, manager)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx, app, cfg.Global.ListenPort, logger); err != nil {
				httpErr <- err
				cancel()
			}
		}()
	}

	mcpServer, err := mcp.NewServer(manager, logger, mcp.WithIssues(client))
	if err != nil {
		return err
	}
	mcpDone := make(chan error, 1)
	go func() {
		mcpDone <- mcpServer.Run(ctx, stdIn, stdOut)
	}()

	var runErr error
	select {
	case runErr = <-mcpDone:
		logger.WithField("action", "shutdown").Info("stdin 已关闭，准备退出")
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("收到退出信号")
	}
	cancel()
	wg.Wait()

	select {
	case err := <-httpErr:
		return errors.Join(runErr, fmt.Errorf("HTTP 服务启动失败: %w", err))
	default:
	}
	return runErr
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 未指定配置文件时仅使用环境变量。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("bugsplat-mcp", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		purgeOnly  bool
	)

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（可被 BUGSPLAT_MCP_CONFIG 提供）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&purgeOnly, "purge", false, "清理过期附件后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("BUGSPLAT_MCP_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		purgeOnly:   purgeOnly,
	}, nil
}
