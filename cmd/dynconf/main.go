package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/dynconf/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "test":
		os.Exit(runTest(os.Args[2:], os.Stdout, os.Stderr))
	case "push":
		os.Exit(runPush(os.Args[2:], os.Stdout, os.Stderr))
	case "migrate":
		os.Exit(runMigrate(os.Args[2:], os.Stdout, os.Stderr))
	case "env":
		printEnvKeys(os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "health":
		os.Exit(runHealthCheck(os.Args[2:], os.Stdout, os.Stderr))
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	settingsPath := fs.String("config", "", "Path to settings file (YAML)")
	confPath := fs.String("c", "", "Path to directive configuration file")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *settingsPath != "" {
		loader = loader.WithConfigPath(*settingsPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	if *confPath != "" {
		cfg.Server.ConfigPath = *confPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dynconf",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("config_path", cfg.Server.ConfigPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, logger, level)
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		srv.Shutdown(shutdownCtx)
		cancel()
		os.Exit(1)
	}

	srv.Wait(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	logger.Info("dynconf stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://127.0.0.1:9091", "Admin listener address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(stdout, "OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "dynconf %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

// printEnvKeys 每行一个变量名，便于 grep
func printEnvKeys(w io.Writer) {
	for _, k := range config.NewLoader().EnvKeys() {
		fmt.Fprintln(w, k)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `dynconf - HTTP server with runtime configuration reload

Usage:
  dynconf <command> [options]

Commands:
  serve     Start the server
  test      Parse and validate a configuration file
  push      Submit a configuration file to a dynamic_config location
  migrate   Manage the audit journal schema (see 'dynconf migrate help')
  env       List the DYNCONF_* variables that override settings
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  -config <path>   Path to settings file (YAML)
  -c <path>        Path to directive configuration file

Examples:
  dynconf serve -config /etc/dynconf/settings.yaml
  dynconf serve -c conf/nginx.conf
  dynconf test -c conf/nginx.conf
  dynconf push -url http://127.0.0.1:8080/update-config -file conf/nginx.conf
  dynconf migrate up -config /etc/dynconf/settings.yaml
  dynconf health -addr http://127.0.0.1:9091
  dynconf version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 返回 logger 及其 AtomicLevel，error_log 指令可在运行时调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if l, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level.SetLevel(l)
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
