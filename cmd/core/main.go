package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"ashare-quote-core/internal/config"
	"ashare-quote-core/internal/core"
	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"
	"ashare-quote-core/internal/reporter"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 先用默认配置起一个临时logger，加载.env和配置文件时就有日志可看
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	c, err := core.New(cfg)
	if err != nil {
		logger.S().Fatalf("装配行情核心失败: %v", err)
	}
	if err := c.Start(); err != nil {
		logger.S().Fatalf("启动行情核心失败: %v", err)
	}

	// --- 等待退出信号 ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.S().Infof("收到信号 %v，准备停机", sig)

	c.Stop()
	reporter.WriteReport(os.Stdout, c.Stats())
}
