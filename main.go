package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/malwarebo/cashback/app"
	"github.com/malwarebo/cashback/config"
	"github.com/malwarebo/cashback/utils"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printBanner() {
	fmt.Printf("%s%s", colorCyan, colorBold)
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║  💊 Cashback Receipt Verification                            ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Scan, verify and reward pharmacy receipts                   ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("%s", colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%sℹ%s %s\n", colorCyan, colorReset, message)
}

func printSetting(name, value string) {
	fmt.Printf("%s%s%s:%s %s%s%s\n", colorPurple, colorBold, name, colorReset, colorYellow, value, colorReset)
}

func main() {
	printBanner()
	fmt.Println()

	printStep("1/4", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	utils.ConfigureLogging(os.Stdout, cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat)
	printSuccess("Configuration loaded successfully")

	printStep("2/4", "Validating configuration...")
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Configuration validation failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Configuration validation passed")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("3/4", "Wiring database, registry and verification queue...")
	application, err := app.Build(ctx, cfg)
	if err != nil {
		printError(fmt.Sprintf("Failed to start: %v", err))
		os.Exit(1)
	}
	defer application.Close()

	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))
	if application.Redis != nil {
		printSuccess(fmt.Sprintf("Connected to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))
	} else if cfg.Redis.Enabled {
		printWarning("Redis unavailable, tokens and tenants are served from PostgreSQL")
	}
	if cfg.Kafka.Enabled {
		printSuccess(fmt.Sprintf("Publishing events to Kafka topic %s", cfg.Kafka.Topic))
	}
	printInfo(fmt.Sprintf("  • Registry: %s", cfg.Registry.BaseURL))
	printInfo(fmt.Sprintf("  • Drain: every %s, %d workers", cfg.Queue.DrainInterval, cfg.Queue.Workers))

	printStep("4/4", "Starting HTTP server...")
	fmt.Println()
	fmt.Printf("%s%s🎉 Cashback is ready!%s\n", colorGreen, colorBold, colorReset)
	fmt.Println()
	fmt.Printf("%s%sAPI Endpoints:%s\n", colorPurple, colorBold, colorReset)
	fmt.Printf("  %s•%s Health Check: %shttp://localhost:%s/health%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Metrics:      %shttp://localhost:%s/metrics%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Scan:         %shttp://localhost:%s/api/v1/receipts/scan%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Admin:        %shttp://localhost:%s/api/v1/admin%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Println()
	printSetting("Environment", cfg.Environment)
	printSetting("Server Port", cfg.Server.Port)
	printSetting("Timezone", cfg.Queue.Timezone)
	fmt.Println()
	fmt.Printf("%s%sPress Ctrl+C to stop the server%s\n", colorYellow, colorBold, colorReset)
	fmt.Println()

	if err := application.Run(ctx); err != nil {
		printError(fmt.Sprintf("Server stopped with error: %v", err))
		application.Close()
		os.Exit(1)
	}

	fmt.Println()
	printSuccess("Cashback server stopped gracefully")
}
