package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kkers42/PLM-Lite/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "plm",
		Short:         "PLM Lite - parts, BOMs and CAD documents",
		Long:          "PLM Lite keeps a part registry, multi-level BOMs, versioned CAD documents and an audit trail in one embedded store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file (default ./configs/config.yaml or ./config.yaml)")
	cmd.PersistentFlags().StringVar(&a.actorRef, "as", os.Getenv("PLM_USER"), "username or id of the acting user (env PLM_USER)")
	cmd.PersistentFlags().BoolVar(&a.showAudit, "show-audit", false, "print the audit entries the command records to stderr")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newSeedCmd(a))
	cmd.AddCommand(newPartCmd(a))
	cmd.AddCommand(newBOMCmd(a))
	cmd.AddCommand(newDocCmd(a))
	cmd.AddCommand(newUserCmd(a))
	cmd.AddCommand(newRoleCmd(a))
	cmd.AddCommand(newAuditCmd(a))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plm %s (built: %s)\n", Version, BuildTime)
		},
	}
}

func execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return exitCode(err)
	}
	return 0
}

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}
	os.Exit(execute(newRootCmd()))
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	// stdout carries command output
	zapCfg.OutputPaths = []string{"stderr"}

	return zapCfg.Build()
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
