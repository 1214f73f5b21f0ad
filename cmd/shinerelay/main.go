package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/siohaza/shinerelay/internal/server"
	"github.com/siohaza/shinerelay/pkg/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configPath string
	logLevel   string
	noConsole  bool
	version    = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "shinerelay",
	Short: "Shinerelay - Super Mario Odyssey online relay server",
	Long: `Shinerelay relays player state between Super Mario Odyssey online clients,
with ban lists, scenario merging and a persistent shine bag.`,
	Version: version,
	Run:     runServer,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay server",
	Long:  "Start the relay server with the specified configuration",
	Run:   runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Shinerelay v%s\n", version)
		fmt.Println("Super Mario Odyssey online relay server")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.toml", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noConsole, "no-console", false, "do not read admin commands from stdin")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(cfg *config.Config, level zapcore.Level) *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stdout), level),
	}

	if cfg.Server.LogToFile {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    cfg.Server.LogMaxSize,
			MaxBackups: cfg.Server.LogMaxBackups,
			MaxAge:     cfg.Server.LogMaxAge,
		}
		fileEncoder := zap.NewProductionEncoderConfig()
		fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...))
}

func runServer(cmd *cobra.Command, args []string) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", logLevel)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, level)
	defer logger.Sync()

	logger.Info("starting shinerelay server", zap.String("version", version))

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server running",
		zap.String("name", cfg.Server.Name),
		zap.String("address", cfg.ListenAddress()),
		zap.Int("max_players", cfg.Server.MaxPlayers),
	)

	if !noConsole {
		go runConsole(srv)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("shutting down server")

	srv.Stop()
	logger.Info("server stopped successfully")
}

func runConsole(srv *server.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		for _, line := range srv.ExecuteCommand(scanner.Text()) {
			fmt.Println(line)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
