// Keystone CLI — операции Orchestration Hub из командной строки.
//
// Использование:
//
//	keystone [--json] <command> [subcommand] [flags]
//
// Команды:
//
//	analyze    Анализ ограничений тенанта
//	recommend  Стратегические рекомендации
//	focus      Одна главная рекомендация
//	auto       Разовая auto-orchestration
//	metrics    Метрики оркестрации
//	workflow   Управление workflow executions
//	event      Публикация событий модулей
//	health     Здоровье компонентов
//
// Конфигурация читается из тех же переменных окружения, что и keystone-hub.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Keystone/internal/bootstrap"
	"github.com/shaiso/Keystone/internal/cli"
	"github.com/shaiso/Keystone/internal/config"
	"github.com/shaiso/Keystone/internal/mq"
	"github.com/shaiso/Keystone/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "keystone",
		Short:         "Keystone CLI — receivables orchestration hub",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log component activity to stderr")

	// Ресурсы создаются лениво и живут до конца процесса.
	var (
		hub       *bootstrap.Hub
		publisher *mq.Publisher
		closers   []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	logger := func() *slog.Logger {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		return telemetry.NewLogger(os.Stderr, level, "text")
	}

	hubFn := func(ctx context.Context) (cli.Hub, error) {
		if hub != nil {
			return hub.Facade, nil
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		h, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Logger: logger()})
		if err != nil {
			return nil, err
		}
		hub = h
		closers = append(closers, h.Close)
		return h.Facade, nil
	}

	brokerFn := func(ctx context.Context) (cli.Broker, error) {
		if publisher != nil {
			return publisher, nil
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		l := logger()
		conn, err := mq.NewConnection(cfg.RabbitMQURL, l)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })

		if err := mq.SetupTopology(ctx, conn); err != nil {
			return nil, err
		}
		publisher = mq.NewPublisher(conn, l)
		return publisher, nil
	}

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewAnalyzeCmd(hubFn, outputFn),
		cli.NewRecommendCmd(hubFn, outputFn),
		cli.NewFocusCmd(hubFn, outputFn),
		cli.NewAutoCmd(hubFn, outputFn),
		cli.NewMetricsCmd(hubFn, outputFn),
		cli.NewWorkflowCmd(hubFn, brokerFn, outputFn),
		cli.NewEventCmd(brokerFn, outputFn),
		cli.NewHealthCmd(hubFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		os.Exit(1)
	}
}
