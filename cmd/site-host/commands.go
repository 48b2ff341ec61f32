// commands.go — команды CLI: serve (по умолчанию), reap, reconcile, stats, version.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/site-host/internal/api/handlers"
	"github.com/bigkaa/goartstore/site-host/internal/api/middleware"
	"github.com/bigkaa/goartstore/site-host/internal/config"
	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/server"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "site-host",
		Short:         "Хостинг HTML-страниц и статических сайтов по slug",
		Long:          "Site Host принимает HTML-документы и ZIP-архивы через JSON API и отдаёт их по короткому slug.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Запустить HTTP-сервер с фоновыми задачами",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "reap",
			Short: "Удалить истёкший контент и завершиться",
			RunE:  runReap,
		},
		reconcileCmd(),
		&cobra.Command{
			Use:   "stats",
			Short: "Показать статистику хранилища",
			RunE:  runStats,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Показать версию",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "site-host %s\n", config.Version)
			},
		},
	)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg, logger := a.cfg, a.logger
	logger.Info("Site Host запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.Store),
		slog.String("base_url", cfg.BaseURL),
	)

	// 1. Разбор загрузок, прерванных предыдущей остановкой
	ingest := a.ingestService()
	if _, err := ingest.RecoverPending(ctx); err != nil {
		return fmt.Errorf("ошибка восстановления журнала загрузок: %w", err)
	}
	content := a.contentService()

	// 2. Фоновые процессы
	reaper := a.reaper()
	reaper.Start(ctx)
	reconciler := a.reconciler()
	reconciler.Start(ctx)
	dephealthSvc := a.dephealth(ctx)

	// 3. Аутентификация и лимиты
	auth := middleware.NewAPIKeyAuth(cfg.APIKeys, logger)
	if !auth.Configured() {
		logger.Warn("SH_API_KEYS не задан: запись через API недоступна")
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)

	// 4. HTTP-сервер
	router := server.NewRouter(logger, server.Handlers{
		Health:      handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, a.readiness()),
		System:      handlers.NewSystemHandler(cfg),
		Content:     handlers.NewContentHandler(ingest, content, cfg, logger),
		Viewer:      handlers.NewViewerHandler(content, logger),
		Maintenance: handlers.NewMaintenanceHandler(reconciler, logger),
		Auth:        auth,
		RateLimiter: limiter,
	})
	runErr := server.New(cfg, logger, router).Run(ctx)

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	reaper.Stop()
	reconciler.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Site Host остановлен")
	return nil
}

func runReap(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.reaper().RunOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Expired found: %d\n", res.Found)
	fmt.Fprintf(out, "Deleted:       %d\n", res.Deleted)
	fmt.Fprintf(out, "Errors:        %d\n", res.Errors)
	return nil
}

func reconcileCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Сверить директории с записями и вывести отчёт",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("purge") {
				a.cfg.ReconcilePurge = purge
			}
			res, _, err := a.reconciler().RunOnce(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "удалить осиротевшие директории (переопределяет SH_RECONCILE_PURGE)")
	return cmd
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.contentService().Stats(ctx)
	if err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), stats)

	if du, err := getDiskUsage(a.cfg.DataDir); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Disk:           %s used of %s (%s available)\n",
			formatFileSize(du.Used), formatFileSize(du.Total), formatFileSize(du.Available))
	}
	return nil
}

func printStats(out io.Writer, s *model.StorageStats) {
	fmt.Fprintln(out, "Storage Statistics:")
	fmt.Fprintf(out, "Total records:  %d\n", s.TotalRecords)
	fmt.Fprintf(out, "Active:         %d\n", s.ActiveRecords)
	fmt.Fprintf(out, "Expired:        %d\n", s.ExpiredRecords)
	fmt.Fprintf(out, "Archived:       %d\n", s.Archived)
	fmt.Fprintf(out, "Permanent:      %d\n", s.Permanent)
	fmt.Fprintf(out, "Documents:      %d\n", s.Documents)
	fmt.Fprintf(out, "Bundles:        %d\n", s.Bundles)
	fmt.Fprintf(out, "Total size:     %s\n", formatFileSize(s.TotalSizeBytes))
	fmt.Fprintf(out, "Total views:    %d\n", s.TotalAccess)
}

// formatFileSize форматирует размер в двоичных единицах до GB
// с точностью до двух знаков без хвостовых нулей.
func formatFileSize(b int64) string {
	if b <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	v := float64(b)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + units[i]
}
