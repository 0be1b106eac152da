package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fjcloud/yt-feed/internal/aggregate"
	"github.com/fjcloud/yt-feed/internal/cache"
	"github.com/fjcloud/yt-feed/internal/config"
	"github.com/fjcloud/yt-feed/internal/database"
	"github.com/fjcloud/yt-feed/internal/feedparse"
	"github.com/fjcloud/yt-feed/internal/gateway"
	"github.com/fjcloud/yt-feed/internal/logger"
	"github.com/fjcloud/yt-feed/internal/metrics"
	"github.com/fjcloud/yt-feed/internal/ratelimit"
	"github.com/fjcloud/yt-feed/internal/repository"
	"github.com/fjcloud/yt-feed/internal/upstream"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// wが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) *config.Config {
	// ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	return config.Load()
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。stdoutはクライアントモードの表示出力先。
func Run(stdout io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg := Init(os.Stderr)

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandRefresh:
		return runRefresh(cfg, stdout, rest)
	case CommandFollow:
		return runFollow(cfg, stdout, rest)
	case CommandUnfollow:
		return runUnfollow(cfg, stdout, rest)
	case CommandWatch:
		return runWatch(cfg, stdout, rest)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はゲートウェイサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	if len(cfg.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS is required for serve mode")
	}

	// 1. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 2. レート制限の初期化
	store := ratelimit.NewMemoryStore(cfg.RateLimitWindow)
	defer store.Stop()
	limiter := ratelimit.New(store, cfg.RateLimitCap, cfg.RateLimitWindow, slog.Default())

	// 3. アップストリームクライアントの初期化（SSRF保護付き）
	httpClient := upstream.NewSafeHTTPClient(cfg.UpstreamTimeout)
	client := upstream.NewClient(httpClient, cfg.UpstreamMaxBody, slog.Default())

	// 4. ゲートウェイハンドラーとルーターの構築
	responseCache := cache.NewResponseCache(cfg.FeedCacheTTL, cfg.SearchCacheTTL)
	handler := gateway.NewHandler(
		client, responseCache,
		cfg.UpstreamFeedURL, cfg.UpstreamSearchURL,
		collector, slog.Default(),
	)

	router := gateway.NewRouter(&gateway.RouterDeps{
		Handler:        handler,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		IdentityHeader: cfg.ClientIPHeader,
		FallbackID:     cfg.RateLimitFallbackID,
		Metrics:        collector,
		Logger:         slog.Default(),
	})

	// 5. メトリクスサーバーの起動（ポート指定時のみ）
	if cfg.MetricsPort != "" {
		go func() {
			addr := ":" + cfg.MetricsPort
			slog.Info("metrics server starting", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, metrics.SetupMetricsRoute(reg)); err != nil {
				slog.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("gateway server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down gateway server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("gateway server stopped gracefully")
	return nil
}

// openClientStore はクライアントモード用のローカルストアを開く。
// 初回実行でも使えるようマイグレーションを適用してから接続する。
func openClientStore(cfg *config.Config) (*sql.DB, error) {
	if err := database.RunMigrations(cfg.DataPath); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	db, err := database.Open(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// newClient はクライアントモードの依存関係をワイヤリングする。
func newClient(cfg *config.Config, db *sql.DB) *Client {
	httpClient := upstream.NewSafeHTTPClient(cfg.UpstreamTimeout)
	client := upstream.NewClient(httpClient, cfg.UpstreamMaxBody, slog.Default())
	rotator := upstream.NewRotator(cfg.ProxyRelays, client, slog.Default())
	feedSource := upstream.NewFeedSource(rotator, cfg.UpstreamFeedURL)

	feedCache := cache.NewFeedCache(cfg.ClientCacheTTL)
	aggregator := aggregate.New(
		feedSource,
		feedparse.NewParser(slog.Default()),
		feedCache,
		aggregate.Options{
			MaxConcurrent:   cfg.RefreshMaxConcurrent,
			UpstreamRate:    cfg.UpstreamRate,
			FilterShortForm: cfg.FilterShortForm,
		},
		slog.Default(),
	)

	return NewClient(
		repository.NewSqliteFollowRepo(db),
		repository.NewSqliteWatchedRepo(db),
		aggregator,
		feedCache,
	)
}

// runRefresh はフォロー中チャンネルのフィードを1回集約し、標準出力へ表示する。
// チャンネル単位の失敗は警告として表示し、終了コードには影響しない。
func runRefresh(cfg *config.Config, stdout io.Writer, args []string) error {
	db, err := openClientStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	force := len(args) > 0 && args[0] == "--force"

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := newClient(cfg, db).Refresh(ctx, force)
	if err != nil {
		return err
	}

	printFeed(stdout, result)
	return nil
}

// printFeed は集約結果を1動画2行の形式で表示する。
func printFeed(w io.Writer, result *RefreshResult) {
	fmt.Fprintf(w, "最終更新: %s\n", result.Feed.RefreshedAt.Local().Format("2006-01-02 15:04:05"))

	for _, e := range result.ChannelErrors {
		fmt.Fprintf(w, "警告: チャンネル %s の取得に失敗しました (%s)\n", e.ChannelID, e.Message)
	}

	if len(result.Feed.Videos) == 0 {
		fmt.Fprintln(w, "表示できる動画がありません。")
		return
	}

	for _, v := range result.Feed.Videos {
		mark := " "
		if result.Watched[v.VideoID] {
			mark = "✔"
		}
		published := "---------- --:--"
		if !v.PublishedAt.IsZero() {
			published = v.PublishedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s %s  %s / %s\n", mark, published, v.ChannelTitle, v.Title)
		fmt.Fprintf(w, "    %s\n", v.WatchURL)
	}
}

// runFollow はチャンネルをフォロー一覧に追加する。
func runFollow(cfg *config.Config, stdout io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: follow <channelId> [displayName]")
	}
	channelID := args[0]
	displayName := ""
	if len(args) > 1 {
		displayName = args[1]
	}

	db, err := openClientStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := newClient(cfg, db).Follow(context.Background(), channelID, displayName); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "フォローしました: %s\n", channelID)
	return nil
}

// runUnfollow はチャンネルをフォロー一覧から削除する。
func runUnfollow(cfg *config.Config, stdout io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: unfollow <channelId>")
	}
	channelID := args[0]

	db, err := openClientStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := newClient(cfg, db).Unfollow(context.Background(), channelID); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "フォローを解除しました: %s\n", channelID)
	return nil
}

// runWatch は動画を視聴済みとして記録する。
func runWatch(cfg *config.Config, stdout io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: watch <videoId>")
	}
	videoID := args[0]

	db, err := openClientStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := newClient(cfg, db).Watch(context.Background(), videoID); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "視聴済みにしました: %s\n", videoID)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("data_path", cfg.DataPath),
	)

	if err := database.RunMigrations(cfg.DataPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
