package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"chronos/internal/chronos"
	chcfg "chronos/internal/config"
	"chronos/internal/logger"
	"chronos/internal/questrade"
	"chronos/internal/ratelimit"
	"chronos/internal/store"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化客户端与缓存→批量同步行情。
type App struct {
	cfg     *chcfg.Config
	client  *questrade.Client
	symbols *store.SymbolStore
	candles *store.CandleStore
	engine  *chronos.Engine
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *chcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	client, err := questrade.NewClient(questrade.Options{
		RefreshToken:     cfg.Auth.RefreshToken,
		TokenPath:        cfg.Auth.TokenPath,
		LoginURL:         cfg.Auth.LoginURL,
		MaxRetries:       cfg.Client.MaxRetries,
		EnforceRateLimit: cfg.Client.EnforceRateLimit,
		Timeout:          cfg.Client.Timeout(),
		Limiter:          ratelimit.NewLimiter(),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 API 客户端失败: %w", err)
	}

	codec := store.DefaultTimeCodec()
	if err := ensureDir(cfg.Cache.SymbolsPath); err != nil {
		return nil, err
	}
	if err := ensureDir(cfg.Cache.CandlesPath); err != nil {
		return nil, err
	}
	symbols, err := store.NewSymbolStore(cfg.Cache.SymbolsPath, codec)
	if err != nil {
		return nil, fmt.Errorf("打开符号缓存失败: %w", err)
	}
	candles, err := store.NewCandleStore(cfg.Cache.CandlesPath, codec)
	if err != nil {
		symbols.Close()
		return nil, fmt.Errorf("打开行情缓存失败: %w", err)
	}

	engine, err := chronos.NewEngine(chronos.Options{
		API:       client,
		Symbols:   symbols,
		Candles:   candles,
		Staleness: cfg.Cache.StalenessThreshold(),
	})
	if err != nil {
		symbols.Close()
		candles.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		client:  client,
		symbols: symbols,
		candles: candles,
		engine:  engine,
	}, nil
}

// Engine exposes the sync engine (for testing/replay harnesses).
func (a *App) Engine() *chronos.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run 对配置的符号列表做一轮同步后退出。所有 goroutine 共享同一个客户端，
// 因此也共享同一份限流窗口。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	symbols := a.cfg.Sync.Symbols
	if len(symbols) == 0 {
		logger.Warnf("sync.symbols 为空，无事可做")
		return nil
	}
	interval := questrade.Interval(a.cfg.Sync.Interval)

	group, ctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		group.Go(func() error {
			rows, report, err := a.engine.Candles(ctx, chronos.CandleRequest{
				Symbol:   sym,
				Interval: interval,
				Days:     a.cfg.Sync.Days,
			})
			if err != nil {
				return fmt.Errorf("同步 %s 失败: %w", sym, err)
			}
			logger.Infof("✓ %s@%s 同步完成（state=%s fetched=%d cached=%d job=%s）",
				sym, interval, report.State, report.Fetched, len(rows), report.JobID)
			return nil
		})
	}
	return group.Wait()
}

// Close 释放两份缓存句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.symbols != nil {
		a.symbols.Close()
	}
	if a.candles != nil {
		a.candles.Close()
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
