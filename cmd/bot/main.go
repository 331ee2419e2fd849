package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/subosito/gotenv"

	"github.com/jmoran/plazabot/internal/booking"
	botpkg "github.com/jmoran/plazabot/internal/bot"
	"github.com/jmoran/plazabot/internal/config"
	"github.com/jmoran/plazabot/internal/dialog"
	"github.com/jmoran/plazabot/internal/domain/audit"
	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/domain/spots"
	"github.com/jmoran/plazabot/internal/domain/users"
	"github.com/jmoran/plazabot/internal/infra/db"
	httpx "github.com/jmoran/plazabot/internal/infra/http"
	"github.com/jmoran/plazabot/internal/infra/logger"
	"github.com/jmoran/plazabot/internal/lottery"
	"github.com/jmoran/plazabot/internal/report"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("config/example.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		log.Error("bad timezone", "tz", cfg.App.Timezone, "err", err)
		return
	}

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	slotRepo := slots.NewRepo(pool)
	reqRepo := requests.NewRepo(pool)
	spotRepo := spots.NewRepo(pool)
	userRepo := users.NewRepo(pool)
	auditRepo := audit.NewRepo(pool)
	stateRepo := dialog.NewRepo(pool)

	engines := map[slots.Pool]*lottery.Engine{
		slots.PoolParking: lottery.NewEngine(slots.PoolParking, slotRepo, reqRepo, log, cfg.Lottery.MonthlyCap),
		slots.PoolEV:      lottery.NewEngine(slots.PoolEV, slotRepo, reqRepo, log, cfg.Lottery.MonthlyCap),
	}
	directs := map[slots.Pool]*lottery.Direct{
		slots.PoolParking: lottery.NewDirect(slots.PoolParking, slotRepo, reqRepo, log, loc, cfg.Lottery.CutoffHour),
		slots.PoolEV:      lottery.NewDirect(slots.PoolEV, slotRepo, reqRepo, log, loc, cfg.Lottery.CutoffHour),
	}
	svc := booking.NewService(slotRepo, reqRepo, spotRepo, directs, log, loc, cfg.Lottery.CutoffHour)
	reportBuilder := report.NewBuilder(slotRepo, userRepo)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Error("telegram init failed", "err", err)
		return
	}
	log.Info("telegram bot authorized", "user", api.Self.UserName)

	b := botpkg.New(api, log, userRepo, stateRepo, svc, engines, auditRepo, reportBuilder, cfg.Telegram.AdminChatID, loc, cfg.Lottery.CutoffHour)

	trigger := lottery.NewTrigger(engines, auditRepo, log, loc, cfg.Lottery.CutoffHour)
	go func() {
		if err := trigger.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("trigger stopped", "err", err)
		}
	}()

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	go func() {
		if err := b.Run(ctx, 30); err != nil && ctx.Err() == nil {
			log.Error("bot stopped", "err", err)
		}
	}()
	log.Info("bot started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
