package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pointrush/pointrush-api/internal/config"
	"github.com/pointrush/pointrush-api/internal/domain/account"
	"github.com/pointrush/pointrush-api/internal/domain/lead"
	"github.com/pointrush/pointrush-api/internal/domain/ledger"
	"github.com/pointrush/pointrush-api/internal/domain/postback"
	"github.com/pointrush/pointrush-api/internal/domain/withdrawal"
	"github.com/pointrush/pointrush-api/internal/middleware"
	"github.com/pointrush/pointrush-api/internal/pkg/database"
	"github.com/pointrush/pointrush-api/internal/pkg/jwt"
	"github.com/pointrush/pointrush-api/internal/pkg/offerfeed"
	"github.com/pointrush/pointrush-api/internal/pkg/response"
	"github.com/pointrush/pointrush-api/internal/pkg/telegram"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting PointRush API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret)

	// ---------- Repositories ----------
	accountRepo := account.NewRepository(db)
	leadRepo := lead.NewRepository(db)

	// ---------- External clients ----------
	var feed ledger.CompletionSource
	if cfg.OfferCheckURL != "" {
		feed = &feedSourceAdapter{client: offerfeed.NewClient(offerfeed.Config{
			CheckURL:  cfg.OfferCheckURL,
			AccountID: cfg.OfferFeedUser,
			APIKey:    cfg.OfferFeedKey,
			Testing:   cfg.OfferFeedTest,
			Timeout:   cfg.FeedTimeout,
		})}
	} else {
		log.Warn().Msg("offer feed not configured, sync runs degraded")
	}

	telegramClient := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, 10*time.Second)
	if !telegramClient.IsConfigured() {
		log.Warn().Msg("telegram not configured, withdrawals will fail delivery")
	}

	// ---------- Services ----------
	engine := ledger.NewService(db, accountRepo, leadRepo, feed, cfg.LeadCheckWindow)
	withdrawalService := withdrawal.NewService(accountRepo, &telegramNotifierAdapter{client: telegramClient}, nil)

	// ---------- Postback normalizers ----------
	ogads := postback.NewOGAds(postback.Network{
		Name:             "ogads",
		Key:              cfg.OGAdsPostbackKey,
		MatchNewestFirst: true,
	})
	adblue := postback.NewAdBlue(postback.Network{
		Name: "adblue",
		Key:  cfg.AdBluePostbackKey,
	})
	taprain := postback.NewTapRain(postback.Network{
		Name:             "taprain",
		Key:              cfg.TapRainPostbackKey,
		MatchNewestFirst: true,
	})
	bitlabs := postback.NewBitLabs(postback.Network{
		Name:             "bitlabs",
		HMACSecret:       cfg.BitLabsServerKey,
		MatchNewestFirst: true,
	})

	// ---------- Handlers ----------
	ledgerHandler := ledger.NewHandler(engine)
	postbackHandler := postback.NewHandler(engine, ogads, adblue, taprain, bitlabs)
	withdrawalHandler := withdrawal.NewHandler(withdrawalService)

	authMiddleware := middleware.Auth(jwtService)
	rateLimitMiddleware := middleware.RateLimit(redis, cfg.RateLimitRequests, cfg.RateLimitWindow)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", ledgerHandler.Routes(authMiddleware))
		r.Mount("/withdrawals", withdrawalHandler.Routes(authMiddleware, rateLimitMiddleware))
	})

	r.Mount("/postbacks", postbackHandler.Routes(rateLimitMiddleware))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}

// Adapter implementations to bridge interface mismatches

// feedSourceAdapter adapts offerfeed.Client to ledger.CompletionSource
type feedSourceAdapter struct {
	client *offerfeed.Client
}

func (a *feedSourceAdapter) Completions(ctx context.Context, userID uuid.UUID) ([]ledger.Completion, error) {
	items, err := a.client.Completions(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Completion, 0, len(items))
	for _, it := range items {
		out = append(out, ledger.Completion{
			ExternalID: it.ExternalID,
			OfferID:    it.OfferID,
			Points:     it.Points,
		})
	}
	return out, nil
}

// telegramNotifierAdapter adapts telegram.Client to withdrawal.Notifier
type telegramNotifierAdapter struct {
	client *telegram.Client
}

func (a *telegramNotifierAdapter) Notify(ctx context.Context, text string) error {
	return a.client.SendMessage(ctx, text)
}
