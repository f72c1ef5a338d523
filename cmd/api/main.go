package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/servicecivique/attestation/internal/attestation"
	"github.com/servicecivique/attestation/internal/audit"
	"github.com/servicecivique/attestation/internal/auth"
	"github.com/servicecivique/attestation/internal/config"
	"github.com/servicecivique/attestation/internal/db"
	"github.com/servicecivique/attestation/internal/demande"
	internalhttp "github.com/servicecivique/attestation/internal/http"
	"github.com/servicecivique/attestation/internal/notify"
	"github.com/servicecivique/attestation/internal/pdf"
	"github.com/servicecivique/attestation/internal/signature"
	"github.com/servicecivique/attestation/internal/storage"
	"github.com/servicecivique/attestation/internal/utilisateur"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api arrêtée en erreur")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	blobs, err := newStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	var alerte audit.Notifier
	if cfg.Alert.WebhookURL != "" {
		alerte = audit.NewWebhookNotifier(cfg.Alert.WebhookURL)
	}
	auditRepo := audit.NewRepository(pool)
	auditSvc := audit.NewService(auditRepo, log.Logger, alerte)

	var dispatcher notify.Dispatcher = notify.NoopDispatcher{}
	if cfg.SMTP.Host != "" {
		smtpDispatcher, err := notify.NewSMTPDispatcher(cfg.SMTP)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		dispatcher = smtpDispatcher
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	comptesRepo := utilisateur.NewRepository(pool)
	comptes := utilisateur.NewService(comptesRepo, jwtManager, cfg.JWTRefreshTTL)

	demandes := demande.NewService(demande.NewRepository(pool), auditSvc, dispatcher)

	modeles := pdf.NewRepository(pool)
	engine := pdf.NewEngine(blobs)
	attestations := attestation.NewService(
		attestation.NewRepository(pool),
		demande.NewRepository(pool),
		modeles,
		engine,
		blobs,
		[]byte(cfg.QRHMACSecret),
		auditSvc,
		dispatcher,
	)

	signatures := signature.NewService(
		signature.NewRedisStore(redisClient),
		comptesRepo,
		attestations,
		dispatcher,
		cfg.Signature,
	)

	handler := internalhttp.NewRouter(cfg, internalhttp.Services{
		Comptes:      comptes,
		Demandes:     demandes,
		Attestations: attestations,
		Signatures:   signatures,
		Modeles:      modeles,
		Blobs:        blobs,
		Audit:        auditSvc,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API à l'écoute sur :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("arrêt en cours...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "none":
		return storage.NoopStore{}, nil
	case "local":
		return storage.NewLocalStore(cfg.LocalDir)
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			PublicDomain: cfg.S3PublicURL,
		})
	default:
		return nil, fmt.Errorf("provider de stockage inconnu: %q", cfg.Provider)
	}
}
