package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config centralise la configuration chargée depuis l'environnement.
type Config struct {
	Port          int
	DBDSN         string
	RedisURL      string
	JWTSecret     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration

	// QRHMACSecret signe la charge utile des QR codes d'attestation.
	QRHMACSecret string

	AllowOrigins    []string
	RateLimitPublic RateLimitConfig
	RateLimitAuth   RateLimitConfig

	Signature SignatureConfig
	Storage   StorageConfig
	SMTP      SMTPConfig
	Alert     AlertConfig
}

// RateLimitConfig représente des limites simples de throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SignatureConfig gouverne le protocole de signature à deux facteurs.
type SignatureConfig struct {
	SessionTTL     time.Duration
	OTPTTL         time.Duration
	MaxPinAttempts int
	LockoutWindow  time.Duration
	LockoutTTL     time.Duration
	TOTPIssuer     string
}

// StorageConfig décrit le backend de stockage des fichiers (PDF, images).
type StorageConfig struct {
	Provider    string
	LocalDir    string
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
}

// SMTPConfig paramètre l'envoi des codes OTP et des notifications.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// AlertConfig pointe vers le webhook d'alertes opérationnelles.
type AlertConfig struct {
	WebhookURL string
}

// Load charge les variables d'environnement et applique des défauts sûrs.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, errors.New("PORT invalide")
	}
	cfg.Port = port

	cfg.DBDSN = getEnv("DB_DSN", "")
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN obligatoire")
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL obligatoire")
	}

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET doit compter au moins 32 caractères")
	}

	cfg.QRHMACSecret = strings.TrimSpace(getEnv("QR_HMAC_SECRET", ""))
	if len(cfg.QRHMACSecret) < 32 {
		return nil, errors.New("QR_HMAC_SECRET doit compter au moins 32 caractères")
	}

	accessTTL, err := parseDurationEnv("JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.JWTAccessTTL = accessTTL

	refreshTTL, err := parseDurationEnv("JWT_REFRESH_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.JWTRefreshTTL = refreshTTL

	for _, origin := range strings.Split(getEnv("ALLOW_ORIGINS", ""), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	cfg.RateLimitPublic = RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
	cfg.RateLimitAuth = RateLimitConfig{RequestsPerSecond: 10, Burst: 40}

	sessionTTL, err := parseDurationEnv("SIGNATURE_SESSION_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	otpTTL, err := parseDurationEnv("SIGNATURE_OTP_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	lockoutWindow, err := parseDurationEnv("SIGNATURE_LOCKOUT_WINDOW", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	lockoutTTL, err := parseDurationEnv("SIGNATURE_LOCKOUT_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := strconv.Atoi(getEnv("SIGNATURE_MAX_PIN_ATTEMPTS", "4"))
	if err != nil || maxAttempts <= 0 {
		return nil, errors.New("SIGNATURE_MAX_PIN_ATTEMPTS invalide")
	}
	cfg.Signature = SignatureConfig{
		SessionTTL:     sessionTTL,
		OTPTTL:         otpTTL,
		MaxPinAttempts: maxAttempts,
		LockoutWindow:  lockoutWindow,
		LockoutTTL:     lockoutTTL,
		TOTPIssuer:     getEnv("TOTP_ISSUER", "Agence du Service Civique"),
	}

	cfg.Storage = StorageConfig{
		Provider:    getEnv("STORAGE_PROVIDER", "local"),
		LocalDir:    getEnv("STORAGE_LOCAL_DIR", "./data/fichiers"),
		S3Endpoint:  getEnv("STORAGE_S3_ENDPOINT", ""),
		S3Region:    getEnv("STORAGE_S3_REGION", "auto"),
		S3Bucket:    getEnv("STORAGE_S3_BUCKET", ""),
		S3AccessKey: getEnv("STORAGE_S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("STORAGE_S3_SECRET_KEY", ""),
		S3PublicURL: getEnv("STORAGE_S3_PUBLIC_URL", ""),
	}

	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil || smtpPort <= 0 {
		return nil, errors.New("SMTP_PORT invalide")
	}
	cfg.SMTP = SMTPConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     smtpPort,
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("SMTP_FROM", "noreply@servicecivique.ne"),
	}

	cfg.Alert = AlertConfig{WebhookURL: getEnv("ALERT_WEBHOOK_URL", "")}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.New(key + " invalide")
	}
	return dur, nil
}
