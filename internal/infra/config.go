package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents client configuration loaded from environment
// variables, with optional overrides from a local .env file.
type Config struct {
	AppEnv          string
	APIBaseURL      string
	SessionDBPath   string
	DownloadDir     string
	PackagesPath    string
	ReturnListen    string
	PollInterval    time.Duration
	PollMaxAttempts int
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration
}

// LoadConfig loads configuration and applies defaults where needed.
func LoadConfig() (*Config, error) {
	// Best effort; missing files are fine.
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		APIBaseURL:      getEnv("OZONTRANS_API_URL", "http://localhost:8000"),
		SessionDBPath:   getEnv("OZONTRANS_SESSION_DB", defaultSessionDBPath()),
		DownloadDir:     getEnv("OZONTRANS_DOWNLOAD_DIR", defaultDownloadDir()),
		PackagesPath:    os.Getenv("OZONTRANS_PACKAGES_FILE"),
		ReturnListen:    getEnv("OZONTRANS_RETURN_LISTEN", "127.0.0.1:8343"),
		PollInterval:    time.Second * time.Duration(getEnvInt("OZONTRANS_POLL_INTERVAL_SECONDS", 3)),
		PollMaxAttempts: getEnvInt("OZONTRANS_POLL_MAX_ATTEMPTS", 200),
		RefreshInterval: time.Second * time.Duration(getEnvInt("OZONTRANS_REFRESH_INTERVAL_SECONDS", 30)),
		HTTPTimeout:     time.Second * time.Duration(getEnvInt("OZONTRANS_HTTP_TIMEOUT_SECONDS", 30)),
	}

	if !strings.HasPrefix(cfg.APIBaseURL, "http://") && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		return nil, fmt.Errorf("OZONTRANS_API_URL must be an http(s) URL, got %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("OZONTRANS_POLL_INTERVAL_SECONDS must be positive")
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("OZONTRANS_POLL_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func defaultSessionDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "ozontrans", "session.db")
}

func defaultDownloadDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "translated"
	}
	return filepath.Join(wd, "translated")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
