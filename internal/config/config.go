package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	// Remote product/order API.
	ShopAPIURL string

	// Auth/cart store backend.
	AuthURL    string
	AuthAPIKey string

	// Browser session persistence. Empty DATABASE_URL means the
	// embedded sqlite file.
	DatabaseURL    string
	SessionDBPath  string
	SessionSealKey string

	// Optional channels. Empty values disable them.
	SheetsWebAppURL string
	SheetsSheetID   string
	KafkaBrokers    []string
	ESURL           string
	ESUser          string
	ESPassword      string

	GuestCheckout bool
}

func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	cfg := &Config{
		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
		LogLevel:   getenv("LOG_LEVEL", "info"),

		ShopAPIURL: must(os.Getenv("SHOP_API_URL"), "SHOP_API_URL"),

		AuthURL:    must(os.Getenv("AUTH_URL"), "AUTH_URL"),
		AuthAPIKey: os.Getenv("AUTH_API_KEY"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SessionDBPath:  getenv("SESSION_DB_PATH", "storefront.db"),
		SessionSealKey: os.Getenv("SESSION_SEAL_KEY"),

		SheetsWebAppURL: os.Getenv("SHEETS_WEB_APP_URL"),
		SheetsSheetID:   os.Getenv("SHEETS_SHEET_ID"),
		KafkaBrokers:    csv(os.Getenv("KAFKA_BROKERS")),
		ESURL:           os.Getenv("ES_URL"),
		ESUser:          os.Getenv("ES_USER"),
		ESPassword:      os.Getenv("ES_PASSWORD"),

		GuestCheckout: getenv("GUEST_CHECKOUT", "") == "true",
	}
	return cfg
}

// SheetsConfigured reports whether the spreadsheet side-channel has
// everything it needs. Missing configuration disables the channel, it
// never fails startup.
func (c *Config) SheetsConfigured() bool {
	return c.SheetsWebAppURL != "" && c.SheetsSheetID != ""
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func must(v string, name string) string {
	if v == "" {
		log.Fatalf("missing required env %s", name)
	}
	return v
}

func csv(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
