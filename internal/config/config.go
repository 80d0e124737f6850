package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr    string
	DataDir string
	// RedisURL enables the shared remote store; empty means self-hosted
	// file-only mode.
	RedisURL      string
	SessionSecret string
	AdminSecret   string
	SessionTTL    time.Duration
	CORSOrigin    string

	// Multi-tenancy and trust flags.
	MultiTenantWallet bool
	TrustedIPs        []string
	RelaxRemoteAdmin  bool
	ForceOwnerWrites  bool

	// Broadcast behavior.
	PrivateEvents      []string
	RelayPrivateEvents bool

	// Mirror write coalescing.
	MirrorWindow   time.Duration
	MirrorCapacity int
}

func Load() Config {
	return Config{
		Addr:          getenv("OVERLAY_ADDR", ":8788"),
		DataDir:       getenv("OVERLAY_DATA_DIR", "./data"),
		RedisURL:      getenv("REDIS_URL", ""),
		SessionSecret: getenv("OVERLAY_SESSION_SECRET", "overlay-dev-secret"),
		AdminSecret:   getenv("OVERLAY_ADMIN_SECRET", ""),
		SessionTTL:    time.Duration(getenvInt("OVERLAY_SESSION_TTL_SECONDS", 86400)) * time.Second,
		CORSOrigin:    getenv("OVERLAY_CORS_ORIGIN", "*"),

		MultiTenantWallet: getenvBool("OVERLAY_MULTI_TENANT_WALLET", false),
		TrustedIPs:        getenvList("OVERLAY_TRUSTED_IPS"),
		RelaxRemoteAdmin:  getenvBool("OVERLAY_RELAX_REMOTE_ADMIN", false),
		ForceOwnerWrites:  getenvBool("OVERLAY_FORCE_OWNER_WRITES", false),

		PrivateEvents:      getenvListDefault("OVERLAY_PRIVATE_EVENTS", []string{"raffleWinner"}),
		RelayPrivateEvents: getenvBool("OVERLAY_RELAY_PRIVATE_EVENTS", false),

		MirrorWindow:   time.Duration(getenvInt("OVERLAY_MIRROR_WINDOW_MS", 250)) * time.Millisecond,
		MirrorCapacity: getenvInt("OVERLAY_MIRROR_CAPACITY", 256),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	return getenvListDefault(key, nil)
}

func getenvListDefault(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
