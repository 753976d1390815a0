package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Duration — time.Duration, читаемая из JSON как строка вида "90s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config — конфигурация процесса, читается из переменных окружения
type Config struct {
	Port              string
	RedisURL          string
	DatabasePath      string
	RoomsDir          string
	BadgeSeed         string
	DisconnectGrace   time.Duration
	ReconnectInterval time.Duration
	AuditMaxAge       time.Duration
	FilmstripMaxBytes int
	FilmstripSize     int
	FilmstripFrames   int
}

// Load читает конфигурацию из окружения, подставляя значения по умолчанию
func Load() (*Config, error) {
	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		RedisURL:          envOr("REDIS_URL", "redis://localhost:6379"),
		DatabasePath:      envOr("DATABASE_PATH", "banya.db"),
		RoomsDir:          envOr("ROOMS_DIR", "configuration/rooms"),
		BadgeSeed:         os.Getenv("BADGE_SEED"),
		DisconnectGrace:   30 * time.Second,
		ReconnectInterval: 3 * time.Second,
		AuditMaxAge:       30 * 24 * time.Hour,
		FilmstripMaxBytes: 64 * 1024,
		FilmstripSize:     64,
		FilmstripFrames:   8,
	}

	var err error
	if cfg.DisconnectGrace, err = envDuration("DISCONNECT_GRACE", cfg.DisconnectGrace); err != nil {
		return nil, err
	}
	if cfg.ReconnectInterval, err = envDuration("RECONNECT_INTERVAL", cfg.ReconnectInterval); err != nil {
		return nil, err
	}
	if cfg.AuditMaxAge, err = envDuration("AUDIT_MAX_AGE", cfg.AuditMaxAge); err != nil {
		return nil, err
	}
	if cfg.FilmstripMaxBytes, err = envInt("FILMSTRIP_MAX_BYTES", cfg.FilmstripMaxBytes); err != nil {
		return nil, err
	}
	if cfg.FilmstripSize, err = envInt("FILMSTRIP_SIZE", cfg.FilmstripSize); err != nil {
		return nil, err
	}
	if cfg.FilmstripFrames, err = envInt("FILMSTRIP_FRAMES", cfg.FilmstripFrames); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RoomConfig — конфигурация одной комнаты, читается один раз при старте
type RoomConfig struct {
	RoomID           string          `json:"roomID"`
	HumanName        string          `json:"humanName"`
	Architecture     json.RawMessage `json:"architecture"`
	ArchitectureName string          `json:"architectureName"`
	MaxPeople        int             `json:"maxPeople"`
	Expire           Duration        `json:"expire"`
	AttributeLimit   int             `json:"attributeLimit"`
	Links            json.RawMessage `json:"links"`
}

// LoadRooms читает все файлы комнат (*.json, *.jsonc) из каталога
func LoadRooms(dir string) ([]RoomConfig, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rooms dir: %w", err)
	}

	var configs []RoomConfig
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := filepath.Ext(file.Name())
		if ext != ".json" && ext != ".jsonc" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}

		var rc RoomConfig
		if err := json.Unmarshal(jsonc.ToJSON(data), &rc); err != nil {
			return nil, fmt.Errorf("room config %s: %w", file.Name(), err)
		}
		if rc.RoomID == "" {
			return nil, fmt.Errorf("room config %s: roomID is required", file.Name())
		}
		configs = append(configs, rc)
	}
	return configs, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
