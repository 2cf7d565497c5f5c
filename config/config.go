package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config ist die Hauptkonfiguration des Face-Stores
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Store  StoreConfig  `mapstructure:"store"`
	Codec  CodecConfig  `mapstructure:"codec"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	Timezone string `mapstructure:"timezone"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite-Datei
}

// StoreConfig parametrisiert den Identity-Store
type StoreConfig struct {
	// Dimension der Embeddings. 0 = wird durch den ersten gespeicherten Datensatz festgelegt.
	Dimension  int     `mapstructure:"dimension"`
	Threshold  float64 `mapstructure:"threshold"`
	ImageDir   string  `mapstructure:"image_dir"`
	SaveImages bool    `mapstructure:"save_images"`

	// Aufräumen verwaister Bilddateien, Angaben in Minuten. 0 = deaktiviert.
	CleanupInterval int `mapstructure:"cleanup_interval"`
	CleanupMinAge   int `mapstructure:"cleanup_min_age"`
}

// CodecConfig enthält Einstellungen für den externen Embedding-Dienst
type CodecConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Provider           string  `mapstructure:"provider"` // insightface oder compreface
	URL                string  `mapstructure:"url"`
	APIKey             string  `mapstructure:"api_key"` // nur CompreFace (Detection-Service)
	Timeout            int     `mapstructure:"timeout"` // Sekunden
	DetectionThreshold float64 `mapstructure:"detection_threshold"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`

	// Home Assistant MQTT Discovery
	HomeAssistant   bool   `mapstructure:"homeassistant"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration, z.B. FACESTORE_STORE_THRESHOLD
	v.SetEnvPrefix("FACESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return &cfg, nil
}

// Validate prüft Wertebereiche, die später nicht mehr sinnvoll abgefangen werden können
func (c *Config) Validate() error {
	if c.Store.Dimension < 0 {
		return fmt.Errorf("store.dimension must not be negative, got %d", c.Store.Dimension)
	}
	if c.Store.Threshold < 0 || c.Store.Threshold > 1 {
		return fmt.Errorf("store.threshold must be within [0, 1], got %v", c.Store.Threshold)
	}
	if c.Store.CleanupInterval < 0 || c.Store.CleanupMinAge < 0 {
		return fmt.Errorf("store.cleanup_interval and store.cleanup_min_age must not be negative")
	}
	// Ohne Schonfrist könnte die Bereinigung ein Bild zwischen Ablage und Datensatz-Commit löschen
	if c.Store.CleanupInterval > 0 && c.Store.CleanupMinAge < 1 {
		return fmt.Errorf("store.cleanup_min_age must be at least 1 when cleanup is enabled, got %d", c.Store.CleanupMinAge)
	}
	if c.Codec.Enabled && c.Codec.URL == "" {
		return fmt.Errorf("codec.url is required when the codec is enabled")
	}
	switch strings.ToLower(c.Codec.Provider) {
	case "", "insightface", "compreface":
	default:
		return fmt.Errorf("unknown codec.provider %q", c.Codec.Provider)
	}
	return nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "UTC")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/facestore.log")

	// DB
	v.SetDefault("db.file", "/data/facestore.db")

	// Store
	v.SetDefault("store.dimension", 0)
	v.SetDefault("store.threshold", 0.6)
	v.SetDefault("store.image_dir", "/data/known_faces")
	v.SetDefault("store.save_images", true)
	v.SetDefault("store.cleanup_interval", 0)
	v.SetDefault("store.cleanup_min_age", 60)

	// Codec
	v.SetDefault("codec.enabled", false)
	v.SetDefault("codec.provider", "insightface")
	v.SetDefault("codec.url", "")
	v.SetDefault("codec.api_key", "")
	v.SetDefault("codec.timeout", 30)
	v.SetDefault("codec.detection_threshold", 0.5)

	// MQTT
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "facestore")
	v.SetDefault("mqtt.topic_prefix", "facestore")
	v.SetDefault("mqtt.homeassistant", false)
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Store.SaveImages && cfg.Store.ImageDir != "" {
		if err := os.MkdirAll(cfg.Store.ImageDir, 0755); err != nil {
			return fmt.Errorf("failed to create image directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		logDir := filepath.Dir(cfg.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
