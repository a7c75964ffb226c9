package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`

	GracePeriod            time.Duration `mapstructure:"grace_period"`
	DefaultMaxParticipants int           `mapstructure:"default_max_participants"`
	CreateRoomLimit        int           `mapstructure:"create_room_limit"`
	CreateRoomInterval     time.Duration `mapstructure:"create_room_interval"`

	Identity   IdentityConfig `mapstructure:"identity"`
	Database   DatabaseConfig `mapstructure:"database"`
	ICEServers []ICEServer    `mapstructure:"ice_servers"`
}

type IdentityConfig struct {
	// ProjectID fills the default issuer and audience of Firebase ID tokens.
	ProjectID       string        `mapstructure:"project_id"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	JWKSURL         string        `mapstructure:"jwks_url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // memory | postgres
	DSN    string `mapstructure:"dsn"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

const (
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	DefaultSTUN    = "stun:stun.l.google.com:19302"
)

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). Every key can
// be overridden with a TALKROOMS_ prefixed environment variable.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFrom(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFrom(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("TALKROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fill()
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("db", cfg.Database.Driver).Dur("grace", cfg.GracePeriod).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("grace_period", "500ms")
	v.SetDefault("default_max_participants", 10)
	v.SetDefault("create_room_limit", 3)
	v.SetDefault("create_room_interval", "1m")
	v.SetDefault("identity.project_id", "")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.audience", "")
	v.SetDefault("identity.jwks_url", DefaultJWKSURL)
	v.SetDefault("identity.refresh_interval", "1h")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
}

// fill derives values that depend on other keys.
func (c *Config) fill() {
	if c.Identity.ProjectID != "" {
		if c.Identity.Issuer == "" {
			c.Identity.Issuer = "https://securetoken.google.com/" + c.Identity.ProjectID
		}
		if c.Identity.Audience == "" {
			c.Identity.Audience = c.Identity.ProjectID
		}
	}
	if len(c.ICEServers) == 0 {
		c.ICEServers = []ICEServer{{URLs: []string{DefaultSTUN}}}
	}
}
