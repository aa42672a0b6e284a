package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Room      RoomConfig      `mapstructure:"room"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Media     MediaConfig     `mapstructure:"media"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type WebSocketConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type SyncConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	Tolerance         time.Duration `mapstructure:"tolerance"`
	AllowViewerSeek   bool          `mapstructure:"allow_viewer_seek"`
}

type RoomConfig struct {
	ChatHistory      int `mapstructure:"chat_history"`
	ReactionHistory  int `mapstructure:"reaction_history"`
	MessageMaxLength int `mapstructure:"message_max_length"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MediaConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.ping_period", 54*time.Second)
	v.SetDefault("websocket.max_message_size", 4096)

	v.SetDefault("sync.heartbeat_interval", 5*time.Second)
	v.SetDefault("sync.tolerance", 2*time.Second)
	v.SetDefault("sync.allow_viewer_seek", false)

	v.SetDefault("room.chat_history", 200)
	v.SetDefault("room.reaction_history", 50)
	v.SetDefault("room.message_max_length", 500)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("media.redis.address", "")
	v.SetDefault("media.redis.password", "")
	v.SetDefault("media.redis.db", 0)
	v.SetDefault("media.redis.channel", "media:transcode")

	v.SetDefault("log.level", "info")
}

// Short env names accepted next to the SECTION_KEY form.
var aliases = map[string]string{
	"server.port":             "PORT",
	"log.level":               "LOG_LEVEL",
	"auth.jwt_secret":         "JWT_SECRET",
	"media.redis.address":     "REDIS_ADDRESS",
	"sync.heartbeat_interval": "HEARTBEAT_INTERVAL",
}

// Load reads config.yaml from configPath, "." or ./config when present and
// applies environment overrides on top of the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range aliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	case c.Sync.HeartbeatInterval <= 0:
		return fmt.Errorf("sync.heartbeat_interval must be positive")
	case c.Sync.Tolerance < 0:
		return fmt.Errorf("sync.tolerance must not be negative")
	}
	return nil
}
