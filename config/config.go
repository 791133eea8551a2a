package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the host-side server configuration, read from
// screenlink.yaml and SCREENLINK_* environment variables.
type Config struct {
	ListenPort       int           `mapstructure:"listen_port"`
	ClientPoolSize   int           `mapstructure:"client_pool_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	JWTSecret     string `mapstructure:"jwt_secret"`
	ServerToken   string `mapstructure:"server_token"`
	AuthServerURL string `mapstructure:"auth_server_url"`

	AudioDevice string `mapstructure:"audio_device"` // "" = autodetect
	Display     string `mapstructure:"display"`      // X11 display, "" = :0

	APIAddr   string `mapstructure:"api_addr"`
	Preview   bool   `mapstructure:"preview"`
	Advertise bool   `mapstructure:"advertise"`

	DeviceName string `mapstructure:"device_name"` // "" = hostname
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("listen_port", 7080)
	v.SetDefault("client_pool_size", 4)
	v.SetDefault("handshake_timeout", 15*time.Second)
	v.SetDefault("api_addr", ":8079")
	v.SetDefault("preview", true)
	v.SetDefault("advertise", true)

	v.SetEnvPrefix("SCREENLINK")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("screenlink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.screenlink")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceName = host
		} else {
			cfg.DeviceName = "screenlink-host"
		}
	}
	return cfg, nil
}
