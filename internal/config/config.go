// Package config loads the service configuration described by spec §6:
// name, fps, listenAddr, connectPeers, codecChain, maxSessionSendBuf,
// frameDrainCap, logLevel, plus the relay settings SPEC_FULL.md adds for
// the optional cross-process bus. Layering follows the teacher's own
// flags > env > file precedence via spf13/viper and spf13/pflag; a
// fsnotify watch drives OnConfigReload notifications.
package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/webitel/corehub/internal/corerr"
)

// Config is one service's full configuration, already defaulted and
// validated by Load.
type Config struct {
	// ConfigFile is the path Load read the file layer from, if any; carried
	// through so callers (cmd's RegisterConfigWatcher) can watch the same
	// file Load itself consulted, without re-parsing flags.
	ConfigFile string `mapstructure:"config_file"`

	Name              string   `mapstructure:"name"`
	FPS               int      `mapstructure:"fps"`
	ListenAddr        string   `mapstructure:"listen_addr"`
	ConnectPeers      []string `mapstructure:"connect_peers"`
	CodecChain        []string `mapstructure:"codec_chain"`
	MaxSessionSendBuf int      `mapstructure:"max_session_send_buf"`
	FrameDrainCap     int      `mapstructure:"frame_drain_cap"`
	LogLevel          string   `mapstructure:"log_level"`

	// AdminAddr, left empty, disables internal/admin's HTTP surface.
	AdminAddr string `mapstructure:"admin_addr"`

	// Relay is optional and config-gated (SPEC_FULL.md's cross-process
	// bus); zero value means the relay is never started.
	Relay RelayConfig `mapstructure:"relay"`
}

// RelayConfig configures the optional internal/bus cross-process relay.
type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	AMQPURL string `mapstructure:"amqp_url"`
	Topic   string `mapstructure:"topic"`
}

const (
	defaultFPS               = 30
	defaultMaxSessionSendBuf = 1 << 20 // 1 MiB
	defaultFrameDrainCap     = 256
	defaultLogLevel          = "info"
	defaultRelayTopic        = "corehub.relay"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("fps", defaultFPS)
	v.SetDefault("max_session_send_buf", defaultMaxSessionSendBuf)
	v.SetDefault("frame_drain_cap", defaultFrameDrainCap)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("relay.topic", defaultRelayTopic)
}

// flagSet builds the pflag.FlagSet bound into viper, giving command-line
// flags top precedence over env vars and file contents.
func flagSet(args []string) (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet("corehub", pflag.ContinueOnError)
	fs.String("config_file", "", "path to the configuration file")
	fs.String("name", "", "service name")
	fs.Int("fps", 0, "ticks per second (1..1000)")
	fs.String("listen_addr", "", "address to accept inbound connections on")
	fs.String("log_level", "", "log level (debug|info|warn|error)")
	if err := fs.Parse(args); err != nil {
		return nil, corerr.Wrap(corerr.KindArg, "parse flags", err)
	}
	return fs, nil
}

// Load builds a Config from flags (args, typically os.Args[1:]), then
// CORE_-prefixed environment variables, then an optional config file,
// in flags > env > file precedence, matching the teacher's own cli.App
// flag-then-LoadConfig call ordering.
func Load(args []string) (*Config, error) {
	fs, err := flagSet(args)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("core")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "bind flags", err)
	}

	if path, _ := fs.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, corerr.Wrap(corerr.KindArg, "read config file: "+path, err)
		}
	}

	return decodeAndValidate(v)
}

func decodeAndValidate(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, corerr.Wrap(corerr.KindArg, "decode config", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate enforces spec §6's field constraints.
func validate(cfg *Config) error {
	if cfg.Name == "" {
		return corerr.New(corerr.KindArg, "name is required")
	}
	if cfg.FPS < 1 || cfg.FPS > 1000 {
		return corerr.New(corerr.KindArg, "fps must be in 1..1000")
	}
	if cfg.MaxSessionSendBuf <= 0 {
		return corerr.New(corerr.KindArg, "max_session_send_buf must be positive")
	}
	if cfg.FrameDrainCap <= 0 {
		return corerr.New(corerr.KindArg, "frame_drain_cap must be positive")
	}
	if cfg.Relay.Enabled && cfg.Relay.Topic == "" {
		return corerr.New(corerr.KindArg, "relay.topic is required when relay.enabled")
	}
	return nil
}

// LoadFromEnv is a convenience entry point that calls Load with the
// process's own command line (os.Args[1:]), for callers that hold no argv
// slice of their own.
func LoadFromEnv() (*Config, error) {
	return Load(os.Args[1:])
}
