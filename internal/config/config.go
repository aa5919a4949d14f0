// Package config loads daemon configuration from defaults, an optional
// YAML file, KITCHEN_PRINT_* environment variables and flags.
package config

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kitchen-print/internal/connection"
	"kitchen-print/internal/printer"
	"kitchen-print/internal/printing"
	"kitchen-print/internal/queue"
	"kitchen-print/internal/tele"
)

const EnvPrefix = "KITCHEN_PRINT"

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Printer    printer.Config   `mapstructure:"printer"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Label      LabelConfig      `mapstructure:"label"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Settings   SettingsConfig   `mapstructure:"settings"`
	MQTT       tele.Config      `mapstructure:"mqtt"`
	Log        LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type ConnectionConfig struct {
	InitAttempts   int           `mapstructure:"init_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ConnectOnStart bool          `mapstructure:"connect_on_start"`
}

func (c ConnectionConfig) Options() connection.Options {
	return connection.Options{
		InitAttempts:   c.InitAttempts,
		RetryDelay:     c.RetryDelay,
		AutoReconnect:  c.AutoReconnect,
		MaxReconnects:  c.MaxReconnects,
		ReconnectDelay: c.ReconnectDelay,
	}
}

type LabelConfig struct {
	Scale           float64 `mapstructure:"scale"`
	MaxLinesPerFeed int     `mapstructure:"max_lines_per_feed"`
}

func (c LabelConfig) Options() printing.Options {
	return printing.Options{Scale: c.Scale, MaxLinesPerFeed: c.MaxLinesPerFeed}
}

type QueueConfig struct {
	Path        string        `mapstructure:"path"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

func (c QueueConfig) Options() queue.Options {
	return queue.Options{RetryDelay: c.RetryDelay, MaxAttempts: c.MaxAttempts}
}

type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("printer.transport", "serial")
	v.SetDefault("printer.dialect", "escpos")
	v.SetDefault("printer.port", "")
	v.SetDefault("printer.baud_rate", 115200)
	v.SetDefault("printer.mac", "")
	v.SetDefault("printer.channel", 1)
	v.SetDefault("printer.address", "")
	v.SetDefault("printer.vid", 0)
	v.SetDefault("printer.pid", 0)
	v.SetDefault("printer.code_page", "cp437")
	v.SetDefault("printer.width_dots", 384)
	v.SetDefault("printer.partial_cut", false)
	v.SetDefault("printer.label_size", "40x30mm")
	v.SetDefault("printer.density", 8)
	v.SetDefault("printer.speed", 2)
	v.SetDefault("printer.gap", 2)
	v.SetDefault("printer.font_name", "Default")

	v.SetDefault("connection.init_attempts", connection.DefaultInitAttempts)
	v.SetDefault("connection.retry_delay", connection.DefaultRetryDelay)
	v.SetDefault("connection.auto_reconnect", true)
	v.SetDefault("connection.max_reconnects", connection.DefaultMaxReconnects)
	v.SetDefault("connection.reconnect_delay", connection.DefaultReconnectDelay)
	v.SetDefault("connection.connect_on_start", true)

	v.SetDefault("label.scale", printing.DefaultScale)
	v.SetDefault("label.max_lines_per_feed", printing.DefaultMaxLinesPerFeed)

	v.SetDefault("queue.path", "")
	v.SetDefault("queue.retry_delay", queue.DefaultRetryDelay)
	v.SetDefault("queue.max_attempts", queue.DefaultMaxAttempts)

	v.SetDefault("settings.path", "settings.yaml")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "kitchen-print")
	v.SetDefault("mqtt.network_timeout", tele.DefaultNetworkTimeout)
	v.SetDefault("mqtt.log_debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"listen":    "http.listen",
	"transport": "printer.transport",
	"dialect":   "printer.dialect",
	"port":      "printer.port",
	"address":   "printer.address",
	"mac":       "printer.mac",
	"broker":    "mqtt.broker",
	"log-level": "log.level",
}

// Flags registers the command line flags Load understands
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file")
	fs.String("listen", "", "HTTP listen address")
	fs.String("transport", "", "printer transport: serial, bluetooth, usb, tcp")
	fs.String("dialect", "", "printer command set: escpos, tspl")
	fs.String("port", "", "serial port")
	fs.String("address", "", "printer host:port for tcp")
	fs.String("mac", "", "Bluetooth address")
	fs.String("broker", "", "MQTT broker URL")
	fs.String("log-level", "", "debug, info, warn, error")
}

// Load reads configuration. Explicitly set flags win over the
// environment, which wins over the file, which wins over defaults.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var path string
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, errors.Annotatef(err, "bind flag %s", name)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Annotatef(err, "read config %s", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Annotate(err, "decode config")
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.HTTP.Listen == "" {
		return errors.NotValidf("empty http.listen")
	}
	switch strings.ToLower(c.Printer.Dialect) {
	case "escpos", "tspl":
	default:
		return errors.NotValidf("printer.dialect %q", c.Printer.Dialect)
	}
	if c.Label.Scale <= 0 {
		return errors.NotValidf("label.scale %v", c.Label.Scale)
	}
	if c.Label.MaxLinesPerFeed < 1 {
		return errors.NotValidf("label.max_lines_per_feed %d", c.Label.MaxLinesPerFeed)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.NotValidf("log.level %q", c.Log.Level)
	}
	return nil
}

// Logger builds the process logger from the log section
func (c LogConfig) Logger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, errors.NotValidf("log level %q", c.Level)
	}
	zc.Level = level
	log, err := zc.Build()
	return log, errors.Trace(err)
}
