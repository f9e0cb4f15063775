// Package env provides configuration shared by the commands.
package env

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/cul.go/pkg/cul"
	"github.com/robotalks/cul.go/pkg/cul/transport"
)

// Config configures the driver and the bridges.
type Config struct {
	// Device is a serial device path or telnet://host:port.
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`

	// MQTTURL enables the MQTT bridge, e.g. mqtt://host:1883/cul/
	MQTTURL string `yaml:"mqtt_url"`
	// WebsocketAddr enables the websocket event stream, e.g. :8080
	WebsocketAddr string `yaml:"websocket_addr"`

	// ConfigFile is a YAML file overriding defaults and environment.
	// Flags given on the command line take precedence over the file.
	ConfigFile string `yaml:"-"`
}

var defaultConfig = Config{
	Device:   "/dev/ttyACM0",
	BaudRate: transport.DefaultBaudRate,
}

func init() {
	if val := os.Getenv("CUL_DEVICE"); val != "" {
		defaultConfig.Device = val
	}
	if val := os.Getenv("CUL_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			defaultConfig.BaudRate = baud
		}
	}
	if val := os.Getenv("CUL_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
	}
	if val := os.Getenv("CUL_WS_ADDR"); val != "" {
		defaultConfig.WebsocketAddr = val
	}
	if val := os.Getenv("CUL_CONFIG"); val != "" {
		defaultConfig.ConfigFile = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	setupFlags(flag.CommandLine, &defaultConfig)
}

// SetupBridgeFlags sets up flags for the MQTT and websocket bridges.
func SetupBridgeFlags() {
	setupBridgeFlags(flag.CommandLine, &defaultConfig)
}

func setupFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Device, "device", c.Device, "CUL device path or telnet://host:port.")
	fs.IntVar(&c.BaudRate, "baud", c.BaudRate, "Baud rate of the serial device.")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML configuration file.")
}

func setupBridgeFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.MQTTURL, "mqtt", c.MQTTURL, "MQTT broker URL, empty to disable.")
	fs.StringVar(&c.WebsocketAddr, "ws", c.WebsocketAddr, "Websocket listen address, empty to disable.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config from defaults, environment, the config file
// and command line flags.
func NewConfig() (*Config, error) {
	return newConfig(flag.CommandLine, &defaultConfig)
}

// MustNewConfig is NewConfig failing on error.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}

func newConfig(fs *flag.FlagSet, flagged *Config) (*Config, error) {
	conf := *flagged
	if conf.ConfigFile == "" {
		return &conf, nil
	}
	if err := conf.LoadFile(conf.ConfigFile); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			conf.Device = flagged.Device
		case "baud":
			conf.BaudRate = flagged.BaudRate
		case "mqtt":
			conf.MQTTURL = flagged.MQTTURL
		case "ws":
			conf.WebsocketAddr = flagged.WebsocketAddr
		}
	})
	return &conf, nil
}

// LoadFile overrides the config with values present in a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// TransportOptions returns options to open the device.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{BaudRate: c.BaudRate}
}

// NewDriver creates a driver for the configured device.
func (c *Config) NewDriver() (*cul.Driver, error) {
	if _, err := transport.ParseAddress(c.Device); err != nil {
		return nil, err
	}
	return cul.NewDriver(cul.DeviceOpener(c.Device, c.TransportOptions())), nil
}

// MustNewDriver creates a driver and fails on error.
func (c *Config) MustNewDriver() *cul.Driver {
	drv, err := c.NewDriver()
	if err != nil {
		log.Fatalln(err)
	}
	return drv
}
