package config

import (
	"encoding/json"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Gateway transport kinds.
const (
	KindSTOMP = "stomp"
	KindNATS  = "nats"
)

// Config is the client's full configuration.
// ARCHITECTURAL DISCOVERY: one struct per external dependency keeps the
// transport, REST collaborators and logging independently overridable
type Config struct {
	Gateway *GatewayConfig `json:"gateway"`
	API     *APIConfig     `json:"api"`
	Log     *LogConfig     `json:"log"`
}

// GatewayConfig describes the publish/subscribe gateway.
type GatewayConfig struct {
	Kind              string         `json:"kind"`
	URL               string         `json:"url"`
	Host              string         `json:"host"`
	ConnectTimeout    time.Duration  `json:"connect_timeout"`
	DisconnectTimeout time.Duration  `json:"disconnect_timeout"`
	HeartBeat         time.Duration  `json:"heartbeat"`
	Channels          *ChannelConfig `json:"channels"`
	// SendRateLimit caps outbound chat messages per minute; 0 disables it.
	SendRateLimit     int            `json:"send_rate_limit"`
}

// ChannelConfig maps logical channels onto the gateway's names.
// FUNCTIONAL DISCOVERY: "{id}" in PersonalQueue is replaced by the local user id
type ChannelConfig struct {
	SendPrefix     string `json:"send_prefix"`
	PersonalQueue  string `json:"personal_queue"`
	BroadcastQueue string `json:"broadcast_queue"`
}

// APIConfig describes the REST directory/history collaborator.
type APIConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// LogConfig selects log level and sink. File "-" logs to stderr.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// DefaultChannels returns the channel layout a gateway kind uses out of the box.
func DefaultChannels(kind string) *ChannelConfig {
	if kind == KindNATS {
		return &ChannelConfig{
			SendPrefix:     "chatdesk.app.",
			PersonalQueue:  "chatdesk.user.{id}.messages",
			BroadcastQueue: "chatdesk.public",
		}
	}
	return &ChannelConfig{
		SendPrefix:     "/app/",
		PersonalQueue:  "/user/{id}/queue/messages",
		BroadcastQueue: "/user/public",
	}
}

// Personal returns the personal queue for userID.
func (c *ChannelConfig) Personal(userID string) string {
	return strings.ReplaceAll(c.PersonalQueue, "{id}", userID)
}

// Broadcast returns the shared broadcast queue.
func (c *ChannelConfig) Broadcast() string {
	return c.BroadcastQueue
}

// Destination returns the wire destination for a logical destination
// such as types.DestinationChat.
func (c *ChannelConfig) Destination(logical string) string {
	return c.SendPrefix + logical
}

// DefaultConfig targets a gateway on localhost, matching the stock
// Spring deployment (SockJS endpoint /ws, REST on the same port).
func DefaultConfig() *Config {
	return &Config{
		Gateway: &GatewayConfig{
			Kind:              KindSTOMP,
			URL:               "ws://localhost:8080/ws/websocket",
			ConnectTimeout:    10 * time.Second,
			DisconnectTimeout: 2 * time.Second,
			HeartBeat:         0,
			Channels:          DefaultChannels(KindSTOMP),
			SendRateLimit:     100,
		},
		API: &APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Log: &LogConfig{
			Level: "info",
			File:  "chatdesk.log",
		},
	}
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return errors.New("gateway configuration is required")
	}

	if c.Gateway.Kind != KindSTOMP && c.Gateway.Kind != KindNATS {
		return errors.Errorf("gateway kind must be %q or %q, got %q", KindSTOMP, KindNATS, c.Gateway.Kind)
	}

	if c.Gateway.URL == "" {
		return errors.New("gateway URL cannot be empty")
	}

	if _, err := url.Parse(c.Gateway.URL); err != nil {
		return errors.Wrap(err, "gateway URL is invalid")
	}

	if c.Gateway.ConnectTimeout <= 0 {
		return errors.New("gateway connect timeout must be positive")
	}

	if c.Gateway.DisconnectTimeout <= 0 {
		return errors.New("gateway disconnect timeout must be positive")
	}

	if c.Gateway.HeartBeat < 0 {
		return errors.New("gateway heartbeat cannot be negative")
	}

	if c.Gateway.SendRateLimit < 0 {
		return errors.New("gateway send rate limit cannot be negative")
	}

	if c.Gateway.Channels == nil {
		return errors.New("gateway channel configuration is required")
	}

	if !strings.Contains(c.Gateway.Channels.PersonalQueue, "{id}") {
		return errors.New("personal queue must contain the {id} placeholder")
	}

	if c.Gateway.Channels.BroadcastQueue == "" {
		return errors.New("broadcast queue cannot be empty")
	}

	if c.API == nil {
		return errors.New("API configuration is required")
	}

	if c.API.BaseURL == "" {
		return errors.New("API base URL cannot be empty")
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("API base URL %q must be absolute", c.API.BaseURL)
	}

	if c.API.Timeout <= 0 {
		return errors.New("API timeout must be positive")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	if c.Log.File == "" {
		return errors.New("log file cannot be empty")
	}

	return nil
}

// setKind switches the transport kind and, unless channels were set
// explicitly, the channel layout with it.
func (c *Config) setKind(kind string, explicitChannels bool) {
	c.Gateway.Kind = kind
	if !explicitChannels {
		c.Gateway.Channels = DefaultChannels(kind)
	}
}

// LoadFromEnv overlays CHATDESK_* environment variables on the defaults.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if kind := os.Getenv("CHATDESK_GATEWAY_KIND"); kind != "" {
		config.setKind(strings.ToLower(kind), false)
	}

	if gatewayURL := os.Getenv("CHATDESK_GATEWAY_URL"); gatewayURL != "" {
		config.Gateway.URL = gatewayURL
	}

	if host := os.Getenv("CHATDESK_GATEWAY_HOST"); host != "" {
		config.Gateway.Host = host
	}

	if connectTimeout := os.Getenv("CHATDESK_GATEWAY_CONNECT_TIMEOUT"); connectTimeout != "" {
		if timeout, err := time.ParseDuration(connectTimeout); err == nil {
			config.Gateway.ConnectTimeout = timeout
		}
	}

	if heartBeat := os.Getenv("CHATDESK_GATEWAY_HEARTBEAT"); heartBeat != "" {
		if interval, err := time.ParseDuration(heartBeat); err == nil {
			config.Gateway.HeartBeat = interval
		}
	}

	if rateLimit := os.Getenv("CHATDESK_GATEWAY_SEND_RATE_LIMIT"); rateLimit != "" {
		if limit, err := strconv.Atoi(rateLimit); err == nil {
			config.Gateway.SendRateLimit = limit
		}
	}

	if baseURL := os.Getenv("CHATDESK_API_BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}

	if apiTimeout := os.Getenv("CHATDESK_API_TIMEOUT"); apiTimeout != "" {
		if timeout, err := time.ParseDuration(apiTimeout); err == nil {
			config.API.Timeout = timeout
		}
	}

	if level := os.Getenv("CHATDESK_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	if file := os.Getenv("CHATDESK_LOG_FILE"); file != "" {
		config.Log.File = file
	}

	return config
}

// ConfigFile is the JSON shape of a config file; durations are strings.
type ConfigFile struct {
	Gateway *GatewayConfigFile `json:"gateway"`
	API     *APIConfigFile     `json:"api"`
	Log     *LogConfig         `json:"log"`
}

type GatewayConfigFile struct {
	Kind              string         `json:"kind"`
	URL               string         `json:"url"`
	Host              string         `json:"host"`
	ConnectTimeout    string         `json:"connect_timeout"`
	DisconnectTimeout string         `json:"disconnect_timeout"`
	HeartBeat         string         `json:"heartbeat"`
	Channels          *ChannelConfig `json:"channels"`
	SendRateLimit     *int           `json:"send_rate_limit"`
}

type APIConfigFile struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout"`
}

// LoadFromFile reads a JSON config file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	return overlayFile(DefaultConfig(), filepath)
}

// overlayFile applies the fields a JSON config file sets on top of base
// and validates the result. Fields the file leaves out keep base's values.
func overlayFile(base *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", filepath)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", filepath)
	}

	// base is untouched until the file has parsed
	config := base

	if gw := configFile.Gateway; gw != nil {
		if gw.Kind != "" {
			config.setKind(strings.ToLower(gw.Kind), gw.Channels != nil)
		}
		if gw.URL != "" {
			config.Gateway.URL = gw.URL
		}
		if gw.Host != "" {
			config.Gateway.Host = gw.Host
		}
		if gw.ConnectTimeout != "" {
			if timeout, err := time.ParseDuration(gw.ConnectTimeout); err == nil {
				config.Gateway.ConnectTimeout = timeout
			}
		}
		if gw.DisconnectTimeout != "" {
			if timeout, err := time.ParseDuration(gw.DisconnectTimeout); err == nil {
				config.Gateway.DisconnectTimeout = timeout
			}
		}
		if gw.HeartBeat != "" {
			if interval, err := time.ParseDuration(gw.HeartBeat); err == nil {
				config.Gateway.HeartBeat = interval
			}
		}
		if gw.SendRateLimit != nil {
			config.Gateway.SendRateLimit = *gw.SendRateLimit
		}
		if ch := gw.Channels; ch != nil {
			if ch.SendPrefix != "" {
				config.Gateway.Channels.SendPrefix = ch.SendPrefix
			}
			if ch.PersonalQueue != "" {
				config.Gateway.Channels.PersonalQueue = ch.PersonalQueue
			}
			if ch.BroadcastQueue != "" {
				config.Gateway.Channels.BroadcastQueue = ch.BroadcastQueue
			}
		}
	}

	if api := configFile.API; api != nil {
		if api.BaseURL != "" {
			config.API.BaseURL = api.BaseURL
		}
		if api.Timeout != "" {
			if timeout, err := time.ParseDuration(api.Timeout); err == nil {
				config.API.Timeout = timeout
			}
		}
	}

	if lg := configFile.Log; lg != nil {
		if lg.Level != "" {
			config.Log.Level = lg.Level
		}
		if lg.File != "" {
			config.Log.File = lg.File
		}
	}

	// ARCHITECTURAL DISCOVERY: validate after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in %s", filepath)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. The
// file is overlaid on the environment, so variables for fields the file
// leaves out still apply. A missing file falls back to the environment;
// a file that cannot be parsed or does not validate is an error.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()
	if filepath == "" {
		return config, nil
	}

	fileConfig, err := overlayFile(config, filepath)
	if errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	return fileConfig, nil
}
