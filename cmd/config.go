package cmd

import (
	"fmt"
	u "net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tanq16/rangedl/internal/downloader"
	"github.com/tanq16/rangedl/internal/utils"
)

// Config is the merged view of flags, RANGEDL_* environment variables and
// an optional rangedl.yaml, in that order of precedence.
type Config struct {
	Output        string
	Connections   int
	Timeout       time.Duration
	KATimeout     time.Duration
	UserAgent     string
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	Headers       []string
	LimitRate     int64
	Direct        bool
	Debug         bool
	Workers       int
	Upload        string
	ShowRanges    bool
	RangesSet     bool // ranges came from a flag, env or config file
}

var configFile string

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RANGEDL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("connections", utils.DefaultRangeCount)
	v.SetDefault("timeout", 3*time.Minute)
	v.SetDefault("keep-alive-timeout", 90*time.Second)
	v.SetDefault("user-agent", utils.ToolUserAgent)
	v.SetDefault("workers", 1)
	return v
}

// loadConfig resolves the configuration for cmd. Flags changed on the
// command line win over env and file values.
func loadConfig(cmd *cobra.Command) (Config, error) {
	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("rangedl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional file
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg := Config{
		Output:        v.GetString("output"),
		Connections:   v.GetInt("connections"),
		Timeout:       v.GetDuration("timeout"),
		KATimeout:     v.GetDuration("keep-alive-timeout"),
		UserAgent:     v.GetString("user-agent"),
		ProxyURL:      v.GetString("proxy"),
		ProxyUsername: v.GetString("proxy-username"),
		ProxyPassword: v.GetString("proxy-password"),
		Headers:       v.GetStringSlice("header"),
		LimitRate:     v.GetInt64("limit-rate"),
		Direct:        v.GetBool("direct"),
		Debug:         v.GetBool("debug"),
		Workers:       v.GetInt("workers"),
		Upload:        v.GetString("upload"),
		ShowRanges:    v.GetBool("ranges"),
		RangesSet:     v.IsSet("ranges"),
	}
	if cfg.Connections <= 0 {
		return Config{}, fmt.Errorf("connections must be positive, got %d", cfg.Connections)
	}
	if cfg.LimitRate < 0 {
		return Config{}, fmt.Errorf("limit-rate must not be negative, got %d", cfg.LimitRate)
	}
	return cfg, nil
}

// quietRanges hides per-range bars unless ranges was set explicitly; they
// are noisy with several downloads on screen.
func (c *Config) quietRanges() {
	if !c.RangesSet {
		c.ShowRanges = false
	}
}

func (c Config) httpClientConfig() utils.HTTPClientConfig {
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	proxyURL, proxyUsername, proxyPassword := c.ProxyURL, c.ProxyUsername, c.ProxyPassword
	// Check if proxy URL contains auth
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:       c.Timeout,
		KATimeout:     c.KATimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       utils.ParseHeaderArgs(c.Headers),
	}
}

func (c Config) downloadOptions(connections int) downloader.Options {
	return downloader.Options{
		RangeCount:       connections,
		HTTPClientConfig: c.httpClientConfig(),
		DirectWrite:      c.Direct,
		RateLimit:        c.LimitRate,
	}
}
