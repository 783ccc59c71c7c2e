package config

import (
	"strings"
	"time"
)

// Config is the top-level irisctl configuration.
type Config struct {
	// BaseURL is the Iris server, e.g. https://iris.example.com.
	BaseURL string `yaml:"baseURL"`

	// APIPath is the mobile API prefix appended to BaseURL.
	APIPath string `yaml:"apiPath,omitempty"`

	// LoginURL is the SSO page. Empty means {BaseURL}{APIPath}/login.
	LoginURL string `yaml:"loginURL,omitempty"`

	// RedirectURL is the prefix the SSO page redirects to after login.
	RedirectURL string `yaml:"redirectURL,omitempty"`

	Store StoreConfig `yaml:"store"`
	HTTP  HTTPConfig  `yaml:"http"`
	Login LoginConfig `yaml:"login"`

	// Debug replaces credential renewal with a stub that always succeeds.
	Debug bool `yaml:"debug,omitempty"`

	// Username is used by debug-login when no --username is given.
	Username string `yaml:"username,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	// Backend is file, sqlite or memory.
	Backend string `yaml:"backend,omitempty"`

	// Path is the storage directory. Empty means ~/.config/irisctl.
	Path string `yaml:"path,omitempty"`
}

// HTTPConfig tunes API requests.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LoginConfig tunes the browser login.
type LoginConfig struct {
	// Timeout, when set, gives up on a login page left open this long.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// APIBase returns {BaseURL}{APIPath}.
func (c Config) APIBase() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(c.APIPath, "/")
}

// EffectiveLoginURL returns LoginURL or its default.
func (c Config) EffectiveLoginURL() string {
	if c.LoginURL != "" {
		return c.LoginURL
	}
	return strings.TrimSuffix(c.APIBase(), "/") + "/login"
}
