package config

import "time"

const (
	// DefaultAPIPath is the mobile API prefix.
	DefaultAPIPath = "/api/v0/mobile"

	// DefaultRedirectURL is where the SSO page sends the browser after login.
	DefaultRedirectURL = "http://localhost:7000"

	// DefaultStoreBackend keeps credentials in a JSON file.
	DefaultStoreBackend = "file"

	// DefaultHTTPTimeout bounds a single API request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultLogLevel is the log level when none is configured.
	DefaultLogLevel = "warn"
)

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() Config {
	return Config{
		APIPath:     DefaultAPIPath,
		RedirectURL: DefaultRedirectURL,
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
		},
		HTTP: HTTPConfig{
			Timeout: DefaultHTTPTimeout,
		},
		LogLevel: DefaultLogLevel,
	}
}
