// Package config loads irisctl configuration.
//
// Configuration is read from a single YAML file, by default
// ~/.config/irisctl/config.yaml, on top of built-in defaults. A missing file
// is not an error. Command-line flags are applied by the caller before
// Validate is run.
//
// # Example
//
//	baseURL: https://iris.example.com
//	apiPath: /api/v0/mobile
//	redirectURL: http://localhost:7000
//	store:
//	  backend: file
//	http:
//	  timeout: 30s
//	logLevel: info
//
// The login URL defaults to {baseURL}{apiPath}/login.
package config
