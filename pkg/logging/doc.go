// Package logging provides the structured logging used across irisctl.
//
// It is a thin layer over log/slog. InitForCLI installs a text handler at the
// requested level and makes it the slog default, so packages that log through
// slog directly and packages that use the subsystem helpers end up in the
// same stream.
//
// # Subsystems
//
// Every helper takes a subsystem name that is attached as the "subsystem"
// attribute:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Session", "access credential renewed")
//	logging.Debug("Config", "loaded configuration from %s", path)
//	logging.Error("CredStore", err, "failed to persist %s", key)
//
// # Audit lines
//
// Credential writes and removals are logged with Audit, which prefixes the
// message with SECURITY_AUDIT and records an "event" attribute. Token values
// are never logged.
package logging
