// Package log holds the process-wide zerolog root: disabled by default
// so the store stays silent as a library, configured once from CLI
// flags via Init, and handed to subsystems as component child loggers.
package log
