// Package logger wraps zap: a console logger on stderr with a shared level,
// and context helpers so every line a package run logs carries its logger name,
// version and language. A run may lower its own level with WithLevelOverride.
package logger
