// Package logx provides the structured logging layer for herobot.
//
// It wraps zerolog behind a small Logger value so components can hold a
// logger without caring about sink configuration. Sinks (console, file,
// Telegram) can be swapped at runtime via Service.Apply, which the app layer
// drives from config hot-reload.
package logx
