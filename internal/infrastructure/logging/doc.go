// Package logging provides structured logging for Vacmesh Core.
//
// It wraps the standard library log/slog with service defaults: JSON or
// text output, level filtering, and default service/version fields.
// Components receive a *Logger (or a narrower interface they define) and
// scope it with With("component", ...).
package logging
