// Package logx is mailcadence's structured logger: a small value-type wrapper
// over zerolog.
//
// Console output stays human readable (short timestamp, file:line caller),
// the log file is JSON, and an optional alert sink forwards warnings and
// errors to a chat through transport.Sender with rate limiting.
package logx
