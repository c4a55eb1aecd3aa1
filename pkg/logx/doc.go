// Package logx is mtman's structured logging, a thin layer over zerolog.
//
// The parent process logs to the console, optionally teeing JSON lines into a
// per-run log file. Worker processes log to their inherited stderr.
// The zero Logger discards everything.
package logx
