// Package logx wraps zerolog for kavitabot.
//
// Console output stays human readable, the optional log file is JSON, and
// records at or above a configured level can be forwarded to an AlertSink
// (the administrator pager) under a per-minute rate limit.
package logx
