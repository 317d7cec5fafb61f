package main

import (
	"io"
	"strings"

	"github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-workflow/engine"
)

// newLogger builds the go-logger backed engine logger from log.level and log.format.
func newLogger(out io.Writer, level, format string) engine.Logger {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	if strings.EqualFold(format, "json") {
		return engine.NewGoLogger(glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		))
	}
	return engine.NewGoLogger(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLevel(level),
	))
}
