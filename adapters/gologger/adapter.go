package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultLoggerName = "notify"

// Resolve uses provider > logger > nop. An empty name resolves to the
// default logger name.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// QueueLogger returns the go-job logger an in-process queue reports
// through, named notify.queue.<queue>.
func QueueLogger(provider glog.LoggerProvider, logger glog.Logger, queueName string) job.Logger {
	resolvedProvider, resolvedLogger := Resolve(DefaultLoggerName, provider, logger)
	if resolvedProvider == nil {
		return ToJobLogger(resolvedLogger)
	}
	name := DefaultLoggerName + ".queue"
	if queueName = strings.TrimSpace(queueName); queueName != "" {
		name += "." + queueName
	}
	return ToJobLogger(resolvedProvider.GetLogger(name))
}
