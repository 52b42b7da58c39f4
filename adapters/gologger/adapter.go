package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-dispatch/core"
)

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ForQueue resolves the pipeline's logger under the given component name and
// returns both the glog logger used by dispatch components and the go-job
// logger handed to queue backends.
func ForQueue(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.Logger, job.Logger) {
	_, resolved := glog.Resolve(name, provider, logger)
	return resolved, ToJobLogger(resolved)
}

// InstrumentationLogger extracts the job logger equivalent of an already
// resolved Instrumentation.
func InstrumentationLogger(obs core.Instrumentation) job.Logger {
	return ToJobLogger(obs.Logger)
}
