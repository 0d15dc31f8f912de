// Package logging provides the library-private default Logger
// implementation used when a caller does not supply one.
package logging

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Default is a zerolog-backed logger satisfying billingagent.Logger.
type Default struct {
	logger zerolog.Logger
	// optional sampler to reduce log spam on Warn/Error during prolonged
	// disconnection, configured via BILLINGAGENT_LOG_SAMPLE_N.
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// NewDefault creates a Default logger writing to stderr with timestamps.
func NewDefault() *Default {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var samp zerolog.Sampler
	if v := os.Getenv("BILLINGAGENT_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(n)
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = l.Sample(samp)
	}
	return &Default{logger: l, sampler: samp, sampled: sampled}
}

func (l *Default) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

func (l *Default) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

func (l *Default) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

func (l *Default) Warn(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Warn(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

func (l *Default) Error(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Error(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Error(), msg, keysAndValues...)
}
