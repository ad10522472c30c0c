// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"gvisor.dev/kernelvm/pkg/sync"
)

// rateLimitedLogger passes each format string to logger at most once per
// interval. Messages it drops are counted, and the count is reported with
// the next message of the same format that gets through.
type rateLimitedLogger struct {
	logger Logger
	every  time.Duration
	now    func() time.Time

	mu     sync.Mutex
	limits map[string]*formatLimit
}

type formatLimit struct {
	limiter *rate.Limiter
	dropped int
}

// admit reports whether a message with format may be logged now, and the
// suffix to append to it.
func (rl *rateLimitedLogger) admit(format string) (string, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limits[format]
	if !ok {
		l = &formatLimit{limiter: rate.NewLimiter(rate.Every(rl.every), 1)}
		rl.limits[format] = l
	}
	if !l.limiter.AllowN(rl.now(), 1) {
		l.dropped++
		return "", false
	}
	if l.dropped == 0 {
		return "", true
	}
	suffix := fmt.Sprintf(" (%d similar messages dropped)", l.dropped)
	l.dropped = 0
	return suffix, true
}

func (rl *rateLimitedLogger) logf(level Level, emit func(string, ...any), format string, v []any) {
	if !rl.logger.IsLogging(level) {
		return
	}
	if suffix, ok := rl.admit(format); ok {
		emit(format+suffix, v...)
	}
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	rl.logf(Debug, rl.logger.Debugf, format, v)
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	rl.logf(Info, rl.logger.Infof, format, v)
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	rl.logf(Warning, rl.logger.Warningf, format, v)
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration for each format string.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration for each format string.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return newRateLimitedLogger(logger, every)
}

func newRateLimitedLogger(logger Logger, every time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{
		logger: logger,
		every:  every,
		now:    time.Now,
		limits: make(map[string]*formatLimit),
	}
}
