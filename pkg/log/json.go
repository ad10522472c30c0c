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
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// phaseSource reports the kernel phase for JSON records. It is nil until
// SetPhaseSource.
var phaseSource atomic.Pointer[func() string]

// SetPhaseSource makes JSONEmitter tag every record with the phase f
// returns. A nil f removes the tag.
func SetPhaseSource(f func() string) {
	if f == nil {
		phaseSource.Store(nil)
		return
	}
	phaseSource.Store(&f)
}

// jsonLevel is the name of l in JSON records.
func jsonLevel(l Level) string {
	switch l {
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return fmt.Sprintf("level%d", int(l))
	}
}

// JSONEmitter logs messages as one JSON object per line with fields msg,
// level, time, core and, once a phase source is set, phase.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
			file = file[slash+1:]
		}
		msg = fmt.Sprintf("%s:%d] %s", file, line, msg)
	}

	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("msg").String(msg)
	obj.Name("level").String(jsonLevel(level))
	obj.Name("time").String(timestamp.Format(time.RFC3339Nano))
	obj.Name("core").Int(BootCore)
	if f := phaseSource.Load(); f != nil {
		obj.Name("phase").String((*f)())
	}
	obj.End()
	e.Writer.Write(w.Bytes())
}
