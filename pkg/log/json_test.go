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
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
)

// record is a decoded JSONEmitter line.
type record struct {
	msg, level, time, phase string
	core                    int
}

func decodeRecord(t *testing.T, line string) record {
	t.Helper()
	var rec record
	r := jreader.NewReader([]byte(line))
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "msg":
			rec.msg = r.String()
		case "level":
			rec.level = r.String()
		case "time":
			rec.time = r.String()
		case "core":
			rec.core = r.Int()
		case "phase":
			rec.phase = r.String()
		default:
			t.Errorf("unexpected field %q in %s", obj.Name(), line)
			r.SkipValue()
		}
	}
	if err := r.Error(); err != nil {
		t.Fatalf("decoding %q: %v", line, err)
	}
	return rec
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	e.Emit(0, Info, time.Unix(0, 0).UTC(), "mapped %d pages", 3)
	if len(tw.lines) == 0 {
		t.Fatalf("nothing written")
	}
	got := decodeRecord(t, tw.lines[0])
	if got.level != "info" || got.core != BootCore || got.time != "1970-01-01T00:00:00Z" {
		t.Errorf("got level %q core %d time %q", got.level, got.core, got.time)
	}
	if !strings.HasSuffix(got.msg, "] mapped 3 pages") || !strings.HasPrefix(got.msg, "json_test.go:") {
		t.Errorf("unexpected msg %q", got.msg)
	}
}

func TestJSONEmitterPhase(t *testing.T) {
	old := phaseSource.Load()
	t.Cleanup(func() { phaseSource.Store(old) })

	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	phaseSource.Store(nil)
	e.Emit(0, Warning, time.Now(), "before")
	phase := "Init"
	SetPhaseSource(func() string { return phase })
	e.Emit(0, Warning, time.Now(), "during")
	phase = "SingleCoreMain"
	e.Emit(0, Debug, time.Now(), "after")

	var got []string
	for _, l := range tw.lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		rec := decodeRecord(t, l)
		got = append(got, rec.level+"/"+rec.phase)
	}
	if want := "warning/ warning/Init debug/SingleCoreMain"; strings.Join(got, " ") != want {
		t.Errorf("records = %v, want %s", got, want)
	}
}
