// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package ops

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
)

// Per-stage latency histograms, in microseconds
type Timings struct {
	mutex sync.Mutex
	hists map[string]*hdrhistogram.Histogram
}

func NewTimings() *Timings {
	return &Timings{hists: map[string]*hdrhistogram.Histogram{}}
}

// Records one stage execution. Nil timings discard the sample
func (t *Timings) Record(stage string, d time.Duration) {
	if t==nil { return }
	t.mutex.Lock()
	defer t.mutex.Unlock()
	h, ok:=t.hists[stage]
	if !ok {
		h=hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
		t.hists[stage]=h
	}
	us:=d.Microseconds()
	if us<1 { us=1 }
	h.RecordValue(us)
}

// Number of samples recorded for the stage
func (t *Timings) Count(stage string) int64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if h, ok:=t.hists[stage]; ok { return h.TotalCount() }
	return 0
}

// Prints count, mean, median, 99th percentile and maximum per stage
func (t *Timings) Report(w io.Writer) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	names:=make([]string, 0, len(t.hists))
	for name:=range t.hists {
		names=append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "%-36s %6s %10s %10s %10s %10s\n", "stage", "count", "mean[ms]", "p50[ms]", "p99[ms]", "max[ms]")
	for _,name:=range names {
		h:=t.hists[name]
		fmt.Fprintf(w, "%-36s %6d %10.3f %10.3f %10.3f %10.3f\n", name, h.TotalCount(), h.Mean()/1000,
			float64(h.ValueAtQuantile(50))/1000, float64(h.ValueAtQuantile(99))/1000, float64(h.Max())/1000)
	}
}
