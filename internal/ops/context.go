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
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
)

// An execution context for stages
type Context struct {
	Log              io.Writer
	MemoryMB         int          // memory.TotalMemory()/1024/1024, unless limited
	BlendMemoryMB    int          // MemoryMB*7/10, budget for pyramid storage
	MaxThreads       int          `json:"maxThreads"`
	RunID            uuid.UUID    // Identifies the run in log output
	Timings         *Timings      // Per-stage latency histograms
}

// Creates a context. Zero maxThreads and memoryMB select all available CPUs and physical memory
func NewContext(log io.Writer, maxThreads, memoryMB int) *Context {
	if memoryMB<=0 {
		memoryMB=int(memory.TotalMemory()/1024/1024)
	}
	if maxThreads<=0 {
		maxThreads=runtime.GOMAXPROCS(0)
	}
	return &Context{
		Log           : log,
		MemoryMB      : memoryMB,
		BlendMemoryMB : memoryMB*7/10,
		MaxThreads    : maxThreads,
		RunID         : uuid.New(),
		Timings       : NewTimings(),
	}
}

// Runs fn for indices 0..n-1 with at most maxThreads goroutines. Returns all errors joined, or nil
func ParallelFor(n, maxThreads int, fn func(i int) error) (err error) {
	if n==0 { return nil }
	if maxThreads<1 { maxThreads=1 }
	limiter:=make(chan bool, maxThreads)
	errs   :=make(chan error, n)
	for i:=0; i<n; i++ {
		limiter <- true
		go func(i int) {
			defer func() { <-limiter }()
			errs <- fn(i)
		}(i)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
	return joinErrors(errs, n)
}

// Collects n results from the channel, and joins the non-nil ones. The first error stays the cause,
// so errors.Is works against its sentinel
func joinErrors(errs chan error, n int) (err error) {
	var msgs []string
	for i:=0; i<n; i++ {
		e := <- errs
		if e==nil { continue }
		if err==nil {
			err=e
		} else {
			msgs=append(msgs, e.Error())
		}
	}
	if err!=nil && len(msgs)>0 {
		err=errors.WithMessage(err, fmt.Sprintf("and %d more: %s", len(msgs), strings.Join(msgs, "; ")))
	}
	return err
}
