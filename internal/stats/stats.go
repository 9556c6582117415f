// Package stats holds kernel-wide event counters, toggled off by
// default so the counting adds no overhead to the hot paths that
// increment them. Grounded on biscuit's stats.Counter_t/Stats2String
// (biscuit/src/stats/stats.go), kept as atomic counters gated by a
// package-level flag; Rdtsc-based cycle timing is dropped since this
// kernel has no runtime.Rdtsc intrinsic to call.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Enabled gates whether Counter.Inc does any work, mirroring the
// teacher's const Stats bool but settable at runtime for tests.
var Enabled = false

// Counter is a statistical event counter.
type Counter int64

// Inc increments the counter by one when Enabled.
func (c *Counter) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add increments the counter by n when Enabled.
func (c *Counter) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

// Kernel is the global set of kernel-wide counters, each incremented
// from the subsystem it instruments.
var Kernel = &struct {
	Syscalls        Counter
	PageFaults      Counter
	ContextSwitches Counter
	Forks           Counter
	Execs           Counter
	CacheHits       Counter
	CacheMisses     Counter
	CacheEvictions  Counter
}{}

// String renders every Counter field of st as a line, mirroring the
// teacher's Stats2String: reflect over the struct so any counter
// struct, not just Kernel, can be dumped the same way.
func String(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var s strings.Builder
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter") {
			n := v.Field(i).Interface().(Counter)
			s.WriteString("\n\t#")
			s.WriteString(v.Type().Field(i).Name)
			s.WriteString(": ")
			s.WriteString(strconv.FormatInt(int64(n), 10))
		}
	}
	s.WriteString("\n")
	return s.String()
}
