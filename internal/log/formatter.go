package log

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	ownPackage    = "firestige.xyz/textcast/internal/log"
	logrusPackage = "github.com/sirupsen/logrus"
)

type formatter struct {
	pattern     string
	time        string
	needsCaller bool
}

// Format renders an entry through the pattern. Supported tokens:
// %time, %level, %field, %msg, %caller, %func, %goroutine, %n.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var frame runtime.Frame
	var located bool
	if f.needsCaller {
		frame, located = callSite()
	}

	output := f.pattern
	output = strings.Replace(output, "%time", entry.Time.Format(f.time), 1)
	output = strings.Replace(output, "%level", entry.Level.String(), 1)
	output = strings.Replace(output, "%field", buildFields(entry), 1)
	output = strings.Replace(output, "%msg", entry.Message, 1)
	output = strings.Replace(output, "%caller", formatCaller(frame, located), 1)
	output = strings.Replace(output, "%func", formatFunc(frame, located), 1)
	output = strings.Replace(output, "%goroutine", getGoroutineID(), 1)
	output = strings.Replace(output, "%n", "\n", 1)
	return []byte(output), nil
}

// callSite walks the stack past the logging machinery and returns the
// first frame beyond it, which is the log site. logrus's own
// report-caller support stops at the first frame outside logrus, i.e.
// this package's adapter, so the walk has to happen here.
func callSite() (runtime.Frame, bool) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !machineryFrame(frame) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

// machineryFrame reports whether the frame belongs to the logging
// machinery rather than a caller. Test files in this package count as
// callers so the formatter stays testable.
func machineryFrame(frame runtime.Frame) bool {
	if strings.Contains(frame.Function, logrusPackage) {
		return true
	}
	return strings.Contains(frame.Function, ownPackage) &&
		!strings.HasSuffix(frame.File, "_test.go")
}

// formatCaller returns "package/file.go:line" for the log site.
func formatCaller(frame runtime.Frame, located bool) string {
	if !located {
		return "unknown"
	}
	file := frame.File
	if idx := strings.LastIndex(file, "/"); idx != -1 && idx+1 < len(file) {
		file = file[idx+1:]
	}
	// frame.Function is "path/to/pkg.(*Type).Method"; the package name
	// is the segment after the last slash, before the first dot.
	pkg := frame.Function
	if idx := strings.LastIndex(pkg, "/"); idx != -1 && idx+1 < len(pkg) {
		pkg = pkg[idx+1:]
	}
	if idx := strings.Index(pkg, "."); idx != -1 {
		pkg = pkg[:idx]
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, frame.Line)
}

// formatFunc returns the bare function or method name of the log site.
func formatFunc(frame runtime.Frame, located bool) string {
	if !located {
		return "unknown"
	}
	name := frame.Function
	if idx := strings.LastIndex(name, "."); idx != -1 && idx+1 < len(name) {
		return name[idx+1:]
	}
	return name
}

// getGoroutineID parses the goroutine id out of the stack header.
func getGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	idField := strings.Fields(stack)
	if len(idField) > 0 {
		return idField[0]
	}
	return "unknown"
}

func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		stringVal, ok := val.(string)
		if !ok {
			stringVal = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+stringVal)
	}
	// Map order is random, sort for stable output.
	sort.Strings(fields)
	return strings.Join(fields, ",")
}
