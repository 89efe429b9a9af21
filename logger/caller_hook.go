package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// skippedFramePrefixes lists the packages whose frames never count as the
// call site of a log line.
var skippedFramePrefixes = []string{
	"github.com/sirupsen/logrus",
	"polofeed/logger.",
}

// callerHook rewrites entry.Caller to the first frame outside logrus and the
// Log/Entry wrappers so the "file" field points at feed code.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 20)
	n := runtime.Callers(5, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !skippedFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func skippedFrame(fn string) bool {
	for _, prefix := range skippedFramePrefixes {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
