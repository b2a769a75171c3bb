package logging

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// LineFormatter renders one entry per line:
//
//	[2026-03-02 10:11:12] [a1b2c3d4] [info ] [client.go:88] message op=poll state=polling
//
// Only the fields listed in lineFields are appended, in that order.
type LineFormatter struct{}

var lineFields = [...]string{"op", "provider_address", "state", "status", "store", "wallet", "session_address", "error"}

const noRequestID = "--------"

// Format implements logrus.Formatter.
func (LineFormatter) Format(entry *log.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = new(bytes.Buffer)
	}

	reqID, _ := entry.Data["request_id"].(string)
	if reqID == "" {
		reqID = noRequestID
	}
	level := entry.Level.String()
	if entry.Level == log.WarnLevel {
		level = "warn"
	}

	_, _ = fmt.Fprintf(buf, "[%s] [%s] [%-5s] ", entry.Time.Format(time.DateTime), reqID, level)
	if entry.Caller != nil {
		_, _ = fmt.Fprintf(buf, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buf.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	for _, key := range lineFields {
		if v, ok := entry.Data[key]; ok {
			_, _ = fmt.Fprintf(buf, " %s=%v", key, v)
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
