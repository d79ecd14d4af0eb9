// Package metrics records simple connection and message counters for the
// WebSocket endpoint library to local CSV files, one per day. It does not
// depend on any metrics backend - it is meant for the small, self-hosted
// deployments that [cmd/wsrelay] targets.
//
// [cmd/wsrelay]: https://pkg.go.dev/github.com/tzrikka/wsrelay/cmd/wsrelay
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tzrikka/xdg"
)

const (
	DefaultMetricsFileConnections = "metrics/wsrelay_connections_%s.csv"
	DefaultMetricsFileMessages    = "metrics/wsrelay_messages_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

var (
	muConn sync.Mutex
	muMsg  sync.Mutex
)

// CountConnection records a single WebSocket connection's lifecycle event
// (e.g. "opened" or "closed") for the given role ("client" or "server").
func CountConnection(l zerolog.Logger, t time.Time, role, event string) {
	muConn.Lock()
	defer muConn.Unlock()

	record := []string{t.Format(time.RFC3339), role, event}
	if err := appendToCSVFile(DefaultMetricsFileConnections, t, record); err != nil {
		l.Error().Err(err).Str("role", role).Str("event", event).
			Msg("metrics error: failed to count connection event")
	}
}

// CountMessage records a single incoming or outgoing WebSocket message, and
// its opcode. The error argument, when non-nil, is the reason the message
// could not be delivered (e.g. a protocol violation that closed the
// connection); it is recorded instead of treated as a logging failure.
func CountMessage(l zerolog.Logger, t time.Time, opcode string, msgErr error) {
	muMsg.Lock()
	defer muMsg.Unlock()

	errMsg := ""
	if msgErr != nil {
		errMsg = msgErr.Error()
	}

	record := []string{t.Format(time.RFC3339), opcode, errMsg}
	if err := appendToCSVFile(DefaultMetricsFileMessages, t, record); err != nil {
		l.Error().Err(err).Str("opcode", opcode).Msg("metrics error: failed to count message")
	}
}

func appendToCSVFile(filename string, t time.Time, record []string) error {
	filename = fmt.Sprintf(filename, t.Format(time.DateOnly))
	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return nil
}
