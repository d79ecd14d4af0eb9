// Wstest exercises this repository's [WebSocket client] against the
// fuzzing server of the [Autobahn Testsuite].
//
// [WebSocket client]: https://pkg.go.dev/github.com/tzrikka/wsrelay/pkg/websocket
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/tzrikka/wsrelay/internal/logger"
	"github.com/tzrikka/wsrelay/pkg/websocket"
)

const (
	baseURL = "ws://127.0.0.1:9001"
	agent   = "wsrelay"
)

func main() {
	n := getCaseCount()
	log.Info().Int("n", n).Msg("case count")

	// Not implemented in this library (so excluded in "config/fuzzingserver.json"):
	//   - 6.4.*: Fail-fast on invalid UTF-8 frames,
	//   - 12.* and 13.*: WebSocket compression.
	for i := range n {
		runCase(i + 1)
	}

	updateReports()
}

func dial(url string) (*websocket.Conn, error) {
	return websocket.Dial(context.Background(), url)
}

// getCaseCount retrieves the number of enabled test cases from
// the Autobahn fuzzing server, using a WebSocket request.
func getCaseCount() int {
	conn, err := dial(baseURL + "/getCaseCount")
	if err != nil {
		logger.FatalError("dial error", err)
	}

	msg, ok := <-conn.IncomingMessages()
	if !ok {
		log.Debug().Msg("connection closed")
		return 0
	}

	n, err := strconv.Atoi(string(msg.Data))
	if err != nil {
		logger.FatalError("invalid test case count", err)
	}

	return n
}

// updateReports instructs the Autobahn fuzzing server to generate/update
// all the HTML and JSON files for all the test-case results.
func updateReports() {
	log.Info().Msg("updating reports")

	url := fmt.Sprintf("%s/updateReports?agent=%s", baseURL, agent)
	if _, err := dial(url); err != nil {
		logger.FatalError("dial error", err)
	}
}

func runCase(i int) {
	l := log.With().Int("case", i).Logger()
	l.Info().Msg("starting test")

	conn, err := dial(fmt.Sprintf("%s/runCase?case=%d&agent=%s", baseURL, i, agent))
	if err != nil {
		logger.FatalError("dial error", err)
	}

	// Echo loop: the fuzzing server expects every frame it sends to be
	// echoed back unmodified, fragment boundaries aside.
	for msg := range conn.IncomingMessages() {
		cl := l.With().Str("opcode", msg.Opcode.String()).Logger()
		cl.Info().Int("length", len(msg.Data)).Msg("received message")

		switch msg.Opcode {
		case websocket.OpcodeText:
			err = <-conn.SendText(string(msg.Data))
		case websocket.OpcodeBinary:
			err = <-conn.SendBinary(msg.Data)
		default:
			cl.Error().Msg("unexpected opcode in data message")
			return
		}

		if err != nil {
			cl.Error().Err(err).Msg("echo error")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}

	l.Debug().Msg("connection closed")
}
