package main

import (
	"context"
	"net"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/wsrelay/pkg/metrics"
	"github.com/tzrikka/wsrelay/pkg/websocket"
)

const (
	DefaultListenAddr = ":8080"
)

// serveCommand runs a WebSocket server that echoes every incoming text or
// binary message back to all currently connected clients, mirroring the
// chat/echo servers bundled as usage examples by the library this project
// is based on.
func serveCommand(configFilePath altsrc.StringSourcer) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run a broadcasting WebSocket echo server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "TCP address to accept WebSocket connections on",
				Value: DefaultListenAddr,
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("WSRELAY_LISTEN_ADDR"),
					toml.TOML("serve.listen_addr", configFilePath),
				),
			},
			&cli.IntFlag{
				Name:  "handshake-timeout",
				Usage: "seconds to wait for a client's opening handshake",
				Value: 10,
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("WSRELAY_HANDSHAKE_TIMEOUT"),
					toml.TOML("serve.handshake_timeout", configFilePath),
				),
			},
			&cli.UintFlag{
				Name:  "max-payload",
				Usage: "maximum WebSocket message size in bytes, 0 for the library default",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("WSRELAY_MAX_PAYLOAD"),
					toml.TOML("serve.max_payload", configFilePath),
				),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServer(ctx, cmd)
		},
	}
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("listen-addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Close()

	log.Info().Str("addr", addr).Msg("WebSocket server listening")

	opts := []websocket.AcceptOpt{
		websocket.WithHandshakeTimeout(cmd.Int("handshake-timeout")),
	}
	if n := cmd.Uint("max-payload"); n > 0 {
		opts = append(opts, websocket.WithServerMaxPayload(n))
	}

	return websocket.Serve(ctx, ln, func(conn *websocket.Conn) {
		handleConnection(hub, conn)
	}, opts...)
}

func handleConnection(hub *websocket.Hub, conn *websocket.Conn) {
	id := shortuuid.New()
	l := log.With().Str("conn", id).Logger()

	metrics.CountConnection(l, time.Now(), websocket.RoleServer.String(), "opened")
	hub.Register(conn)
	defer func() {
		hub.Unregister(conn)
		metrics.CountConnection(l, time.Now(), websocket.RoleServer.String(), "closed")
	}()

	for msg := range conn.IncomingMessages() {
		metrics.CountMessage(l, time.Now(), msg.Opcode.String(), nil)

		switch msg.Opcode {
		case websocket.OpcodeText:
			hub.BroadcastText(string(msg.Data))
		case websocket.OpcodeBinary:
			hub.Broadcast(msg.Data)
		}
	}

	l.Debug().
		Str("status", conn.FinalStatus().String()).
		Str("reason", conn.FinalReason()).
		Msg("connection closed")
}
