package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/wsrelay/pkg/metrics"
	"github.com/tzrikka/wsrelay/pkg/websocket"
)

// dialCommand connects to a WebSocket server and relays lines typed on
// stdin as text messages, printing every incoming message to stdout. This
// is the interactive chat-client counterpart to [serveCommand].
func dialCommand(configFilePath altsrc.StringSourcer) *cli.Command {
	return &cli.Command{
		Name:      "dial",
		Usage:     "connect to a WebSocket server as an interactive client",
		ArgsUsage: "<ws-url>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "origin",
				Usage: "Origin header value sent with the opening handshake",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("WSRELAY_ORIGIN"),
					toml.TOML("dial.origin", configFilePath),
				),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			url := cmd.Args().First()
			if url == "" {
				return fmt.Errorf("missing required argument: %s", cmd.ArgsUsage)
			}
			return runClient(ctx, cmd, url)
		},
	}
}

func runClient(ctx context.Context, cmd *cli.Command, url string) error {
	opts := []websocket.DialOpt{}
	if origin := cmd.String("origin"); origin != "" {
		opts = append(opts, websocket.WithHTTPHeader("Origin", origin))
	}

	conn, err := websocket.Dial(ctx, url, opts...)
	if err != nil {
		return err
	}

	metrics.CountConnection(log.Logger, time.Now(), websocket.RoleClient.String(), "opened")
	defer metrics.CountConnection(log.Logger, time.Now(), websocket.RoleClient.String(), "closed")

	go printIncoming(conn)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if err := <-conn.SendText(line); err != nil {
			return err
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
	return scanner.Err()
}

func printIncoming(conn *websocket.Conn) {
	for msg := range conn.IncomingMessages() {
		metrics.CountMessage(log.Logger, time.Now(), msg.Opcode.String(), nil)
		switch msg.Opcode {
		case websocket.OpcodeText:
			fmt.Println(string(msg.Data))
		case websocket.OpcodeBinary:
			fmt.Printf("[binary message: %d bytes]\n", len(msg.Data))
		}
	}

	log.Info().
		Str("status", conn.FinalStatus().String()).
		Str("reason", conn.FinalReason()).
		Msg("connection closed")
}
