// Wsrelay is a demo WebSocket server and client built on top of
// [github.com/tzrikka/wsrelay/pkg/websocket]. It recovers the spirit of
// the examples bundled with the library this project was based on
// (a chat/echo server and an interactive chat client): "serve" runs a
// broadcasting echo server, and "dial" is a line-oriented interactive
// client.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/wsrelay/internal/logger"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "wsrelay"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()
	path := configFile()

	cmd := &cli.Command{
		Name:    "wsrelay",
		Usage:   "WebSocket relay server and client",
		Version: bi.Main.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "pretty-log",
				Usage: "human-readable console logging, instead of JSON",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			initLog(cmd.Bool("pretty-log"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCommand(path),
			dialCommand(path),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// initLog initializes the global zerolog logger, based on whether the
// human-readable console writer was requested instead of JSON output.
func initLog(pretty bool) {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}
