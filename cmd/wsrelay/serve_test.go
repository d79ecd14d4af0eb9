package main

import (
	"testing"

	altsrc "github.com/urfave/cli-altsrc/v3"
)

func TestServeCommandFlags(t *testing.T) {
	cmd := serveCommand(altsrc.StringSourcer(""))
	if len(cmd.Flags) == 0 {
		t.Error("serveCommand().Flags should never be empty")
	}
}

func TestDialCommandName(t *testing.T) {
	cmd := dialCommand(altsrc.StringSourcer(""))
	if cmd.Name != "dial" {
		t.Errorf("dialCommand().Name = %q, want %q", cmd.Name, "dial")
	}
}
