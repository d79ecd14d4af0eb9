package metrics_test

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tzrikka/wsrelay/pkg/metrics"
)

func TestCountConnection(t *testing.T) {
	t.Chdir(t.TempDir())
	now := time.Now().UTC()

	if err := os.Mkdir("metrics", 0o700); err != nil {
		t.Fatal(err)
	}

	metrics.CountConnection(zerolog.Nop(), now, "server", "opened")

	f, err := os.ReadFile(fmt.Sprintf(metrics.DefaultMetricsFileConnections, now.Format(time.DateOnly)))
	if err != nil {
		t.Fatal(err)
	}

	got := string(f)
	want := now.Format(time.RFC3339) + ",server,opened\n"
	if got != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}

func TestCountMessage(t *testing.T) {
	t.Chdir(t.TempDir())
	now := time.Now().UTC()

	if err := os.Mkdir("metrics", 0o700); err != nil {
		t.Fatal(err)
	}

	metrics.CountMessage(zerolog.Nop(), now, "text", nil)
	metrics.CountMessage(zerolog.Nop(), now, "close", errors.New("protocol error"))

	f, err := os.ReadFile(fmt.Sprintf(metrics.DefaultMetricsFileMessages, now.Format(time.DateOnly)))
	if err != nil {
		t.Fatal(err)
	}

	got := string(f)
	ts := now.Format(time.RFC3339)
	want := fmt.Sprintf("%s,text,\n%s,close,protocol error\n", ts, ts)
	if got != want {
		t.Errorf("file content = %q, want %q", got, want)
	}
}
