package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetSink(&buf)
	defer SetSink(os.Stdout)

	l := New("gating")
	l.Debugf("below the default level")
	l.Noticef("above the default level")

	out := buf.String()
	if strings.Contains(out, "below the default level") {
		t.Fatalf("expected debug output to be dropped at the default level; got %q", out)
	}
	if !strings.Contains(out, "above the default level") {
		t.Fatalf("expected notice output to pass the default level; got %q", out)
	}
	if !strings.Contains(out, "gating") {
		t.Fatalf("expected the module name in the output; got %q", out)
	}

	SetLevel(Debug)
	l.Debugf("raised verbosity")
	if !strings.Contains(buf.String(), "raised verbosity") {
		t.Fatalf("expected debug output after raising the level; got %q", buf.String())
	}
}
