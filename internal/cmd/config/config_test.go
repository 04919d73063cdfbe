package config

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"

	appconfig "github.com/ironham/conductor/internal/config"
)

func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestRegister(t *testing.T) {
	root := &cobra.Command{Use: "root"}
	Register(root)

	found := false
	for _, c := range root.Commands() {
		if c.Use == "config" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a config subcommand to be registered")
	}
}

func TestRunShow(t *testing.T) {
	appconfig.SetDefaults()

	out := captureStdout(func() {
		if err := runShow(configCmd, nil); err != nil {
			t.Errorf("runShow returned error: %v", err)
		}
	})
	if out == "" {
		t.Error("expected runShow to print something")
	}
}

func TestRunPath(t *testing.T) {
	out := captureStdout(func() {
		if err := runPath(pathCmd, nil); err != nil {
			t.Errorf("runPath returned error: %v", err)
		}
	})
	if out == "" {
		t.Error("expected runPath to print something")
	}
}
