package msgsock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network != "tcp" || cfg.ReadChunkSize != defaultReadChunkSize || cfg.MaxMessageSize != 0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
network = "unix"
address = " /tmp/msgsock.sock "
read_chunk_size = 4096
max_message_size = 65536
shutdown_timeout = "5s"
log_level = "debug"
`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	want := Config{
		Network:         "unix",
		Address:         "/tmp/msgsock.sock",
		ReadChunkSize:   4096,
		MaxMessageSize:  65536,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "debug",
	}
	if cfg != want {
		t.Errorf("ParseConfig = %+v, want %+v", cfg, want)
	}
}

func TestParseConfig_PartialKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig(`max_message_size = 10`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	want := DefaultConfig()
	want.MaxMessageSize = 10
	if cfg != want {
		t.Errorf("ParseConfig = %+v, want %+v", cfg, want)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"syntax":           `network = `,
		"unknown key":      `port = 80`,
		"zero chunk":       `read_chunk_size = 0`,
		"negative max":     `max_message_size = -1`,
		"bad duration":     `shutdown_timeout = "soon"`,
		"bad log level":    `log_level = "chatty"`,
		"wrong value type": `read_chunk_size = "big"`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig(doc); err == nil {
				t.Errorf("ParseConfig(%q) succeeded", doc)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgsock.toml")
	if err := os.WriteFile(path, []byte("read_chunk_size = 8\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ReadChunkSize != 8 {
		t.Errorf("ReadChunkSize = %d, want 8", cfg.ReadChunkSize)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadChunkSize = 2
	cfg.MaxMessageSize = 5

	opts := buildOptions(cfg.Options(NopLogger{}))
	if opts.readChunkSize != 2 || opts.maxMessageSize != 5 {
		t.Errorf("options = %+v", opts)
	}
	if _, ok := opts.logger.(NopLogger); !ok {
		t.Errorf("logger = %T, want NopLogger", opts.logger)
	}
}

func TestConfig_Listen(t *testing.T) {
	cfg, err := ParseConfig(`
address = "127.0.0.1:0"
max_message_size = 16
shutdown_timeout = "1ms"
`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	server, err := cfg.Listen(NopLogger{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if server.shutdownTimeout != time.Millisecond {
		t.Errorf("shutdownTimeout = %v", server.shutdownTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, HandlerFunc(func(_ context.Context, conn *Conn) error {
			msg, err := conn.Receive()
			if err != nil {
				return err
			}
			return conn.Send(msg)
		}))
	}()

	client, err := Dial("tcp", server.Addr().String(), cfg.Options(NopLogger{})...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer closeQuietly(client)

	if err := client.Send([]byte("configured")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := receiveString(t, client); got != "configured" {
		t.Errorf("echo = %q", got)
	}

	cancel()
	<-done
}
