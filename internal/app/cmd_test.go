package app

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []string{"serve", "migrate", "healthcheck"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Errorf("Find(%q) error = %v", name, err)
			continue
		}
		if cmd.Name() != name {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}

	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config flag")
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	if err := Run(&bytes.Buffer{}, []string{"worker"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRun_ServeWithMissingConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SESSION_KEY", "")

	for _, args := range [][]string{{"serve"}, {}, {"migrate"}} {
		if err := Run(&bytes.Buffer{}, args); err == nil {
			t.Errorf("Run(%v) should fail without SESSION_KEY", args)
		}
	}
}

func TestRun_ServeWithMissingConfigFile_ReturnsError(t *testing.T) {
	setTestEnv(t)

	err := Run(&bytes.Buffer{}, []string{"serve", "--config", "/nonexistent/azarole.yml"})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func serverPort(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse url: %v", err)
	}
	_, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("failed to split host: %v", err)
	}
	return port
}

func TestRun_Healthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK},
		{name: "unhealthy", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := Run(&bytes.Buffer{}, []string{"healthcheck", "--port", serverPort(t, srv.URL)})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_HealthcheckUsesServerPortEnv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("SERVER_PORT", serverPort(t, srv.URL))

	if err := Run(&bytes.Buffer{}, []string{"healthcheck"}); err != nil {
		t.Errorf("healthcheck error = %v", err)
	}
}
