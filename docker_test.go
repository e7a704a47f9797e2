package azarole_test

import (
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func readDockerfile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readDockerfile(t)

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}
}

func TestDockerfileEntrypointAndHealthcheck(t *testing.T) {
	content := readDockerfile(t)

	if !strings.Contains(content, `ENTRYPOINT ["/azarole"]`) {
		t.Error("Dockerfile should start the azarole binary")
	}
	// distrolessにはcurlがないため、healthcheckサブコマンドを使う
	if !strings.Contains(content, `"/azarole", "healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

type composeFile struct {
	Services map[string]struct {
		Image       string            `yaml:"image"`
		Command     []string          `yaml:"command"`
		Environment map[string]string `yaml:"environment"`
		Networks    []string          `yaml:"networks"`
	} `yaml:"services"`
	Networks map[string]struct {
		Internal bool `yaml:"internal"`
	} `yaml:"networks"`
}

func readCompose(t *testing.T) composeFile {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}
	var c composeFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		t.Fatalf("failed to parse docker-compose.yml: %v", err)
	}
	return c
}

func TestDockerComposeServices(t *testing.T) {
	c := readCompose(t)

	for _, name := range []string{"api", "migrate", "db", "redis"} {
		if _, ok := c.Services[name]; !ok {
			t.Errorf("docker-compose.yml should contain service %q", name)
		}
	}
	if img := c.Services["db"].Image; !strings.HasPrefix(img, "postgres:") {
		t.Errorf("db image = %q, want postgres", img)
	}
	if cmd := c.Services["migrate"].Command; len(cmd) != 1 || cmd[0] != "migrate" {
		t.Errorf("migrate command = %v", cmd)
	}
}

func TestDockerComposeSecretsFromEnvironment(t *testing.T) {
	c := readCompose(t)

	// 秘密情報はcomposeファイルに直接書かない
	for _, key := range []string{"GOOGLE_AUTH_CLIENT_SECRET", "API_KEY_DIGESTING_SECRET_KEY", "SESSION_KEY"} {
		v, ok := c.Services["api"].Environment[key]
		if !ok {
			t.Errorf("api should receive %s", key)
			continue
		}
		if !strings.HasPrefix(v, "${") {
			t.Errorf("%s should be passed through from the host environment, got %q", key, v)
		}
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	c := readCompose(t)

	if !c.Networks["backend"].Internal {
		t.Error("backend network should be internal")
	}
	// IdPへの通信が必要なのはapiのみ
	for name, svc := range c.Services {
		external := false
		for _, n := range svc.Networks {
			if n == "external" {
				external = true
			}
		}
		if external != (name == "api") {
			t.Errorf("service %q external network = %v", name, external)
		}
	}
}
