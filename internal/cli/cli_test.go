package cli

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/spikeload/internal/performance/config"
)

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func statusServer(t *testing.T, status int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_FlagsProfile(t *testing.T) {
	var hits atomic.Int64
	server := statusServer(t, http.StatusOK, &hits)
	resultPath := filepath.Join(t.TempDir(), "out", "result.json")

	out, err := executeCmd(t, "run",
		"--url", server.URL,
		"--stages", "0s:2,300ms:2",
		"--sleep", "10ms",
		"--out", resultPath)
	require.NoError(t, err)

	assert.Contains(t, out, "sudden-spike")
	assert.Contains(t, out, "jump to 2 VUs")
	assert.Contains(t, out, "PASSED")

	data, err := os.ReadFile(resultPath)
	require.NoError(t, err)
	assert.Equal(t, hits.Load(), gjson.GetBytes(data, "metrics.totalRequests").Int())
	assert.Greater(t, hits.Load(), int64(2))
	assert.Equal(t, int64(2), gjson.GetBytes(data, "maxVUs").Int())
}

func TestRun_ConfigFileThresholdFails(t *testing.T) {
	var hits atomic.Int64
	server := statusServer(t, http.StatusServiceUnavailable, &hits)

	path := writeFile(t, "spike.yaml", `
name: failing
stages:
  - duration: 0
    target: 1
  - duration: 200ms
    target: 1
sleep: 10ms
requests:
  - url: "{{baseUrl}}/info"
thresholds:
  http_req_failed: ["rate < 0.01"]
`)

	out, err := executeCmd(t, "run", "--config", path, "--url", server.URL, "--quiet")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrThresholdsFailed), "got %v", err)
	assert.Equal(t, "FAILED", strings.TrimSpace(out))
	assert.Greater(t, hits.Load(), int64(0))
}

func TestRun_EnvBinding(t *testing.T) {
	var hits atomic.Int64
	server := statusServer(t, http.StatusOK, &hits)

	t.Setenv("SPIKELOAD_URL", server.URL)
	t.Setenv("SPIKELOAD_STAGES", "0s:1,200ms:1")
	t.Setenv("SPIKELOAD_SLEEP", "10ms")

	out, err := executeCmd(t, "run", "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "PASSED", strings.TrimSpace(out))
	assert.Greater(t, hits.Load(), int64(0), "requests should go to the URL from the environment")
}

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad stages", []string{"run", "--stages", "bogus"}, "invalid configuration"},
		{"negative sleep", []string{"run", "--stages", "1s:1", "--sleep", "-1s"}, "sleep"},
		{"missing config", []string{"run", "--config", "/does/not/exist.yaml"}, "failed to read config file"},
		{"bad log level", []string{"run", "--log-level", "loud"}, "invalid log level"},
		{"unexpected arg", []string{"run", "extra"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCmd(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildConfig_Defaults(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	v, err := bindFlags(cmd)
	require.NoError(t, err)

	cfg, err := buildConfig(v)
	require.NoError(t, err)

	assert.Equal(t, config.SpikeProfile(""), cfg)
}

func TestBuildConfig_Overrides(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--url", "http://localhost:9000/info",
		"--stages", "10s:5,20s:5",
		"--sleep", "250ms",
		"--start-vus", "2",
		"--graceful-stop", "5s",
		"--max-rps", "40",
	}))
	v, err := bindFlags(cmd)
	require.NoError(t, err)

	cfg, err := buildConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/info", cfg.Requests[0].URL)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, config.Duration(10*time.Second), cfg.Stages[0].Duration)
	assert.Equal(t, 5, cfg.Stages[1].Target)
	require.NotNil(t, cfg.Sleep)
	assert.Equal(t, config.Duration(250*time.Millisecond), *cfg.Sleep)
	assert.Equal(t, 2, cfg.StartVUs)
	assert.Equal(t, config.Duration(5*time.Second), cfg.GracefulStop)
	assert.Equal(t, 40.0, cfg.Settings.MaxRPS)
}

func TestBuildConfig_ConfigFileKeepsItsValues(t *testing.T) {
	path := writeFile(t, "spike.json", `{
  "name": "from-file",
  "stages": [{"duration": "30s", "target": 3}],
  "pacing": {"type": "constant", "duration": "2s"},
  "requests": [{"url": "{{baseUrl}}/info"}]
}`)

	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--url", "http://api.local"}))
	v, err := bindFlags(cmd)
	require.NoError(t, err)

	cfg, err := buildConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, "http://api.local", cfg.Settings.BaseURL)
	assert.Nil(t, cfg.Sleep, "unset --sleep must not override the file")
	require.NotNil(t, cfg.Pacing)
	assert.Equal(t, "constant", cfg.Pacing.Type)
}

func TestValidate(t *testing.T) {
	path := writeFile(t, "spike.yaml", `
name: sudden-spike
stages:
  - {duration: 1m, target: 10}
  - {duration: 1m, target: 50}
  - {duration: 5m, target: 50}
requests:
  - url: http://localhost:8080/info
`)

	out, err := executeCmd(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ramp 0 → 10 VUs")
	assert.Contains(t, out, "hold 50 VUs")
	assert.Contains(t, out, "Duration: 7m 00s")
	assert.Contains(t, out, "is valid")
}

func TestValidate_Invalid(t *testing.T) {
	schemaErr := writeFile(t, "bad.yaml", `
stages:
  - {duration: 1m, target: -1}
requests:
  - url: http://localhost
`)
	_, err := executeCmd(t, "validate", schemaErr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stages[0].target")

	semanticErr := writeFile(t, "post.yaml", `
stages:
  - {duration: 1m, target: 1}
requests:
  - {url: http://localhost, method: POST}
`)
	_, err = executeCmd(t, "validate", semanticErr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only GET is supported")

	_, err = executeCmd(t, "validate")
	assert.Error(t, err)
}

func TestValidate_Schema(t *testing.T) {
	out, err := executeCmd(t, "validate", "--schema")
	require.NoError(t, err)
	assert.True(t, gjson.Valid(out), "schema output should be JSON")
	assert.True(t, gjson.Get(out, "properties.stages").Exists())

	_, err = executeCmd(t, "validate", "--schema", "spike.yaml")
	assert.Error(t, err)
}

const savedResult = `{
  "runId": "0b9f6a1c-3d2e-4c55-9a10-7f3e2d1c0b9a",
  "name": "sudden-spike",
  "passed": false,
  "interrupted": false,
  "duration": 420000000000,
  "iterations": 18000,
  "metrics": {"totalRequests": 18000, "failedRequests": 12, "errorRate": 0.00066, "rps": 42.8,
              "latency": {"p95": 120000000}},
  "thresholds": [
    {"metric": "http_req_duration", "expression": "p95 < 100ms", "passed": false},
    {"metric": "http_req_failed", "expression": "rate < 0.01", "passed": true}
  ]
}`

func TestInspect(t *testing.T) {
	path := writeFile(t, "result.json", savedResult)

	out, err := executeCmd(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "name: sudden-spike")
	assert.Contains(t, out, "metrics.totalRequests: 18000")
	assert.Contains(t, out, "passed: false")

	out, err = executeCmd(t, "inspect", path, "$.metrics.latency.p95")
	require.NoError(t, err)
	assert.Equal(t, "120000000", strings.TrimSpace(out))

	out, err = executeCmd(t, "inspect", path, "thresholds.#(passed==false)#.expression", "iterations")
	require.NoError(t, err)
	assert.Contains(t, out, `["p95 < 100ms"]`)
	assert.Contains(t, out, "iterations: 18000")

	_, err = executeCmd(t, "inspect", path, "$.nope")
	assert.ErrorContains(t, err, "path not found")

	_, err = executeCmd(t, "inspect", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read result")
}

func TestInspect_DigestSkipsMissingFields(t *testing.T) {
	partial := writeFile(t, "partial.json", `{"name": "cut-short", "passed": true}`)

	out, err := executeCmd(t, "inspect", partial)
	require.NoError(t, err)
	assert.Equal(t, "name: cut-short\npassed: true\n", out)

	empty := writeFile(t, "empty.json", `{}`)
	_, err = executeCmd(t, "inspect", empty)
	assert.ErrorContains(t, err, "no result fields found")
}

func TestRootHelp(t *testing.T) {
	out, err := executeCmd(t)
	require.NoError(t, err)
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "validate")
	assert.Contains(t, out, "inspect")

	out, err = executeCmd(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
