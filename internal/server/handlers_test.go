package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"docshook/internal/config"
	"docshook/internal/deployment"
	"docshook/internal/history"
	"docshook/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-chars-long-here"

const pushPayload = `{"ref":"refs/heads/main","after":"6113728f27ae82c7b1a177c8d03f9e96e0adf246","repository":{"full_name":"openagents/docs"}}`

type testEnv struct {
	server    *Server
	deployLog string
	workDir   string
}

func setupTestServer(t *testing.T, commands ...string) *testEnv {
	t.Helper()

	tmpDir := t.TempDir()
	siteDir := filepath.Join(tmpDir, "site")
	workDir := filepath.Join(tmpDir, "work")
	require.NoError(t, os.MkdirAll(siteDir, 0755))
	require.NoError(t, os.MkdirAll(workDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "index.html"), []byte("<h1>docs</h1>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "guide.html"), []byte("<h1>guide</h1>"), 0644))

	if len(commands) == 0 {
		commands = []string{"echo built"}
	}

	cfg := config.Default()
	cfg.SiteDir = siteDir
	cfg.WorkDir = workDir
	cfg.Commands = commands
	cfg.DeployLog = filepath.Join(tmpDir, "deployment.log")
	cfg.DeployTimeout = 10 * time.Second
	cfg.Secret = []byte(testSecret)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Test mode: no rate limiting, no history
	return &testEnv{
		server:    NewServer(cfg, nil, logger, true),
		deployLog: cfg.DeployLog,
		workDir:   workDir,
	}
}

func (e *testEnv) withHistory(t *testing.T) *history.History {
	t.Helper()

	hist, err := history.NewHistory(filepath.Join(t.TempDir(), "deployments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	e.server.History = hist
	return hist
}

func (e *testEnv) logContents(t *testing.T) string {
	t.Helper()

	data, err := os.ReadFile(e.deployLog)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func newWebhookRequest(event string, payload []byte, signatureHeader string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, config.DefaultWebhookPath, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	if signatureHeader != "" {
		req.Header.Set("X-Hub-Signature-256", signatureHeader)
	}
	return req
}

func signedPush(payload string) *http.Request {
	return newWebhookRequest("push", []byte(payload), signature.Sign([]byte(testSecret), []byte(payload)))
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func assertResponse(t *testing.T, rr *httptest.ResponseRecorder, status int, body string) {
	t.Helper()

	assert.Equal(t, status, rr.Code)
	assert.Equal(t, body, rr.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
}

func TestHandleWebhook_Rejections(t *testing.T) {
	payload := []byte(pushPayload)
	valid := signature.Sign([]byte(testSecret), payload)

	testCases := []struct {
		name   string
		req    *http.Request
		status int
		body   string
	}{
		{"ping event", newWebhookRequest("ping", payload, valid), http.StatusBadRequest, "Unsupported event"},
		{"missing event header", newWebhookRequest("", payload, valid), http.StatusBadRequest, "Unsupported event"},
		{"event is case sensitive", newWebhookRequest("Push", payload, valid), http.StatusBadRequest, "Unsupported event"},
		{"missing signature", newWebhookRequest("push", payload, ""), http.StatusBadRequest, "Missing signature"},
		{"wrong secret", newWebhookRequest("push", payload, signature.Sign([]byte("another-secret-32-chars-long-xxxxxx"), payload)), http.StatusBadRequest, "Invalid signature"},
		{"malformed signature", newWebhookRequest("push", payload, "sha256=not-hex"), http.StatusBadRequest, "Invalid signature"},
		{"sha1 signature", newWebhookRequest("push", payload, "sha1="+strings.TrimPrefix(valid, "sha256=")), http.StatusBadRequest, "Invalid signature"},
		{"tampered payload", newWebhookRequest("push", append([]byte(pushPayload), ' '), valid), http.StatusBadRequest, "Invalid signature"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTestServer(t, "touch deployed")

			rr := serve(env.server, tc.req)

			assertResponse(t, rr, tc.status, tc.body)
			assert.Empty(t, env.logContents(t), "rejected deliveries must not reach the deployment log")
			assert.NoFileExists(t, filepath.Join(env.workDir, "deployed"), "rejected deliveries must not deploy")
		})
	}
}

func TestHandleWebhook_NonPushWithoutSecret(t *testing.T) {
	env := setupTestServer(t)
	env.server.Config.Secret = nil

	rr := serve(env.server, newWebhookRequest("issues", []byte(`{}`), ""))

	assertResponse(t, rr, http.StatusBadRequest, "Unsupported event")
}

func TestHandleWebhook_MissingSecret(t *testing.T) {
	env := setupTestServer(t)
	env.server.Config.Secret = nil

	rr := serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusInternalServerError, "Missing secret")
	assert.Empty(t, env.logContents(t))
}

func TestHandleWebhook_MissingSignatureCheckedBeforeSecret(t *testing.T) {
	env := setupTestServer(t)
	env.server.Config.Secret = nil

	rr := serve(env.server, newWebhookRequest("push", []byte(pushPayload), ""))

	assertResponse(t, rr, http.StatusBadRequest, "Missing signature")
}

func TestHandleWebhook_Success(t *testing.T) {
	env := setupTestServer(t, "echo built the docs")

	rr := serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusOK, "Deployment successful")

	contents := env.logContents(t)
	assert.Equal(t, 1, strings.Count(contents, "=== deployment "))
	assert.Contains(t, contents, " success ===")
	assert.Contains(t, contents, "built the docs")
	assert.NotContains(t, contents, "--- error ---")
}

func TestHandleWebhook_Failure(t *testing.T) {
	env := setupTestServer(t, `sh -c "echo compile error >&2; exit 3"`)

	rr := serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusInternalServerError, "Deployment failed")

	contents := env.logContents(t)
	assert.Equal(t, 1, strings.Count(contents, "=== deployment "))
	assert.Contains(t, contents, " failure ===")
	assert.Contains(t, contents, "compile error")
	assert.Contains(t, contents, "--- error ---")
	assert.Contains(t, contents, "exited with code 3")
}

func TestHandleWebhook_SequentialDeliveriesLoggedInOrder(t *testing.T) {
	counter := `sh -c 'n=$(cat n 2>/dev/null || echo 0); n=$((n+1)); echo $n > n; echo run-$n'`
	env := setupTestServer(t, counter)

	for i := 0; i < 2; i++ {
		rr := serve(env.server, signedPush(pushPayload))
		assertResponse(t, rr, http.StatusOK, "Deployment successful")
	}

	contents := env.logContents(t)
	require.Equal(t, 2, strings.Count(contents, "=== deployment "))

	first := strings.Index(contents, "run-1")
	second := strings.Index(contents, "run-2")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second)
}

func TestHandleWebhook_RedactsSecretFromLog(t *testing.T) {
	env := setupTestServer(t, "echo "+testSecret)

	rr := serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusOK, "Deployment successful")
	contents := env.logContents(t)
	assert.NotContains(t, contents, testSecret)
	assert.Contains(t, contents, "***REDACTED***")
}

func TestHandleWebhook_InvalidJSONStillDeploys(t *testing.T) {
	env := setupTestServer(t)

	rr := serve(env.server, signedPush("not json"))

	assertResponse(t, rr, http.StatusOK, "Deployment successful")
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	env := setupTestServer(t)

	largePayload := make([]byte, MaxPayloadBytes+1)
	rr := serve(env.server, newWebhookRequest("push", largePayload, "sha256=00"))

	assertResponse(t, rr, http.StatusRequestEntityTooLarge, "Payload too large")
	assert.Empty(t, env.logContents(t))
}

func TestHandleWebhook_ReadFailure(t *testing.T) {
	env := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, config.DefaultWebhookPath, io.MultiReader(strings.NewReader("{"), errReader{}))
	req.Header.Set("X-GitHub-Event", "push")

	rr := serve(env.server, req)

	assertResponse(t, rr, http.StatusBadRequest, "Failed to read payload")
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestHandleWebhook_BusyWhenGateHeld(t *testing.T) {
	env := setupTestServer(t, "touch deployed")
	require.True(t, env.server.Gate.TryAcquire())
	defer env.server.Gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rr := serve(env.server, signedPush(pushPayload).WithContext(ctx))

	assertResponse(t, rr, http.StatusServiceUnavailable, "Deployment busy")
	assert.Empty(t, env.logContents(t))
	assert.NoFileExists(t, filepath.Join(env.workDir, "deployed"))
}

func TestHandleWebhook_WaitsForRunningDeployment(t *testing.T) {
	env := setupTestServer(t)
	require.True(t, env.server.Gate.TryAcquire())

	go func() {
		time.Sleep(50 * time.Millisecond)
		env.server.Gate.Release()
	}()

	rr := serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusOK, "Deployment successful")
	assert.False(t, env.server.Gate.Busy())
}

func TestHandleWebhook_RecordsHistory(t *testing.T) {
	env := setupTestServer(t)
	hist := env.withHistory(t)

	rr := serve(env.server, signedPush(pushPayload))
	require.Equal(t, http.StatusOK, rr.Code)

	latest, err := hist.GetLatestDeployment(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)

	assert.Equal(t, "success", latest.Status)
	require.NotNil(t, latest.Ref)
	assert.Equal(t, "refs/heads/main", *latest.Ref)
	require.NotNil(t, latest.CommitHash)
	assert.Equal(t, "6113728f27ae82c7b1a177c8d03f9e96e0adf246", *latest.CommitHash)
	require.NotNil(t, latest.DeliveryID)
	assert.Equal(t, "72d3162e-cc78-11e3-81ab-4c9367dc0958", *latest.DeliveryID)
}

func TestHandleWebhook_LogWriteFailureKeepsResponse(t *testing.T) {
	env := setupTestServer(t)
	// A directory in place of the log file makes every append fail
	require.NoError(t, os.MkdirAll(env.deployLog, 0755))

	rr := serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusOK, "Deployment successful")
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	rr := serve(env.server, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, true, response["secret_configured"])
	assert.Equal(t, false, response["deploying"])
	assert.NotContains(t, rr.Body.String(), testSecret)
}

func TestHandleHealth_ReportsDeploying(t *testing.T) {
	env := setupTestServer(t)
	env.server.Config.Secret = nil
	require.True(t, env.server.Gate.TryAcquire())
	defer env.server.Gate.Release()

	rr := serve(env.server, httptest.NewRequest(http.MethodGet, "/health", nil))

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, false, response["secret_configured"])
	assert.Equal(t, true, response["deploying"])
}

func TestHandleStatus_NoHistory(t *testing.T) {
	env := setupTestServer(t)

	rr := serve(env.server, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleStatus_Success(t *testing.T) {
	env := setupTestServer(t)
	env.withHistory(t)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(env.server, signedPush(pushPayload)).Code)
	}

	rr := serve(env.server, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Latest *history.DeploymentRecord  `json:"latest_deployment"`
		Recent []history.DeploymentRecord `json:"recent_deployments"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	require.NotNil(t, response.Latest)
	assert.Equal(t, "success", response.Latest.Status)
	require.Len(t, response.Recent, 2)
	assert.Equal(t, response.Latest.AttemptID, response.Recent[0].AttemptID)
}

func TestSiteHandler(t *testing.T) {
	env := setupTestServer(t)

	testCases := map[string]string{
		"/":           "<h1>docs</h1>",
		"/guide.html": "<h1>guide</h1>",
	}
	for path, want := range testCases {
		rr := serve(env.server, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Contains(t, rr.Body.String(), want, path)
	}

	rr := serve(env.server, httptest.NewRequest(http.MethodGet, "/missing.html", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CustomWebhookPath(t *testing.T) {
	env := setupTestServer(t)
	env.server.Config.WebhookPath = "/hooks/docs"

	payload := []byte(pushPayload)
	req := httptest.NewRequest(http.MethodPost, "/hooks/docs", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signature.Sign([]byte(testSecret), payload))

	rr := serve(env.server, req)

	assertResponse(t, rr, http.StatusOK, "Deployment successful")
}

func TestHandleWebhook_QueuedDeliveryKeepsResponse(t *testing.T) {
	env := setupTestServer(t, "sleep 0.8")
	env.server.Config.DeployTimeout = time.Second
	env.server.Trigger.Timeout = time.Second
	env.server.writeMargin = 200 * time.Millisecond

	ts := httptest.NewUnstartedServer(env.server.Router())
	ts.Config.WriteTimeout = env.server.WriteTimeout()
	ts.Start()
	defer ts.Close()

	payload := []byte(pushPayload)
	sig := signature.Sign([]byte(testSecret), payload)

	type outcome struct {
		status int
		body   string
		err    error
	}
	results := make([]outcome, 2)

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// The second delivery arrives while the first is deploying
			time.Sleep(time.Duration(i) * 50 * time.Millisecond)

			req, err := http.NewRequest(http.MethodPost, ts.URL+config.DefaultWebhookPath, bytes.NewReader(payload))
			if err != nil {
				results[i].err = err
				return
			}
			req.Header.Set("X-GitHub-Event", "push")
			req.Header.Set("X-Hub-Signature-256", sig)

			resp, err := ts.Client().Do(req)
			if err != nil {
				results[i].err = err
				return
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			results[i] = outcome{status: resp.StatusCode, body: string(body), err: err}
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.NoError(t, r.err, "delivery %d", i)
		assert.Equal(t, http.StatusOK, r.status, "delivery %d", i)
		assert.Equal(t, "Deployment successful", r.body, "delivery %d", i)
	}
	assert.Equal(t, 2, strings.Count(env.logContents(t), "=== deployment "))
}

func TestHandleWebhook_QueueWaitIsBounded(t *testing.T) {
	env := setupTestServer(t, "touch deployed")
	env.server.Config.DeployTimeout = 100 * time.Millisecond
	require.True(t, env.server.Gate.TryAcquire())
	defer env.server.Gate.Release()

	start := time.Now()
	rr := serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusServiceUnavailable, "Deployment busy")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NoFileExists(t, filepath.Join(env.workDir, "deployed"))
}

func TestHandleWebhook_PanicReleasesGate(t *testing.T) {
	env := setupTestServer(t)
	env.server.Trigger = nil

	rr := serve(env.server, signedPush(pushPayload))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, env.server.Gate.Busy(), "gate must be released after a panic")

	env.server.Trigger = deployment.NewTrigger(env.workDir, []string{"echo recovered"})
	rr = serve(env.server, signedPush(pushPayload))

	assertResponse(t, rr, http.StatusOK, "Deployment successful")
}

func TestShutdown_WaitsForRunningDeployment(t *testing.T) {
	env := setupTestServer(t, `sh -c "touch started; sleep 0.5"`)
	hist := env.withHistory(t)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(env.server, signedPush(pushPayload))
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(env.workDir, "started"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	// A grace period shorter than the deployment
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	// The attempt is recorded before Shutdown returns, so History can close
	latest, err := hist.GetLatestDeployment(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "success", latest.Status)
	assert.Equal(t, 1, strings.Count(env.logContents(t), "=== deployment "))

	assertResponse(t, <-done, http.StatusOK, "Deployment successful")

	rr := serve(env.server, signedPush(pushPayload))
	assertResponse(t, rr, http.StatusServiceUnavailable, "Deployment busy")
	assert.Equal(t, 1, strings.Count(env.logContents(t), "=== deployment "))
}

func TestWriteTimeout(t *testing.T) {
	env := setupTestServer(t)
	env.server.Config.DeployTimeout = 2 * time.Minute

	// Queue wait plus own run plus margin
	assert.Equal(t, 4*time.Minute+HTTPWriteTimeout, env.server.WriteTimeout())
}
