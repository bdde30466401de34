// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/connectors/manager"
	"sqlpilot/platform/connectors/registry"
	"sqlpilot/platform/credentials"
	"sqlpilot/platform/orchestrator"
	"sqlpilot/platform/orchestrator/llm/gemini"
	"sqlpilot/platform/shared/logger"
)

// newGeminiStub returns a server that answers every generateContent call
// with the given text.
func newGeminiStub(t *testing.T, text string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"candidates": [{
				"content": {"parts": [{"text": %q}], "role": "model"},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
		}`, text)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, llmText string) *httptest.Server {
	t.Helper()

	srv, _ := newTestServerWithManager(t, llmText)
	return srv
}

func newTestServerWithManager(t *testing.T, llmText string) (*httptest.Server, *manager.Manager) {
	t.Helper()

	log := logger.New("gateway-test")

	provider, err := gemini.NewProvider(gemini.Config{
		APIKey:  "test-key",
		BaseURL: newGeminiStub(t, llmText).URL,
	})
	require.NoError(t, err)

	store, err := credentials.NewStore("gateway-test-secret", time.Hour)
	require.NoError(t, err)

	mgr := manager.New(registry.New(), log)
	gen := orchestrator.NewQueryGenerator(provider, log)
	exec := orchestrator.NewExecutor(mgr, gen, log)

	cfg := &Config{
		Port:           0,
		AllowedOrigins: []string{"*"},
		CredentialTTL:  time.Hour,
		TokenSecret:    "gateway-test-secret",
	}

	srv := httptest.NewServer(NewServer(cfg, log, store, exec, mgr).Handler())
	t.Cleanup(srv.Close)
	return srv, mgr
}

func newSQLiteFixture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (id, name) VALUES (1, 'alice'), (2, 'bob')`)
	require.NoError(t, err)
	return path
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}) *http.Response {
	t.Helper()

	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

// connectSQLite connects the fixture database and returns the credential
// cookie for follow-up requests.
func connectSQLite(t *testing.T, srv *httptest.Server, path string) *http.Cookie {
	t.Helper()

	resp := postJSON(t, srv.Client(), srv.URL+"/api/v1/database/connect", map[string]interface{}{
		"type":   "sqlite",
		"method": "parameters",
		"parameters": map[string]interface{}{
			"database": path,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var credCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == credentials.CookieName {
			credCookie = c
		}
	}
	require.NotNil(t, credCookie, "connect must set the credential cookie")

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []interface{}{"users"}, body["tables"])

	return credCookie
}

func TestConnectAndQuery(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT name FROM users ORDER BY id")
	cookie := connectSQLite(t, srv, newSQLiteFixture(t))

	req, err := http.NewRequest("POST", srv.URL+"/api/v1/query",
		bytes.NewReader([]byte(`{"prompt": "list all user names"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "SELECT name FROM users ORDER BY id", body["query"])

	data := body["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "alice", data[0].(map[string]interface{})["name"])
}

func TestQueryWithoutCredentials(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")

	resp := postJSON(t, srv.Client(), srv.URL+"/api/v1/query", map[string]interface{}{
		"prompt": "anything",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
}

func TestConnectRejectsMissingDatabase(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")

	resp := postJSON(t, srv.Client(), srv.URL+"/api/v1/database/connect", map[string]interface{}{
		"type":   "sqlite",
		"method": "parameters",
		"parameters": map[string]interface{}{
			"database": filepath.Join(t.TempDir(), "empty.db"),
		},
	})
	defer func() { _ = resp.Body.Close() }()

	// The file is created empty, so there is nothing to query.
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)

	var gotCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == credentials.CookieName {
			gotCookie = true
		}
	}
	assert.False(t, gotCookie, "a failed connect must not issue credentials")
}

func TestConnectRejectsUnknownEngine(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")

	resp := postJSON(t, srv.Client(), srv.URL+"/api/v1/database/connect", map[string]interface{}{
		"type":             "oracle",
		"method":           "url",
		"connection_string": "oracle://x/y",
	})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSchemaEndpoint(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")
	cookie := connectSQLite(t, srv, newSQLiteFixture(t))

	req, err := http.NewRequest("GET", srv.URL+"/api/v1/database/schema?tables=users", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	schemas := body["schemas"].([]interface{})
	require.Len(t, schemas, 1)
	schema := schemas[0].(map[string]interface{})
	assert.Equal(t, "users", schema["tableName"])
	assert.Len(t, schema["columns"], 2)
}

func TestExecuteEndpoint(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")
	cookie := connectSQLite(t, srv, newSQLiteFixture(t))

	req, err := http.NewRequest("POST", srv.URL+"/api/v1/query/execute",
		bytes.NewReader([]byte(`{"query": "SELECT count(*) AS n FROM users"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecuteEndpointRejectsWrites(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")
	cookie := connectSQLite(t, srv, newSQLiteFixture(t))

	req, err := http.NewRequest("POST", srv.URL+"/api/v1/query/execute",
		bytes.NewReader([]byte(`{"query": "DROP TABLE users"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestDisconnectClearsCookie(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")

	resp := postJSON(t, srv.Client(), srv.URL+"/api/v1/database/disconnect", map[string]interface{}{})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, credentials.CookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestDisconnectClearsSchemaCache(t *testing.T) {
	srv, mgr := newTestServerWithManager(t, "SQL: SELECT 1")
	cookie := connectSQLite(t, srv, newSQLiteFixture(t))

	var events []manager.CacheEvent
	mgr.OnCacheEvent = func(_ base.DatabaseType, e manager.CacheEvent) { events = append(events, e) }

	fetchSchema := func() {
		req, err := http.NewRequest("GET", srv.URL+"/api/v1/database/schema?tables=users", nil)
		require.NoError(t, err)
		req.AddCookie(cookie)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	fetchSchema()
	fetchSchema()

	// Disconnecting with live credentials drops the cached schemas too.
	req, err := http.NewRequest("POST", srv.URL+"/api/v1/database/disconnect", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fetchSchema()

	assert.Equal(t, []manager.CacheEvent{manager.CacheMiss, manager.CacheHit, manager.CacheMiss}, events)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, "SQL: SELECT 1")

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
