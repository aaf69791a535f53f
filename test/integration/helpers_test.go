package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

// testServer holds the base URL of a running cohort-reporting instance.
var testServer string

func init() {
	testServer = os.Getenv("COHORT_URL")
	if testServer == "" {
		testServer = "http://localhost:8787"
	}
	// Ensure the URL has a scheme.
	if !strings.HasPrefix(testServer, "http://") && !strings.HasPrefix(testServer, "https://") {
		testServer = "http://" + testServer
	}
}

var client = &http.Client{Timeout: 5 * time.Second}

// requireServer skips the test when no server answers at testServer.
func requireServer(t *testing.T) {
	t.Helper()
	resp, err := client.Get(apiURL("definitions"))
	if err != nil {
		t.Skipf("no cohort-reporting server at %s: %v", testServer, err)
	}
	resp.Body.Close()
}

// apiURL builds a full URL for the given API path.
func apiURL(path string) string {
	return strings.TrimRight(testServer, "/") + "/v1/" + path
}

// definitionURL builds the URL of a single definition, escaping its name.
func definitionURL(name string) string {
	return apiURL("definitions/" + url.PathEscape(name))
}

// doJSON sends body as JSON and decodes the JSON response.
func doJSON(t *testing.T, method, target string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, target, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

// createDefinition registers a definition and deletes it when the test ends.
func createDefinition(t *testing.T, def map[string]any) map[string]any {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, apiURL("definitions"), def)
	if status != http.StatusOK {
		t.Fatalf("createDefinition failed with status %d: %v", status, body)
	}
	name := def["name"].(string)
	t.Cleanup(func() { deleteDefinition(t, name) })
	return body
}

// deleteDefinition removes a definition by name (cleanup).
func deleteDefinition(t *testing.T, name string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, definitionURL(name), nil)
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// parse posts an expression to the parse endpoint.
func parse(t *testing.T, expression string, context map[string]any) (int, map[string]any) {
	t.Helper()
	body := map[string]any{"expression": expression}
	if context != nil {
		body["context"] = context
	}
	return doJSON(t, http.MethodPost, apiURL("expressions:parse"), body)
}

// errorField returns a field of an error envelope.
func errorField(body map[string]any, field string) any {
	e, _ := body["error"].(map[string]any)
	return e[field]
}

// uniqueName generates a unique definition name for test isolation.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
}

// waitForStatus polls a definition until it answers with status or times out.
func waitForStatus(t *testing.T, name string, status int, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("definition %s did not reach status %d within %s", name, status, timeout)
		}
		got, body := doJSON(t, http.MethodGet, definitionURL(name), nil)
		if got == status {
			return body
		}
		time.Sleep(200 * time.Millisecond)
	}
}
