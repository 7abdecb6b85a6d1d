//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("INTERVIEW_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// snapshot mirrors the fields of an interview snapshot the smoke tests read.
type snapshot struct {
	ID         string         `json:"id"`
	Mode       string         `json:"mode"`
	Status     string         `json:"status"`
	Question   string         `json:"question"`
	Processing bool           `json:"processing"`
	Object     map[string]any `json:"object"`
	Error      string         `json:"error"`
}

var client = &http.Client{Timeout: 90 * time.Second}

// call sends a JSON request and decodes the response into out when non-nil.
func call(t *testing.T, method, path string, in, out any, want int) {
	t.Helper()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, string(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
}

// await polls the interview until cond holds or the deadline passes.
func await(t *testing.T, id string, cond func(snapshot) bool) snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Minute)
	var snap snapshot
	for time.Now().Before(deadline) {
		call(t, http.MethodGet, "/api/interviews/"+id, nil, &snap, http.StatusOK)
		if cond(snap) {
			return snap
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("interview %s did not settle: %+v", id, snap)
	return snap
}

func TestFeatureCatalog(t *testing.T) {
	var specs []map[string]any
	call(t, http.MethodGet, "/api/features", nil, &specs, http.StatusOK)
	if len(specs) == 0 {
		t.Fatal("expected a non-empty feature catalog")
	}
	t.Logf("features: %d", len(specs))
}

func TestUnknownInterview(t *testing.T) {
	call(t, http.MethodGet, "/api/interviews/does-not-exist", nil, nil, http.StatusNotFound)
}

func TestInvalidMode(t *testing.T) {
	call(t, http.MethodPost, "/api/interviews", map[string]string{"mode": "sideways"}, nil, http.StatusBadRequest)
}

func TestInteractiveInterview(t *testing.T) {
	var snap snapshot
	call(t, http.MethodPost, "/api/interviews", map[string]string{"mode": "interactive"}, &snap, http.StatusCreated)

	first := await(t, snap.ID, func(s snapshot) bool { return s.Question != "" && !s.Processing })
	t.Logf("question: %.200s", first.Question)

	call(t, http.MethodPost, "/api/interviews/"+snap.ID+"/answers",
		map[string]string{"text": "Her name is Juniper. She is a patient botanist who answers plant questions."},
		nil, http.StatusAccepted)
	await(t, snap.ID, func(s snapshot) bool { return !s.Processing })

	call(t, http.MethodPost, "/api/interviews/"+snap.ID+"/finish", nil, nil, http.StatusAccepted)
	done := await(t, snap.ID, func(s snapshot) bool { return s.Status != "running" })
	if done.Status != "finished" {
		t.Fatalf("status = %s (%s), want finished", done.Status, done.Error)
	}
	t.Logf("object: %v", done.Object)
}

func TestCancelInterview(t *testing.T) {
	var snap snapshot
	call(t, http.MethodPost, "/api/interviews", map[string]string{"mode": "interactive"}, &snap, http.StatusCreated)
	call(t, http.MethodDelete, "/api/interviews/"+snap.ID, nil, nil, http.StatusNoContent)

	done := await(t, snap.ID, func(s snapshot) bool { return s.Status != "running" })
	if done.Status != "cancelled" {
		t.Fatalf("status = %s, want cancelled", done.Status)
	}
}
