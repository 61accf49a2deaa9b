//go:build integration
// +build integration

// Package integration exercises a running Mediary server end to end:
//
//	create → read → query → update → versions → delete → trash → restore
//
// Run with a server listening on MEDIARY_TEST_URL (default localhost:8080)
// whose entity catalog registers a "Contact" entity with at least ID, Name,
// Email and Age attributes:
//
//	go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

type testConfig struct {
	BaseURL string
	UserID  string
}

func getTestConfig() testConfig {
	baseURL := os.Getenv("MEDIARY_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return testConfig{
		BaseURL: baseURL,
		UserID:  "integration",
	}
}

var client = &http.Client{Timeout: 10 * time.Second}

// call issues one JSON request and decodes the response body into out when
// out is non-nil. It returns the status code.
func call(t *testing.T, config testConfig, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}

	req, err := http.NewRequest(method, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", config.UserID)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if out != nil && len(data) > 0 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode response: %v (body: %s)", err, string(data))
		}
	}
	return resp.StatusCode
}

func TestServerHealth(t *testing.T) {
	config := getTestConfig()

	var health map[string]any
	status := call(t, config, http.MethodGet, "/health", nil, &health)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", status)
	}
	if health["status"] == "" {
		t.Error("health response carries no status")
	}

	if status := call(t, config, http.MethodGet, "/ready", nil, nil); status != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", status)
	}
}

func TestEntityCatalogExposed(t *testing.T) {
	config := getTestConfig()

	var types []string
	status := call(t, config, http.MethodGet, "/entities", nil, &types)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from /entities, got %d", status)
	}

	found := false
	for _, name := range types {
		if name == "Contact" {
			found = true
		}
	}
	if !found {
		t.Fatalf("entity catalog %v does not register Contact; seed the catalog before running", types)
	}
}

func TestContactLifecycle(t *testing.T) {
	config := getTestConfig()
	id := uuid.New().String()

	t.Run("Create", func(t *testing.T) {
		var created map[string]any
		status := call(t, config, http.MethodPost, "/entities/Contact/", map[string]any{
			"ID":    id,
			"Name":  "Integration Subject",
			"Email": "subject@integration.local",
			"Age":   41,
		}, &created)
		if status != http.StatusCreated {
			t.Fatalf("expected 201, got %d", status)
		}
		if created["ID"] != id {
			t.Errorf("created record carries identity %v, want %s", created["ID"], id)
		}
	})

	t.Run("Get", func(t *testing.T) {
		var rec map[string]any
		status := call(t, config, http.MethodGet, "/entities/Contact/"+id, nil, &rec)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if rec["Name"] != "Integration Subject" {
			t.Errorf("unexpected Name: %v", rec["Name"])
		}
	})

	t.Run("Query", func(t *testing.T) {
		var result struct {
			Records []map[string]any `json:"records"`
			Count   int              `json:"count"`
		}
		status := call(t, config, http.MethodPost, "/entities/Contact/query", map[string]any{
			"filter": map[string]any{"attribute": "ID", "op": "equals", "value": id},
		}, &result)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if result.Count != 1 {
			t.Fatalf("expected exactly one match, got %d", result.Count)
		}
	})

	t.Run("Search", func(t *testing.T) {
		var result struct {
			Records []map[string]any `json:"records"`
		}
		status := call(t, config, http.MethodPost, "/entities/Contact/search", map[string]any{
			"text": "Integration Subject",
		}, &result)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if len(result.Records) == 0 {
			t.Error("search found no records")
		}
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		var updated map[string]any
		status := call(t, config, http.MethodPatch, "/entities/Contact/"+id, map[string]any{
			"Age": 42,
		}, &updated)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if fmt.Sprintf("%v", updated["Age"]) != "42" {
			t.Errorf("expected Age 42, got %v", updated["Age"])
		}
		if updated["Name"] != "Integration Subject" {
			t.Errorf("partial update clipped Name: %v", updated["Name"])
		}
	})

	t.Run("DeleteTrashRestore", func(t *testing.T) {
		if status := call(t, config, http.MethodDelete, "/entities/Contact/"+id, nil, nil); status != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", status)
		}
		if status := call(t, config, http.MethodGet, "/entities/Contact/"+id, nil, nil); status != http.StatusNotFound {
			t.Fatalf("expected 404 after delete, got %d", status)
		}

		var entries []map[string]any
		if status := call(t, config, http.MethodGet, "/entities/Contact/trash", nil, &entries); status != http.StatusOK {
			t.Fatalf("expected 200 from trash listing, got %d", status)
		}
		found := false
		for _, e := range entries {
			if e["id"] == id {
				found = true
			}
		}
		if !found {
			t.Fatalf("deleted record %s not in trash", id)
		}

		var restored map[string]any
		if status := call(t, config, http.MethodPost, "/entities/Contact/trash/"+id+"/restore", nil, &restored); status != http.StatusOK {
			t.Fatalf("expected 200 from restore, got %d", status)
		}
		if status := call(t, config, http.MethodGet, "/entities/Contact/"+id, nil, nil); status != http.StatusOK {
			t.Fatalf("expected 200 after restore, got %d", status)
		}

		// Leave no residue behind.
		call(t, config, http.MethodDelete, "/entities/Contact/"+id, nil, nil)
	})
}

func TestValidationErrors(t *testing.T) {
	config := getTestConfig()

	t.Run("MissingRequiredAttribute", func(t *testing.T) {
		status := call(t, config, http.MethodPost, "/entities/Contact/", map[string]any{
			"Email": "anonymous@integration.local",
		}, nil)
		if status != http.StatusBadRequest {
			t.Errorf("expected 400 for record without Name, got %d", status)
		}
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		status := call(t, config, http.MethodPost, "/entities/Nonesuch/", map[string]any{
			"ID": "x",
		}, nil)
		if status != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown entity type, got %d", status)
		}
	})

	t.Run("MalformedFilter", func(t *testing.T) {
		status := call(t, config, http.MethodPost, "/entities/Contact/query", map[string]any{
			"filter": map[string]any{"attribute": "Age", "op": "approximately", "value": 1},
		}, nil)
		if status != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown operator, got %d", status)
		}
	})
}

func TestRuleRoundTrip(t *testing.T) {
	config := getTestConfig()
	ruleID := "integration-" + uuid.New().String()[:8]

	status := call(t, config, http.MethodPost, "/rules", map[string]any{
		"id":         ruleID,
		"entityType": "Contact",
		"name":       "age floor",
		"expression": `!("Age" in rec) || int(rec["Age"]) >= 0`,
		"message":    "age must not be negative",
		"events":     []string{"preCreate", "preUpdate"},
		"enabled":    true,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 from rule create, got %d", status)
	}

	var rule map[string]any
	if status := call(t, config, http.MethodGet, "/rules/"+ruleID, nil, &rule); status != http.StatusOK {
		t.Fatalf("expected 200 from rule get, got %d", status)
	}
	if rule["name"] != "age floor" {
		t.Errorf("unexpected rule name: %v", rule["name"])
	}

	// The freshly loaded rule now guards creates.
	status = call(t, config, http.MethodPost, "/entities/Contact/", map[string]any{
		"Name": "Negative Age",
		"Age":  -1,
	}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for rule violation, got %d", status)
	}
}
