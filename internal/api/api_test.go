package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-mediary/mediary/internal/docstore"
	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/mediator"
	"github.com/open-mediary/mediary/internal/rules"
)

// createTestServer wires a server over an in-memory document backend.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	entities := domain.NewEntityRegistry()
	require.NoError(t, entities.Register(&domain.EntityDefinition{
		Type:       "Contact",
		Table:      "contacts",
		PrimaryKey: "ID",
		Attributes: []domain.AttributeInfo{
			{Name: "ID", Type: domain.AttrString, NotNull: true, NotEmpty: true},
			{Name: "Name", Type: domain.AttrString, NotNull: true, NotEmpty: true},
			{Name: "Email", Type: domain.AttrString},
			{Name: "Age", Type: domain.AttrInt},
		},
		PrimaryDataSource: "primary",
		TrashDataSource:   "primary",
		VersionDataSource: "primary",
	}))

	sources := domain.NewDataSourceRegistry()
	require.NoError(t, sources.Register(&domain.DataSource{
		Name:          "primary",
		Mode:          domain.ModeDocument,
		ConnectionRef: "doc-main",
	}))

	repo, err := mediator.New(mediator.Options{
		Entities: entities,
		Sources:  sources,
	})
	require.NoError(t, err)
	repo.RegisterDocConnection("doc-main", docstore.New())

	snaps := docstore.NewSnapshotStore()
	repo.RegisterVersionStore("doc-main", snaps)
	repo.RegisterTrashStore("doc-main", snaps)

	engine, err := rules.NewEngine()
	require.NoError(t, err)
	require.NoError(t, engine.LoadRule(&domain.ValidationRule{
		ID:         "contact-age",
		EntityType: "Contact",
		Name:       "Age must be non-negative",
		Expression: `!("Age" in rec) || int(rec["Age"]) >= 0`,
		Message:    "age must be non-negative",
		Enabled:    true,
	}))
	rules.Register(repo.Hooks(), engine)

	return NewServer(cfg, repo, entities, nil, nil, engine, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserIDHeader, "tester")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEntityLifecycle(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/entities/Contact/", domain.Record{
		"ID":    "c-1",
		"Name":  "Ada",
		"Email": "ada@example.com",
		"Age":   36,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doJSON(t, server, http.MethodGet, "/entities/Contact/c-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got domain.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "Ada", got["Name"])

	rr = doJSON(t, server, http.MethodPatch, "/entities/Contact/c-1", domain.Record{
		"Email": "ada@lovelace.dev",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, server, http.MethodGet, "/entities/Contact/c-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "ada@lovelace.dev", got["Email"])

	rr = doJSON(t, server, http.MethodDelete, "/entities/Contact/c-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, server, http.MethodGet, "/entities/Contact/c-1", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateValidation(t *testing.T) {
	server := createTestServer(t)

	t.Run("MissingRequired", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/", domain.Record{
			"ID": "c-2",
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("RuleRejection", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/", domain.Record{
			"ID":   "c-3",
			"Name": "Negative",
			"Age":  -1,
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("UnknownType", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Widget/", domain.Record{"ID": "w-1"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestQueryEndpoints(t *testing.T) {
	server := createTestServer(t)

	for i := 1; i <= 5; i++ {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/", domain.Record{
			"ID":   fmt.Sprintf("q-%d", i),
			"Name": fmt.Sprintf("Person %d", i),
			"Age":  20 + i,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	t.Run("Find", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/query", QueryRequest{
			Filter: json.RawMessage(`{"attribute":"Age","op":"greater","value":23}`),
			Sort:   []SortTerm{{Attribute: "Age", Direction: "desc"}},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp struct {
			Records []domain.Record `json:"records"`
			Count   int             `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 2, resp.Count)
		require.Equal(t, "q-5", resp.Records[0]["ID"])
	})

	t.Run("Count", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/count", QueryRequest{
			Filter: json.RawMessage(`{"operator":"or","children":[
				{"attribute":"Age","op":"equals","value":21},
				{"attribute":"Age","op":"equals","value":22}]}`),
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp struct {
			Count int64 `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, int64(2), resp.Count)
	})

	t.Run("Search", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/search", QueryRequest{
			Text: "Person 3",
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
	})

	t.Run("BadFilter", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/query", QueryRequest{
			Filter: json.RawMessage(`{"attribute":"Age","op":"approx","value":1}`),
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("DeleteMany", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/deleteMany", QueryRequest{
			Filter: json.RawMessage(`{"attribute":"Age","op":"lessThan","value":23}`),
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp struct {
			Deleted int64 `json:"deleted"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, int64(2), resp.Deleted)
	})
}

func TestTrashAndRestore(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/entities/Contact/", domain.Record{
		"ID":   "t-1",
		"Name": "Disposable",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, server, http.MethodDelete, "/entities/Contact/t-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, server, http.MethodGet, "/entities/Contact/trash", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var trashResp struct {
		Trash []*domain.TrashContent `json:"trash"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &trashResp))
	require.Len(t, trashResp.Trash, 1)

	rr = doJSON(t, server, http.MethodPost, "/entities/Contact/trash/t-1/restore", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, server, http.MethodGet, "/entities/Contact/t-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	t.Run("UnknownTrashID", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/entities/Contact/trash/absent/restore", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/rules", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	t.Run("CreateAndGet", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", &domain.ValidationRule{
			ID:         "email-required",
			EntityType: "Contact",
			Name:       "Email required",
			Expression: `"Email" in rec`,
			Message:    "email is required",
			Enabled:    true,
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = doJSON(t, server, http.MethodGet, "/rules/email-required", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("RejectNonBool", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", &domain.ValidationRule{
			ID:         "bad-rule",
			Name:       "Not boolean",
			Expression: `1 + 1`,
			Enabled:    true,
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp["status"])
	require.Equal(t, "test-v1", resp["version"])

	rr = doJSON(t, server, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
