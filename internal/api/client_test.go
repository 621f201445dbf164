package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistoria/fieldsync/internal/models"
)

func bulkServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/api/inspections/sync", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func sampleRequest() models.BulkSyncRequest {
	rec := models.NewInspectionRecord("emp-1", "imovel-9", "vist-2", models.KindMoveIn)
	return models.BulkSyncRequest{
		PendingInspections: []models.InspectionRecord{*rec},
		VistoriadorID:      "vist-2",
		EmpresaID:          "emp-1",
	}
}

func TestClient_Health(t *testing.T) {
	ctx := context.Background()

	healthSrv := func(handler http.HandlerFunc) *httptest.Server {
		r := chi.NewRouter()
		r.Get("/api/health", handler)
		srv := httptest.NewServer(r)
		t.Cleanup(srv.Close)
		return srv
	}

	t.Run("ok payload is healthy", func(t *testing.T) {
		srv := healthSrv(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(models.HealthResponse{Status: "ok", Timestamp: time.Now()})
		})

		client := NewClient(ClientConfig{BaseURL: srv.URL})
		healthy, err := client.Health(ctx)
		require.NoError(t, err)
		assert.True(t, healthy)
	})

	t.Run("2xx with non-ok status is unhealthy", func(t *testing.T) {
		srv := healthSrv(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(models.HealthResponse{Status: "degraded"})
		})

		client := NewClient(ClientConfig{BaseURL: srv.URL})
		healthy, err := client.Health(ctx)
		require.NoError(t, err)
		assert.False(t, healthy)
	})

	t.Run("server error is unhealthy without a transport error", func(t *testing.T) {
		srv := healthSrv(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		client := NewClient(ClientConfig{BaseURL: srv.URL})
		healthy, err := client.Health(ctx)
		require.NoError(t, err)
		assert.False(t, healthy)
	})

	t.Run("unreachable host is a transport error", func(t *testing.T) {
		client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"})
		healthy, err := client.Health(ctx)
		assert.Error(t, err)
		assert.False(t, healthy)
	})
}

func TestClient_SubmitPending(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips request and acknowledgements", func(t *testing.T) {
		var received models.BulkSyncRequest
		var gotAPIKey, gotDeviceID string

		srv := bulkServer(t, func(w http.ResponseWriter, r *http.Request) {
			gotAPIKey = r.Header.Get("X-API-Key")
			gotDeviceID = r.Header.Get("X-Device-ID")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

			syncedAt := time.Now().UTC()
			json.NewEncoder(w).Encode(models.BulkSyncResponse{
				Synced: 1,
				Failed: 1,
				Results: []models.BulkSyncItemResult{
					{
						LocalID:  received.PendingInspections[0].ID,
						CloudID:  "cloud-123",
						Status:   "synced",
						SyncedAt: &syncedAt,
					},
				},
				Errors: []models.BulkSyncItemError{
					{InspectionID: "other-id", Error: "imovel not found"},
				},
			})
		})

		client := NewClient(ClientConfig{
			BaseURL:  srv.URL,
			APIKey:   "secret",
			DeviceID: "device-7",
		})

		req := sampleRequest()
		resp, err := client.SubmitPending(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, "secret", gotAPIKey)
		assert.Equal(t, "device-7", gotDeviceID)
		assert.Equal(t, "vist-2", received.VistoriadorID)
		assert.Equal(t, "emp-1", received.EmpresaID)
		require.Len(t, received.PendingInspections, 1)

		assert.Equal(t, 1, resp.Synced)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, req.PendingInspections[0].ID, resp.Results[0].LocalID)
		assert.Equal(t, "cloud-123", resp.Results[0].CloudID)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "imovel not found", resp.Errors[0].Error)
	})

	t.Run("non-2xx response is an error", func(t *testing.T) {
		srv := bulkServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		client := NewClient(ClientConfig{BaseURL: srv.URL})
		_, err := client.SubmitPending(ctx, sampleRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("malformed response body is an error", func(t *testing.T) {
		srv := bulkServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		})

		client := NewClient(ClientConfig{BaseURL: srv.URL})
		_, err := client.SubmitPending(ctx, sampleRequest())
		assert.Error(t, err)
	})

	t.Run("unreachable server is an error", func(t *testing.T) {
		client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"})
		_, err := client.SubmitPending(ctx, sampleRequest())
		assert.Error(t, err)
	})

	t.Run("timeout surfaces as an error", func(t *testing.T) {
		srv := bulkServer(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{}`))
		})

		client := NewClient(ClientConfig{BaseURL: srv.URL, BulkTimeout: 50 * time.Millisecond})
		_, err := client.SubmitPending(ctx, sampleRequest())
		assert.Error(t, err)
	})
}
