package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/database"
	"github.com/hyperio-mc/agent-talk/src/repositories/memory"
	"github.com/hyperio-mc/agent-talk/src/repositories/mock"
)

func TestHandleHealth_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w, c := createTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	handler := NewHealthHandler(memory.NewRecordStore(), "memory")
	handler.HandleHealth(c)

	assertStatusCode(t, w, http.StatusOK)
	response := decodeBody(t, w)

	if response["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", response["status"])
	}
	if response["storage"] != "memory" {
		t.Errorf("expected storage 'memory', got %v", response["storage"])
	}
	if _, ok := response["storage_latency"]; !ok {
		t.Error("expected storage_latency field")
	}
	if _, ok := response["uptime"]; !ok {
		t.Error("expected uptime field")
	}
}

func TestHandleHealth_StorageError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w, c := createTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	store := mock.NewRecordStore(nil)
	store.HealthFunc = func(ctx context.Context) error {
		return errors.New("dial tcp 10.0.0.5:5432: connection refused")
	}
	handler := NewHealthHandler(store, "postgres")
	handler.HandleHealth(c)

	assertStatusCode(t, w, http.StatusServiceUnavailable)
	response := decodeBody(t, w)

	if response["status"] != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %v", response["status"])
	}
	if response["error"] != "storage unavailable" {
		t.Errorf("expected generic error, got %v", response["error"])
	}
}

func TestHandleHealth_Postgres(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		gin.SetMode(gin.TestMode)
		w, c := createTestContext()
		c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

		store := database.NewRecordStore(tdb.DB)
		NewHealthHandler(store, "postgres").HandleHealth(c)

		assertStatusCode(t, w, http.StatusOK)
		if got := decodeBody(t, w)["storage"]; got != "postgres" {
			t.Errorf("expected storage 'postgres', got %v", got)
		}
	})
}

func TestHandleInfo(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w, c := createTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/info", nil)

	NewHealthHandler(memory.NewRecordStore(), "memory").HandleInfo(c)

	assertStatusCode(t, w, http.StatusOK)
	response := decodeBody(t, w)
	if response["service"] != "agent-talk" {
		t.Errorf("expected service name, got %v", response["service"])
	}
	if _, ok := response["version"]; !ok {
		t.Error("expected version field")
	}
}

func TestHandleReady(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w, c := createTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	NewHealthHandler(memory.NewRecordStore(), "memory").HandleReady(c)
	assertStatusCode(t, w, http.StatusOK)
	if decodeBody(t, w)["ready"] != true {
		t.Error("expected ready true")
	}

	store := mock.NewRecordStore(nil)
	store.HealthFunc = func(ctx context.Context) error { return errors.New("down") }
	w, c = createTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	NewHealthHandler(store, "postgres").HandleReady(c)
	assertStatusCode(t, w, http.StatusServiceUnavailable)
	if decodeBody(t, w)["ready"] != false {
		t.Error("expected ready false")
	}
}
