package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kestrelworks/parley/internal/models"
	"github.com/kestrelworks/parley/internal/session"
)

// testRouter builds a router over an in-memory store with a fixed clock.
func testRouter(t *testing.T) (*gin.Engine, *session.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := session.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	svc, err := session.NewService(session.ServiceOpts{
		Store: store,
		Now:   func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	sched, err := session.NewScheduler(session.SchedulerOpts{
		Service: svc,
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return NewRouter(svc, sched), store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// seedSchemaSession inserts a pending session requiring an approved boolean.
func seedSchemaSession(t *testing.T, store *session.Store, id string, expiry int64) {
	t.Helper()
	sess := &models.Session{
		SessionID:  id,
		SubjectID:  "wf-1",
		ExpiryDate: expiry,
		Status:     models.StatusPending,
	}
	if err := sess.SetData(map[string]interface{}{}); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	err := sess.SetTemplate(map[string]interface{}{
		"policy_input_schema": map[string]interface{}{
			"approved": map[string]interface{}{"type": "boolean"},
		},
	})
	if err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}
	if err := store.Insert(sess); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestCreateSession(t *testing.T) {
	router, store := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/session", map[string]interface{}{
		"session_id":   "s-1",
		"subject_id":   "wf-1",
		"expiry_date":  1700003600,
		"message_data": map[string]interface{}{"question": "deploy?"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true {
		t.Errorf("body = %v", body)
	}

	sess, err := store.Get("s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Status != models.StatusPending {
		t.Errorf("status = %q, want pending default", sess.Status)
	}
}

func TestCreateSession_GeneratesID(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/session", map[string]interface{}{
		"subject_id": "wf-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["data"].(map[string]interface{})
	if id, _ := data["id"].(string); id == "" {
		t.Error("expected a generated session id")
	}
}

func TestCreateSession_RejectsInvalidStatus(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/session", map[string]interface{}{
		"session_id": "s-1",
		"status":     "galloping",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetSession(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1700003600)

	w := doJSON(t, router, http.MethodGet, "/session/s-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["data"].(map[string]interface{})
	if data["session_id"] != "s-1" || data["status"] != "pending" {
		t.Errorf("data = %v", data)
	}
	if _, ok := data["message_data"].(map[string]interface{}); !ok {
		t.Errorf("message_data not decoded: %v", data["message_data"])
	}

	w = doJSON(t, router, http.MethodGet, "/session/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", w.Code)
	}
}

func TestUpdateSession(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1700003600)

	w := doJSON(t, router, http.MethodPut, "/session/s-1", map[string]interface{}{
		"status": "completed",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	sess, _ := store.Get("s-1")
	if sess.Status != models.StatusCompleted {
		t.Errorf("status = %q", sess.Status)
	}

	w = doJSON(t, router, http.MethodPut, "/session/s-1", map[string]interface{}{
		"nonsense": 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 0)

	w := doJSON(t, router, http.MethodDelete, "/session/s-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodDelete, "/session/s-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", w.Code)
	}
}

func TestQuerySessions(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1600000000)
	seedSchemaSession(t, store, "s-2", 1800000000)

	w := doJSON(t, router, http.MethodPost, "/sessions", map[string]interface{}{
		"status":        "pending",
		"expiry_before": 1700000000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("matches = %d, want 1", len(data))
	}
	first := data[0].(map[string]interface{})
	if first["session_id"] != "s-1" {
		t.Errorf("matched %v", first["session_id"])
	}
}

func TestChannelResponse_Success(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1700003600)

	w := doJSON(t, router, http.MethodPost, "/channels/response", map[string]interface{}{
		"session_id":    "s-1",
		"response_data": map[string]interface{}{"approved": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "success" {
		t.Errorf("body = %v", body)
	}
	data := body["data"].(map[string]interface{})
	if data["status"] != "validated" {
		t.Errorf("outcome = %v", data)
	}
}

func TestChannelResponse_ValidationFailureStillSucceeds(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1700003600)

	// A failed validation is a processed transition, not an HTTP error.
	w := doJSON(t, router, http.MethodPost, "/channels/response", map[string]interface{}{
		"session_id":    "s-1",
		"response_data": map[string]interface{}{"approved": "yes"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["data"].(map[string]interface{})
	if data["status"] != "failed" {
		t.Errorf("outcome = %v", data)
	}
	errs := data["validation_errors"].(map[string]interface{})
	if errs["approved"] != "Expected type 'boolean', got 'string'" {
		t.Errorf("validation_errors = %v", errs)
	}
}

func TestChannelResponse_NotFound(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/channels/response", map[string]interface{}{
		"session_id":    "missing",
		"response_data": map[string]interface{}{"approved": true},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestChannelResponse_ConflictWhenNotPending(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1700003600)
	if err := store.Update("s-1", map[string]interface{}{"status": models.StatusExpired}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/channels/response", map[string]interface{}{
		"session_id":    "s-1",
		"response_data": map[string]interface{}{"approved": true},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestChannelResponse_MissingFields(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/channels/response", map[string]interface{}{
		"session_id": "s-1",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestValidateResponse_Valid(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1700003600)

	w := doJSON(t, router, http.MethodPost, "/webhook/validate_response", map[string]interface{}{
		"session_id":    "s-1",
		"response_data": map[string]interface{}{"approved": false},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["status"] != "valid" {
		t.Errorf("body = %v", body)
	}

	// Dry-run: nothing persisted.
	sess, _ := store.Get("s-1")
	if sess.Status != models.StatusPending {
		t.Errorf("status = %q, want pending", sess.Status)
	}
	data, _ := sess.Data()
	if _, leaked := data["approved"]; leaked {
		t.Errorf("ephemeral merge persisted: %v", data)
	}
}

func TestValidateResponse_Invalid(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 1700003600)

	w := doJSON(t, router, http.MethodPost, "/webhook/validate_response", map[string]interface{}{
		"session_id":    "s-1",
		"response_data": map[string]interface{}{"approved": float64(1)},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "invalid" {
		t.Errorf("body = %v", body)
	}
	errs := body["errors"].(map[string]interface{})
	if errs["approved"] != "Expected type 'boolean', got 'number'" {
		t.Errorf("errors = %v", errs)
	}
}

func TestValidateResponse_UnknownSession(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/webhook/validate_response", map[string]interface{}{
		"session_id":    "missing",
		"response_data": map[string]interface{}{},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSendMessage_NoClientConfigured(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "s-1", 0)

	w := doJSON(t, router, http.MethodPost, "/sessions/s-1/send_message", map[string]interface{}{
		"channel_id": "C1",
		"message":    "please respond",
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestSendMessage_MissingFields(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/sessions/s-1/send_message", map[string]interface{}{
		"channel_id": "C1",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Missing 'channel_id' or 'message'") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestExpireSessions(t *testing.T) {
	router, store := testRouter(t)
	seedSchemaSession(t, store, "overdue", 1600000000)
	seedSchemaSession(t, store, "future", 1800000000)

	w := doJSON(t, router, http.MethodPost, "/sessions/expire", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "expiry_triggered" {
		t.Errorf("body = %v", body)
	}
	if body["expired"] != float64(1) {
		t.Errorf("expired = %v, want 1", body["expired"])
	}

	sess, _ := store.Get("overdue")
	if sess.Status != models.StatusExpired {
		t.Errorf("overdue status = %q", sess.Status)
	}
	sess, _ = store.Get("future")
	if sess.Status != models.StatusPending {
		t.Errorf("future status = %q", sess.Status)
	}
}
