package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/container"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

const adminSecret = "routes-test-secret"

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.LoadFrom(map[string]string{
		"JOURNAL_DSN":      ":memory:",
		"ADMIN_JWT_SECRET": adminSecret,
		"LOG_TO_FILE":      "false",
	})
	require.NoError(t, err)

	c, err := container.NewContainer(cfg, logging.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NotNil(t, c.Journal)

	return SetupRoutes(c)
}

type apiResponse struct {
	CorrelationID string `json:"correlationId"`
	ExternalID    string `json:"externalId"`
	ThankYouURL   string `json:"thankYouUrl"`
	Recovered     bool   `json:"recovered"`
	Snapshot      struct {
		VisitorID   string `json:"visitorId"`
		IsReturning bool   `json:"isReturning"`
		VisitCount  int    `json:"visitCount"`
	} `json:"snapshot"`
	Storage struct {
		Set     map[string]string `json:"set"`
		Removed []string          `json:"removed"`
	} `json:"storage"`
	Error string `json:"error"`
}

func post(t *testing.T, r *gin.Engine, path string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "routes-test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

// merge applies a response's storage changes the way the page shim does.
func merge(entries map[string]string, resp apiResponse) map[string]string {
	out := make(map[string]string, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	for k, v := range resp.Storage.Set {
		out[k] = v
	}
	for _, k := range resp.Storage.Removed {
		delete(out, k)
	}
	return out
}

func TestVisitRoundTripsBrowserStorage(t *testing.T) {
	r := newRouter(t)
	page := map[string]any{"url": "https://example.com/italy"}

	w, first := post(t, r, "/api/v1/track/visit", map[string]any{"page": page, "storage": map[string]string{}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, first.Snapshot.IsReturning)
	assert.Equal(t, 1, first.Snapshot.VisitCount)
	assert.Contains(t, first.Storage.Set, "tractstack_visitor_id")

	entries := merge(nil, first)
	w, second := post(t, r, "/api/v1/track/visit", map[string]any{"page": page, "storage": entries})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, second.Snapshot.IsReturning)
	assert.Equal(t, 2, second.Snapshot.VisitCount)
	assert.Equal(t, first.Snapshot.VisitorID, second.Snapshot.VisitorID)
}

func TestVisitWithStorageDisabledDegrades(t *testing.T) {
	r := newRouter(t)
	w, resp := post(t, r, "/api/v1/track/visit", map[string]any{
		"page":            map[string]any{"url": "https://example.com/"},
		"storageDisabled": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, resp.Snapshot.IsReturning)
	assert.Empty(t, resp.Storage.Set)
}

func TestLeadRejectsInvalidSubmission(t *testing.T) {
	r := newRouter(t)
	w, resp := post(t, r, "/api/v1/track/lead", map[string]any{
		"page": map[string]any{"url": "https://example.com/italy"},
		"lead": map[string]any{"formName": "italy-trip", "contact": map[string]any{"name": "Sara"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid lead submission", resp.Error)
}

func TestLeadThenConfirmThenJournal(t *testing.T) {
	r := newRouter(t)
	formPage := map[string]any{"url": "https://example.com/italy"}

	_, visit := post(t, r, "/api/v1/track/visit", map[string]any{"page": formPage})
	entries := merge(nil, visit)

	w, lead := post(t, r, "/api/v1/track/lead", map[string]any{
		"page":    formPage,
		"storage": entries,
		"lead": map[string]any{
			"formName":    "italy-trip",
			"destination": "Italy",
			"contact":     map[string]any{"email": "sara@example.com", "phone": "0501234567"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, lead.CorrelationID)
	assert.True(t, strings.HasPrefix(lead.ThankYouURL, "/thank-you?"))
	entries = merge(entries, lead)

	w, confirm := post(t, r, "/api/v1/track/confirm", map[string]any{
		"page":    map[string]any{"url": "https://example.com" + lead.ThankYouURL},
		"storage": entries,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, confirm.Recovered)
	assert.Equal(t, lead.CorrelationID, confirm.CorrelationID)
	assert.Equal(t, lead.ExternalID, confirm.ExternalID)

	path := "/api/v1/conversions/" + lead.CorrelationID
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := security.GenerateAdminToken(adminSecret, "operator", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var journal struct {
		Dispatches []struct {
			Event    string `json:"event"`
			Outcomes []struct {
				Sink string `json:"sink"`
			} `json:"outcomes"`
		} `json:"dispatches"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &journal))
	require.Len(t, journal.Dispatches, 2)
	assert.Len(t, journal.Dispatches[0].Outcomes, 7)
}

func TestEraseRemovesEveryKey(t *testing.T) {
	r := newRouter(t)
	_, visit := post(t, r, "/api/v1/track/visit", map[string]any{"page": map[string]any{"url": "https://example.com/"}})

	w, erased := post(t, r, "/api/v1/privacy/erase", map[string]any{"storage": merge(nil, visit)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, erased.Storage.Removed, "tractstack_visitor_id")
	assert.Contains(t, erased.Storage.Removed, "tractstack_profile")
	assert.Len(t, erased.Storage.Removed, 7)
}

func TestExportReturnsDefaultShape(t *testing.T) {
	r := newRouter(t)
	w, _ := post(t, r, "/api/v1/privacy/export", map[string]any{"storage": map[string]string{}})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Export struct {
			VisitHistory    []any `json:"visitHistory"`
			FormSubmissions []any `json:"formSubmissions"`
		} `json:"export"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotNil(t, body.Export.VisitHistory)
	assert.NotNil(t, body.Export.FormSubmissions)
}

func TestHealthListsSinks(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string   `json:"status"`
		Sinks   []string `json:"sinks"`
		Journal string   `json:"journal"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Len(t, body.Sinks, 7)
	assert.Equal(t, "sqlite3", body.Journal)
}

func TestDataLayerStreamRequiresVisitorID(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/datalayer/ws?visitorId=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
