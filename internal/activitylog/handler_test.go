package activitylog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobportal/backend/internal/middleware"
	"github.com/jobportal/backend/internal/models"
	"github.com/jobportal/backend/pkg/queue"
)

type fakeEnqueuer struct {
	got []queue.ActivityExportPayload
	err error
}

func (f *fakeEnqueuer) EnqueueActivityExport(_ context.Context, p queue.ActivityExportPayload) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, p)
	return nil
}

func exportRouter(q Enqueuer, requester uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, q, 100, nil)
	r := gin.New()
	r.POST("/export", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, requester)
		c.Next()
	}, h.Export)
	return r
}

func postExport(r *gin.Engine, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/export", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestExportEnqueues(t *testing.T) {
	q := &fakeEnqueuer{}
	requester := uuid.New()
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	w := postExport(exportRouter(q, requester), map[string]any{"from": from, "to": from.Add(48 * time.Hour)})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, q.got, 1)
	assert.Equal(t, requester, q.got[0].RequestedBy)
	assert.Equal(t, from, q.got[0].From)
	assert.Contains(t, w.Body.String(), q.got[0].ExportID.String())
}

func TestExportValidatesWindow(t *testing.T) {
	q := &fakeEnqueuer{}
	r := exportRouter(q, uuid.New())
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, http.StatusBadRequest, postExport(r, map[string]any{"from": from, "to": from}).Code)
	assert.Equal(t, http.StatusBadRequest, postExport(r, map[string]any{"from": from, "to": from.Add(40 * 24 * time.Hour)}).Code)
	assert.Equal(t, http.StatusBadRequest, postExport(r, map[string]any{"to": from}).Code)
	assert.Empty(t, q.got)
}

func TestExportQueueDown(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis down")}
	from := time.Now().Add(-time.Hour)
	w := postExport(exportRouter(q, uuid.New()), map[string]any{"from": from, "to": from.Add(time.Minute)})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParseFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.New()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet,
		"/?user_id="+id.String()+"&type=tab_hidden&since=2024-05-01T00:00:00Z", nil)

	f, err := ParseFilter(c)
	require.NoError(t, err)
	require.NotNil(t, f.UserID)
	assert.Equal(t, id, *f.UserID)
	assert.Equal(t, models.ActivityTabHidden, f.ActivityType)
	require.NotNil(t, f.Since)
	assert.Nil(t, f.Until)

	for _, q := range []string{"/?user_id=nope", "/?type=levitate", "/?until=yesterday"} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, q, nil)
		_, err := ParseFilter(c)
		assert.Error(t, err, q)
	}
}
