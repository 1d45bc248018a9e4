package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"go.uber.org/zap"

	"github.com/langchou/roadpaint/internal/config"
	"github.com/langchou/roadpaint/internal/models"
	"github.com/langchou/roadpaint/internal/repository"
	"github.com/langchou/roadpaint/internal/service"
	"github.com/langchou/roadpaint/internal/state"
	"github.com/langchou/roadpaint/pkg/ws"
)

func newTestRouter(t *testing.T) (*gin.Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	cfg := &config.Config{
		AccuracyLimitM:  50,
		JitterFloorM:    0.5,
		PaintThresholdM: 20,
		TraceBatchSize:  15,
		GridPrecision:   3,
		ElapsedTick:     time.Second,
	}

	logger := zap.NewNop()
	segmentRepo := repository.NewSegmentRepository(mock)
	traceRepo := repository.NewTraceRepository(mock)
	sessionRepo := repository.NewSessionRepository(mock)
	hub := ws.NewHub(logger, nil)
	svc := service.NewTrackingService(cfg, logger, segmentRepo, traceRepo, sessionRepo, hub)

	router := gin.New()
	NewHandler(logger, segmentRepo, traceRepo, sessionRepo, svc, hub).RegisterRoutes(router)
	return router, mock
}

func performRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func expectSessionStart(mock pgxmock.PgxPoolIface, userID int64) {
	mock.ExpectQuery(`FROM segments WHERE user_id = \$1 ORDER BY id`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "segment_key", "geometry",
			"distance_meters", "visit_count", "first_visited_at", "last_visited_at",
		}))
	mock.ExpectExec(`INSERT INTO track_sessions`).
		WithArgs(pgxmock.AnyArg(), userID, state.StateActive, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) state.SessionState {
	t.Helper()
	var resp struct {
		Data state.SessionState `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func fixBody(lat, lng, accuracy float64, at time.Time) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"latitude":    lat,
		"longitude":   lng,
		"accuracy_m":  accuracy,
		"recorded_at": at.UnixMilli(),
	})
	return body
}

func TestStartTrackingEndpoint(t *testing.T) {
	router, mock := newTestRouter(t)
	expectSessionStart(mock, 42)

	w := performRequest(router, http.MethodPost, "/api/users/42/tracking/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	st := decodeState(t, w)
	if st.CurrentState != state.StateActive || st.SessionID == "" {
		t.Errorf("unexpected state: %+v", st)
	}

	w = performRequest(router, http.MethodPost, "/api/users/42/tracking/start", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", w.Code)
	}
}

func TestStartTrackingBadUserID(t *testing.T) {
	router, _ := newTestRouter(t)

	w := performRequest(router, http.MethodPost, "/api/users/abc/tracking/start", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngestFixEndpoint(t *testing.T) {
	router, mock := newTestRouter(t)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	expectSessionStart(mock, 42)
	if w := performRequest(router, http.MethodPost, "/api/users/42/tracking/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}

	w := performRequest(router, http.MethodPost, "/api/users/42/tracking/fix", fixBody(40.0000, -74.0000, 5, base))
	if w.Code != http.StatusOK {
		t.Fatalf("baseline fix status = %d, body %s", w.Code, w.Body.String())
	}

	mock.ExpectQuery(`INSERT INTO segments`).
		WithArgs(int64(42), "40.001,-74.000", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "visit_count"}).AddRow(int64(1), 1))

	w = performRequest(router, http.MethodPost, "/api/users/42/tracking/fix",
		fixBody(40.0010, -74.0000, 10, base.Add(10*time.Second)))
	if w.Code != http.StatusOK {
		t.Fatalf("move fix status = %d, body %s", w.Code, w.Body.String())
	}
	st := decodeState(t, w)
	if math.Abs(st.TotalDistanceM-111.19) > 0.05 {
		t.Errorf("distance = %v, want ~111.19", st.TotalDistanceM)
	}
	if st.NewSegments != 1 || st.PointCount != 2 {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestIngestFixValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := performRequest(router, http.MethodPost, "/api/users/42/tracking/fix", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", w.Code)
	}

	w = performRequest(router, http.MethodPost, "/api/users/42/tracking/fix", fixBody(91, 0, 5, time.Now()))
	if w.Code != http.StatusBadRequest {
		t.Errorf("out of range status = %d, want 400", w.Code)
	}

	w = performRequest(router, http.MethodPost, "/api/users/42/tracking/fix", fixBody(40, -74, 5, time.Now()))
	if w.Code != http.StatusNotFound {
		t.Errorf("no session status = %d, want 404", w.Code)
	}
}

func TestPauseWithoutSession(t *testing.T) {
	router, _ := newTestRouter(t)

	w := performRequest(router, http.MethodPost, "/api/users/9/tracking/pause", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStopTrackingEndpoint(t *testing.T) {
	router, mock := newTestRouter(t)

	expectSessionStart(mock, 42)
	if w := performRequest(router, http.MethodPost, "/api/users/42/tracking/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start failed")
	}

	// 没有缓冲点时结束会话不写轨迹，只更新会话行
	mock.ExpectExec(`new_segment_count = \$5`).
		WithArgs(state.StateStopped, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(0), 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	w := performRequest(router, http.MethodPost, "/api/users/42/tracking/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body %s", w.Code, w.Body.String())
	}
	st := decodeState(t, w)
	if st.CurrentState != state.StateStopped {
		t.Errorf("state = %s, want stopped", st.CurrentState)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetTrackingState(t *testing.T) {
	router, mock := newTestRouter(t)

	w := performRequest(router, http.MethodGet, "/api/users/42/tracking/state", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", w.Code)
	}

	expectSessionStart(mock, 42)
	performRequest(router, http.MethodPost, "/api/users/42/tracking/start", nil)

	w = performRequest(router, http.MethodGet, "/api/users/42/tracking/state", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if st := decodeState(t, w); st.CurrentState != state.StateActive {
		t.Errorf("state = %s, want active", st.CurrentState)
	}
}

func TestListSegmentsEndpoint(t *testing.T) {
	router, mock := newTestRouter(t)
	now := time.Now()

	// per_page 超过上限时回落到默认值，由 SQL 参数验证
	mock.ExpectQuery(`FROM segments WHERE user_id = \$1 ORDER BY last_visited_at DESC`).
		WithArgs(int64(7), 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "segment_key", "geometry",
			"distance_meters", "visit_count", "first_visited_at", "last_visited_at",
		}).AddRow(int64(3), int64(7), "40.001,-74.000", []byte(`[[-74,40],[-74,40.001]]`), 111.19, 4, now, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM segments`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

	w := performRequest(router, http.MethodGet, "/api/users/7/segments?per_page=500", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data       []models.Segment `json:"data"`
		Pagination struct {
			Page    int `json:"page"`
			PerPage int `json:"per_page"`
			Total   int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Key != "40.001,-74.000" {
		t.Errorf("unexpected segments: %+v", resp.Data)
	}
	if resp.Pagination.PerPage != 20 || resp.Pagination.Total != 1 {
		t.Errorf("unexpected pagination: %+v", resp.Pagination)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetSessionEndpoint(t *testing.T) {
	router, mock := newTestRouter(t)
	sessionID := "7b8cbbda-4162-4f26-8d27-d9a0e957cd9a"

	w := performRequest(router, http.MethodGet, "/api/sessions/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}

	mock.ExpectQuery(`FROM track_sessions WHERE id = \$1`).
		WithArgs(sessionID).
		WillReturnError(pgx.ErrNoRows)
	w = performRequest(router, http.MethodGet, "/api/sessions/"+sessionID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}

	ended := time.Now()
	mock.ExpectQuery(`FROM track_sessions WHERE id = \$1`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "state", "started_at", "ended_at",
			"distance_meters", "duration_seconds", "new_segment_count",
		}).AddRow(sessionID, int64(42), state.StateStopped, ended.Add(-10*time.Minute), &ended, 1532.8, int64(600), 3))
	w = performRequest(router, http.MethodGet, "/api/sessions/"+sessionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data models.TrackSession `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.ID != sessionID || resp.Data.NewSegmentCount != 3 {
		t.Errorf("unexpected session: %+v", resp.Data)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetSessionTraceEndpoint(t *testing.T) {
	router, mock := newTestRouter(t)
	sessionID := "7b8cbbda-4162-4f26-8d27-d9a0e957cd9a"

	mock.ExpectQuery(`FROM traces WHERE session_id = \$1`).
		WithArgs(sessionID).
		WillReturnError(pgx.ErrNoRows)
	w := performRequest(router, http.MethodGet, fmt.Sprintf("/api/sessions/%s/trace", sessionID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing trace status = %d, want 404", w.Code)
	}

	now := time.Now()
	mock.ExpectQuery(`FROM traces WHERE session_id = \$1`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "session_id", "points", "point_count", "started_at", "updated_at",
		}).AddRow(int64(9), int64(42), sessionID,
			[]byte(`[{"lat":40,"lng":-74,"ts":"2024-06-01T08:00:00Z"}]`), 1, now, now))
	w = performRequest(router, http.MethodGet, fmt.Sprintf("/api/sessions/%s/trace", sessionID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data models.Trace `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.PointCount != 1 || len(resp.Data.Points) != 1 {
		t.Errorf("unexpected trace: %+v", resp.Data)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := performRequest(router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestWebSocketRequiresUserID(t *testing.T) {
	router, _ := newTestRouter(t)

	if w := performRequest(router, http.MethodGet, "/ws", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d, want 400", w.Code)
	}
	if w := performRequest(router, http.MethodGet, "/ws?user_id=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad user_id status = %d, want 400", w.Code)
	}
}
