package beodesk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, pages int, opts ...func(*Config)) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		DatabasePath:  filepath.Join(dir, "data", "beodesk.db"),
		StorageRoot:   filepath.Join(dir, "storage"),
		RasterWorkers: 2,
	}
	for _, o := range opts {
		o(&cfg)
	}
	a := New(cfg, WithRasterizer(&fakeRasterizer{pages: pages}), WithLogger(zerolog.Nop()))
	require.NoError(t, a.Setup())
	t.Cleanup(func() { a.Close() })
	return a
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, path string, values map[string][]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, vs := range values {
		for _, v := range vs {
			require.NoError(t, w.WriteField(k, v))
		}
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(a *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type uploaded struct {
	Document
	Pages [][]byte `json:"pages"`
}

func upload(t *testing.T, a *App, name, date string) uploaded {
	t.Helper()
	values := map[string][]string{}
	if date != "" {
		values["event_date"] = []string{date}
	}
	rec := serve(a, multipartRequest(t, "/api/upload-pdf", values, formFile{"file", name, testPDF}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out uploaded
	decode(t, rec, &out)
	return out
}

func TestUploadPDF(t *testing.T) {
	a := newTestApp(t, 3)

	rec := serve(a, multipartRequest(t, "/api/upload-pdf",
		map[string][]string{"event_date": {"2026-03-10"}, "file_type": {"addition"}},
		formFile{"file", "gala.pdf", testPDF}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out uploaded
	decode(t, rec, &out)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "gala.pdf", out.Filename)
	assert.Equal(t, 3, out.TotalPages)
	assert.Equal(t, StatusNew, out.Status)
	assert.Equal(t, FileTypeAddition, out.FileType)
	assert.Equal(t, "Tuesday", out.DayOfWeek)
	assert.Equal(t, 11, out.WeekNumber)
	require.Len(t, out.Pages, 3)
	assert.Equal(t, "page=1 dpi=75", string(out.Pages[1]))

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/api/session/"+out.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail DocumentDetail
	decode(t, rec, &detail)
	assert.Len(t, detail.Pages, 3)

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/storage/thumbnails/"+detail.Pages[2].Thumbnail, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page=2 dpi=75", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
}

func TestUploadRejectsBadInput(t *testing.T) {
	a := newTestApp(t, 1)

	tests := []struct {
		name   string
		values map[string][]string
		file   formFile
	}{
		{"not a pdf", nil, formFile{"file", "notes.txt", []byte("hello")}},
		{"pdf name without pdf bytes", nil, formFile{"file", "fake.pdf", []byte("hello")}},
		{"bad date", map[string][]string{"event_date": {"10/03/2026"}}, formFile{"file", "a.pdf", testPDF}},
		{"bad file type", map[string][]string{"file_type": {"weekly"}}, formFile{"file", "a.pdf", testPDF}},
		{"wrong field", nil, formFile{"upload", "a.pdf", testPDF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(a, multipartRequest(t, "/api/upload-pdf", tt.values, tt.file))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}

	rec := serve(a, httptest.NewRequest(http.MethodGet, "/api/beos", nil))
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	assert.Zero(t, list.Count)
}

func TestUploadRateLimit(t *testing.T) {
	a := newTestApp(t, 1, func(c *Config) { c.UploadLimit = 2 })

	upload(t, a, "a.pdf", "")
	upload(t, a, "b.pdf", "")
	rec := serve(a, multipartRequest(t, "/api/upload-pdf", nil, formFile{"file", "c.pdf", testPDF}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUploadMultiple(t *testing.T) {
	a := newTestApp(t, 2)

	rec := serve(a, multipartRequest(t, "/api/upload-multiple-pdfs",
		map[string][]string{"event_dates": {"2026-03-10", "", "2026-03-10"}},
		formFile{"files", "a.pdf", testPDF},
		formFile{"files", "readme.txt", []byte("skip me")},
		formFile{"files", "c.pdf", testPDF},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Count    int        `json:"count"`
		Sessions []uploaded `json:"sessions"`
	}
	decode(t, rec, &out)
	require.Equal(t, 2, out.Count)
	assert.Equal(t, "a.pdf", out.Sessions[0].Filename)
	assert.Equal(t, "c.pdf", out.Sessions[1].Filename)
	assert.Equal(t, 0, out.Sessions[0].OrderPosition)
	assert.Equal(t, 1, out.Sessions[1].OrderPosition)
}

func TestReviewFlow(t *testing.T) {
	a := newTestApp(t, 3)
	doc := upload(t, a, "gala.pdf", "2026-03-10")

	// Annotating before promotion is a conflict.
	rec := serve(a, jsonRequest(t, http.MethodPost, "/api/save-annotation", map[string]any{
		"session_id": doc.ID, "page_index": 0, "annotation_data": map[string]any{"objects": []any{}},
	}))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/select-pages", map[string]any{
		"session_id": doc.ID, "selected_pages": []int{0, 2},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/process-selected-pages", map[string]any{
		"session_id": doc.ID, "selected_pages": []int{0, 2},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var promoted struct {
		Processed int               `json:"processed_pages"`
		Pages     map[string][]byte `json:"high_res_pages"`
	}
	decode(t, rec, &promoted)
	assert.Equal(t, 2, promoted.Processed)
	assert.Equal(t, "page=2 dpi=300", string(promoted.Pages["2"]))

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/save-annotation", map[string]any{
		"session_id": doc.ID, "page_index": 2, "annotation_data": map[string]any{"objects": []any{"line"}},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/api/beos/"+doc.ID+"/pages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var pages struct {
		HighRes map[string]string `json:"high_res_pages"`
	}
	decode(t, rec, &pages)
	require.Len(t, pages.HighRes, 2)
	assert.True(t, strings.HasPrefix(pages.HighRes["0"], "/storage/high_res/"))

	rec = serve(a, httptest.NewRequest(http.MethodGet, pages.HighRes["0"], nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page=0 dpi=300", rec.Body.String())

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/api/export/"+doc.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var exp Export
	decode(t, rec, &exp)
	require.Len(t, exp.Pages, 3)
	assert.Equal(t, 1, exp.Pages[0].PageNumber)
	assert.Equal(t, "page=1 dpi=75", string(exp.Pages[1].Image))
	assert.JSONEq(t, `{"objects":["line"]}`, string(exp.Pages[2].Annotation))
	assert.JSONEq(t, `{}`, string(exp.Pages[0].Annotation))

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/api/session/"+doc.ID, nil))
	var detail DocumentDetail
	decode(t, rec, &detail)
	assert.Equal(t, StatusAnnotated, detail.Status)
}

func TestPageErrors(t *testing.T) {
	a := newTestApp(t, 2)
	doc := upload(t, a, "gala.pdf", "")

	rec := serve(a, jsonRequest(t, http.MethodPost, "/api/select-pages", map[string]any{
		"session_id": doc.ID, "selected_pages": []int{5},
	}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/select-pages", map[string]any{
		"session_id": doc.ID, "selected_pages": []int{},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/select-pages", map[string]any{
		"session_id": "missing", "selected_pages": []int{0},
	}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/process-selected-pages", map[string]any{
		"selected_pages": []int{0},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingOriginalIsGone(t *testing.T) {
	a := newTestApp(t, 2)
	doc := upload(t, a, "gala.pdf", "")
	require.NoError(t, a.Artifacts.Remove("originals", doc.ID+".pdf"))

	rec := serve(a, jsonRequest(t, http.MethodPost, "/api/process-selected-pages", map[string]any{
		"session_id": doc.ID, "selected_pages": []int{0},
	}))
	assert.Equal(t, http.StatusGone, rec.Code, rec.Body.String())
}

func TestCreateFromPagesAndCalendar(t *testing.T) {
	a := newTestApp(t, 3)
	parent := upload(t, a, "gala.pdf", "2026-03-10")

	rec := serve(a, jsonRequest(t, http.MethodPost, "/api/beos/create-from-pages", map[string]any{
		"parent_session_id": parent.ID, "beo_number": "A-17", "page_indices": []int{2, 0},
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		SessionID string   `json:"session_id"`
		Document  Document `json:"document"`
	}
	decode(t, rec, &created)
	assert.Equal(t, "A-17", created.Document.Number)
	assert.Equal(t, parent.ID, created.Document.ParentID)
	assert.Equal(t, 2, created.Document.TotalPages)
	assert.Equal(t, StatusReadyForAnnotation, created.Document.Status)

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/api/beos/week/2026/11", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var week Week
	decode(t, rec, &week)
	require.Len(t, week.Days["Tuesday"], 2)
	assert.Equal(t, parent.ID, week.Days["Tuesday"][0].ID)
	assert.Equal(t, created.SessionID, week.Days["Tuesday"][1].ID)
	assert.Len(t, week.Days, 7)

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/calendar/2026/11/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "A-17")
	assert.Contains(t, rec.Body.String(), "gala.pdf")

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/calendar/2026/11", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
}

func TestReorderInvalidatesWeek(t *testing.T) {
	a := newTestApp(t, 1)
	first := upload(t, a, "first.pdf", "2026-03-10")
	second := upload(t, a, "second.pdf", "2026-03-10")

	week := func() []DocumentSummary {
		rec := serve(a, httptest.NewRequest(http.MethodGet, "/api/beos/week/2026/11", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var w Week
		decode(t, rec, &w)
		return w.Days["Tuesday"]
	}
	before := week()
	require.Len(t, before, 2)
	assert.Equal(t, first.ID, before[0].ID)

	rec := serve(a, jsonRequest(t, http.MethodPost, "/api/beos/reorder", map[string]any{
		"session_id": second.ID, "event_date": "2026-03-10", "order_position": 0,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	after := week()
	require.Len(t, after, 2)
	assert.Equal(t, second.ID, after[0].ID)
	assert.Equal(t, 0, after[0].OrderPosition)
	assert.Equal(t, 1, after[1].OrderPosition)

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/api/beos/day/2026-03-10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var day struct {
		Date string            `json:"date"`
		BEOs []DocumentSummary `json:"beos"`
	}
	decode(t, rec, &day)
	assert.Equal(t, "2026-03-10", day.Date)
	require.Len(t, day.BEOs, 2)
	assert.Equal(t, second.ID, day.BEOs[0].ID)

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/beos/reorder", map[string]any{
		"session_id": second.ID, "event_date": "2026-03-10", "order_position": -1,
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadataPatch(t *testing.T) {
	a := newTestApp(t, 1)
	doc := upload(t, a, "gala.pdf", "")

	rec := serve(a, jsonRequest(t, http.MethodPatch, "/api/beos/metadata", map[string]any{
		"session_id": doc.ID, "beo_number": "B-2", "event_date": "2026-03-11",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got Document
	decode(t, rec, &got)
	assert.Equal(t, "B-2", got.Number)
	assert.Equal(t, "Wednesday", got.DayOfWeek)
	require.NotNil(t, got.EventDate)
	assert.Equal(t, "2026-03-11", got.EventDate.Format(time.DateOnly))

	rec = serve(a, jsonRequest(t, http.MethodPatch, "/api/beos/metadata", map[string]any{
		"session_id": doc.ID, "event_date": "not a date",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeekValidation(t *testing.T) {
	a := newTestApp(t, 1)

	for _, path := range []string{"/api/beos/week/2026/0", "/api/beos/week/2026/54", "/api/beos/week/abc/3", "/api/beos/day/yesterday"} {
		rec := serve(a, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	a := newTestApp(t, 2)
	doc := upload(t, a, "gala.pdf", "")

	rec := serve(a, httptest.NewRequest(http.MethodDelete, "/api/beos/"+doc.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/api/session/"+doc.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(a, httptest.NewRequest(http.MethodDelete, "/api/beos/"+doc.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := a.Artifacts.Load("originals", doc.ID+".pdf")
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestProcessAllPagesEndpoint(t *testing.T) {
	a := newTestApp(t, 2)
	x := upload(t, a, "x.pdf", "2026-03-10")
	y := upload(t, a, "y.pdf", "")

	rec := serve(a, jsonRequest(t, http.MethodPost, "/api/process-all-pages", map[string]any{
		"session_ids": []string{x.ID, "missing", y.ID},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Count int        `json:"count"`
		BEOs  []Document `json:"beos"`
	}
	decode(t, rec, &out)
	require.Equal(t, 2, out.Count)
	for _, d := range out.BEOs {
		assert.Equal(t, StatusReadyForAnnotation, d.Status)
		assert.Equal(t, 2, d.TotalPages)
	}
	assert.Equal(t, "0310-02", out.BEOs[0].Number)

	rec = serve(a, jsonRequest(t, http.MethodPost, "/api/process-all-pages", map[string]any{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketAnnotationUpdates(t *testing.T) {
	a := newTestApp(t, 1)
	doc := upload(t, a, "gala.pdf", "")
	rec := serve(a, jsonRequest(t, http.MethodPost, "/api/process-selected-pages", map[string]any{
		"session_id": doc.ID, "selected_pages": []int{0},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	srv := httptest.NewServer(a.Echo)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/"+doc.ID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return a.Hub.Subscribers(doc.ID) == 1 }, time.Second, 5*time.Millisecond)

	body := fmt.Sprintf(`{"session_id":%q,"page_index":0,"annotation_data":{"objects":[1]}}`, doc.ID)
	res, err := http.Post(srv.URL+"/api/save-annotation", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var update struct {
		Type      string          `json:"type"`
		SessionID string          `json:"session_id"`
		PageIndex int             `json:"page_index"`
		Data      json.RawMessage `json:"annotation_data"`
	}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "annotation_update", update.Type)
	assert.Equal(t, doc.ID, update.SessionID)
	assert.JSONEq(t, `{"objects":[1]}`, string(update.Data))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound},
		{ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("page 1: %w", ErrArtifactMissing), http.StatusGone},
		{fmt.Errorf("rasterize: %w", ErrMalformedDocument), http.StatusUnprocessableEntity},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, 1)
	rec := serve(a, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
