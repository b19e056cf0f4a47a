package beodesk

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/beodesk/artifact"
)

func (a *App) setupRoutes() {
	e := a.Echo

	e.Static("/storage", a.Config.StorageRoot)
	e.GET("/healthz", a.handleHealth)

	api := e.Group("/api")
	api.POST("/upload-pdf", a.handleUpload)
	api.POST("/upload-multiple-pdfs", a.handleUploadMultiple)
	api.POST("/process-all-pages", a.handleProcessAll)
	api.POST("/select-pages", a.handleSelectPages)
	api.POST("/process-selected-pages", a.handleProcessSelected)
	api.POST("/save-annotation", a.handleSaveAnnotation)
	api.GET("/session/:id", a.handleSession)
	api.GET("/export/:id", a.handleExport)

	api.GET("/beos", a.handleListBEOs)
	api.POST("/beos/create-from-pages", a.handleCreateFromPages)
	api.GET("/beos/week/:year/:week", a.handleWeek)
	api.GET("/beos/day/:date", a.handleDay)
	api.PATCH("/beos/metadata", a.handleMetadata)
	api.POST("/beos/reorder", a.handleReorder)
	api.GET("/beos/:id/pages", a.handleBEOPages)
	api.DELETE("/beos/:id", a.handleDelete)

	e.GET("/ws/:id", a.handleWS)

	e.GET("/calendar/", a.handleCalendarToday)
	e.GET("/calendar/:year/:week/", a.handleCalendar)
}

type uploadResponse struct {
	Document
	Pages [][]byte `json:"pages"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type pagesRequest struct {
	SessionID     string `json:"session_id"`
	SelectedPages []int  `json:"selected_pages"`
}

type annotationRequest struct {
	SessionID      string          `json:"session_id"`
	PageIndex      int             `json:"page_index"`
	AnnotationData json.RawMessage `json:"annotation_data"`
}

type processAllRequest struct {
	SessionIDs []string `json:"session_ids"`
}

type createFromPagesRequest struct {
	ParentSessionID string `json:"parent_session_id"`
	BeoNumber       string `json:"beo_number"`
	PageIndices     []int  `json:"page_indices"`
	OrderPosition   *int   `json:"order_position"`
}

type metadataRequest struct {
	SessionID     string  `json:"session_id"`
	BeoNumber     *string `json:"beo_number"`
	EventDate     *string `json:"event_date"`
	OrderPosition *int    `json:"order_position"`
}

type reorderRequest struct {
	SessionID     string `json:"session_id"`
	EventDate     string `json:"event_date"`
	OrderPosition int    `json:"order_position"`
}

func requireID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	return nil
}

func intParam(c echo.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidInput, name)
	}
	return n, nil
}

// readUpload turns a multipart file into an Upload. Empty fileType and
// eventDate fall back to the defaults Ingest applies.
func (a *App) readUpload(fh *multipart.FileHeader, fileType, eventDate string) (Upload, error) {
	ft, err := ParseFileType(fileType)
	if err != nil {
		return Upload{}, err
	}
	u := Upload{Filename: fh.Filename, FileType: ft}
	if eventDate != "" {
		d, err := ParseEventDate(eventDate)
		if err != nil {
			return Upload{}, err
		}
		u.EventDate = &d
	}

	f, err := fh.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, a.Config.MaxUploadSize+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > a.Config.MaxUploadSize {
		return Upload{}, fmt.Errorf("%w: %s exceeds the upload size limit", ErrInvalidInput, fh.Filename)
	}
	u.Data = data
	return u, nil
}

func (a *App) allowUpload(c echo.Context) error {
	if !a.uploadLimiter.Allow(c.RealIP()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many uploads, try again later")
	}
	return nil
}

func (a *App) handleUpload(c echo.Context) error {
	if err := a.allowUpload(c); err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	u, err := a.readUpload(fh, c.FormValue("file_type"), c.FormValue("event_date"))
	if err != nil {
		return err
	}
	res, err := a.Engine.Ingest(c.Request().Context(), u)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, uploadResponse{Document: res.Document, Pages: res.Thumbnails})
}

// handleUploadMultiple reads parallel file_types and event_dates lists; a
// missing entry uses the default for that file.
func (a *App) handleUploadMultiple(c echo.Context) error {
	if err := a.allowUpload(c); err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return fmt.Errorf("%w: multipart form expected", ErrInvalidInput)
	}
	files := form.File["files"]
	if len(files) == 0 {
		return fmt.Errorf("%w: files are required", ErrInvalidInput)
	}
	types, dates := form.Value["file_types"], form.Value["event_dates"]
	at := func(vals []string, i int) string {
		if i < len(vals) {
			return vals[i]
		}
		return ""
	}

	uploads := make([]Upload, 0, len(files))
	for i, fh := range files {
		u, err := a.readUpload(fh, at(types, i), at(dates, i))
		if err != nil {
			return fmt.Errorf("%s: %w", fh.Filename, err)
		}
		uploads = append(uploads, u)
	}

	results, err := a.Engine.IngestBatch(c.Request().Context(), uploads)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	out := make([]uploadResponse, len(results))
	for i, r := range results {
		out[i] = uploadResponse{Document: r.Document, Pages: r.Thumbnails}
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(out), "sessions": out})
}

func (a *App) handleProcessAll(c echo.Context) error {
	var req processAllRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.SessionIDs) == 0 {
		return fmt.Errorf("%w: session_ids is required", ErrInvalidInput)
	}
	docs, err := a.Engine.ProcessAllPages(c.Request().Context(), req.SessionIDs)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, map[string]any{"count": len(docs), "beos": docs})
}

func (a *App) handleSelectPages(c echo.Context) error {
	var req pagesRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := requireID(req.SessionID); err != nil {
		return err
	}
	doc, err := a.Engine.SelectPages(c.Request().Context(), req.SessionID, req.SelectedPages)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "success",
		"selected_count": len(req.SelectedPages),
		"document":       doc,
	})
}

func (a *App) handleProcessSelected(c echo.Context) error {
	var req pagesRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := requireID(req.SessionID); err != nil {
		return err
	}
	images, err := a.Engine.PromoteToHighRes(c.Request().Context(), req.SessionID, req.SelectedPages)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "success",
		"processed_pages": len(images),
		"high_res_pages":  images,
	})
}

func (a *App) handleSaveAnnotation(c echo.Context) error {
	var req annotationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := requireID(req.SessionID); err != nil {
		return err
	}
	if err := a.Engine.SaveAnnotation(c.Request().Context(), req.SessionID, req.PageIndex, req.AnnotationData); err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

func (a *App) handleSession(c echo.Context) error {
	detail, err := a.Engine.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (a *App) handleExport(c echo.Context) error {
	exp, err := a.Engine.Export(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exp)
}

func (a *App) handleListBEOs(c echo.Context) error {
	docs, err := a.Engine.ListDocuments(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(docs), "beos": docs})
}

func (a *App) handleCreateFromPages(c echo.Context) error {
	var req createFromPagesRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.ParentSessionID == "" {
		return fmt.Errorf("%w: parent_session_id is required", ErrInvalidInput)
	}
	doc, err := a.Engine.SplitIntoDocument(c.Request().Context(), SplitRequest{
		ParentID:      req.ParentSessionID,
		Number:        req.BeoNumber,
		PageIndices:   req.PageIndices,
		OrderPosition: req.OrderPosition,
	})
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusCreated, map[string]any{
		"status":     "success",
		"session_id": doc.ID,
		"beo_number": doc.Number,
		"document":   doc,
	})
}

func (a *App) handleWeek(c echo.Context) error {
	year, err := intParam(c, "year")
	if err != nil {
		return err
	}
	week, err := intParam(c, "week")
	if err != nil {
		return err
	}
	w, err := a.Cache.Week(c.Request().Context(), year, week)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (a *App) handleDay(c echo.Context) error {
	day, err := ParseEventDate(c.Param("date"))
	if err != nil {
		return err
	}
	docs, err := a.Engine.ListByDay(c.Request().Context(), day)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"date":  day.Format(dateLayout),
		"count": len(docs),
		"beos":  docs,
	})
}

func (a *App) handleMetadata(c echo.Context) error {
	var req metadataRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := requireID(req.SessionID); err != nil {
		return err
	}
	u := MetadataUpdate{Number: req.BeoNumber, OrderPosition: req.OrderPosition}
	if req.EventDate != nil {
		d, err := ParseEventDate(*req.EventDate)
		if err != nil {
			return err
		}
		u.EventDate = &d
	}
	doc, err := a.Engine.UpdateMetadata(c.Request().Context(), req.SessionID, u)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, doc)
}

func (a *App) handleReorder(c echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := requireID(req.SessionID); err != nil {
		return err
	}
	day, err := ParseEventDate(req.EventDate)
	if err != nil {
		return err
	}
	doc, err := a.Engine.PlaceOnCalendar(c.Request().Context(), req.SessionID, day, req.OrderPosition)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, doc)
}

func (a *App) handleBEOPages(c echo.Context) error {
	doc, names, err := a.Engine.Pages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	urls := make(map[int]string, len(names))
	for page, name := range names {
		urls[page] = "/storage/" + string(artifact.HighRes) + "/" + url.PathEscape(name)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":     doc.ID,
		"beo_number":     doc.DisplayNumber(),
		"filename":       doc.Filename,
		"total_pages":    doc.TotalPages,
		"high_res_pages": urls,
	})
}

func (a *App) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if err := a.Engine.DeleteDocument(c.Request().Context(), id); err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "session_id": id})
}

func (a *App) handleWS(c echo.Context) error {
	id := c.Param("id")
	if _, err := a.Store.GetDocument(c.Request().Context(), id); err != nil {
		return err
	}
	if err := a.Hub.ServeWS(c.Response(), c.Request(), id); err != nil {
		a.Log.Debug().Err(err).Str("document_id", id).Msg("websocket closed")
	}
	return nil
}

func (a *App) handleHealth(c echo.Context) error {
	if err := a.Store.db.PingContext(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleCalendarToday(c echo.Context) error {
	year, week := time.Now().ISOWeek()
	return c.Redirect(http.StatusFound, weekLink(year, week))
}

func (a *App) handleCalendar(c echo.Context) error {
	year, err := intParam(c, "year")
	if err != nil {
		return err
	}
	week, err := intParam(c, "week")
	if err != nil {
		return err
	}
	w, err := a.Cache.Week(c.Request().Context(), year, week)
	if err != nil {
		return err
	}
	return Render(c, a.Views.WeekBoard(w))
}
