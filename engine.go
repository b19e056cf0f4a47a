package beodesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eringen/beodesk/artifact"
	"github.com/eringen/beodesk/raster"
)

// ArtifactStore keeps original PDFs and page images.
type ArtifactStore interface {
	Store(c artifact.Class, name string, data []byte) error
	Load(c artifact.Class, name string) ([]byte, error)
	Remove(c artifact.Class, name string) error
}

// AnnotationNotifier is told about every saved annotation. Delivery is best
// effort; errors are logged and dropped.
type AnnotationNotifier interface {
	NotifyAnnotationUpdate(ctx context.Context, docID string, page int, payload json.RawMessage) error
}

// Engine drives documents through their lifecycle, keeping registry rows and
// stored artifacts consistent with each other.
type Engine struct {
	*Calendar

	store      *Store
	artifacts  ArtifactStore
	rasterizer raster.Rasterizer
	notifier   AnnotationNotifier
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
	thumb      raster.Profile
	highRes    raster.Profile
	reclaim    bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier sets the listener for saved annotations.
func WithNotifier(n AnnotationNotifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the document identifier generator.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) { e.newID = fn }
}

// WithProfiles sets the thumbnail and high-res rendering profiles.
func WithProfiles(thumb, highRes raster.Profile) EngineOption {
	return func(e *Engine) {
		e.thumb = thumb
		e.highRes = highRes
	}
}

// WithReclaim controls whether DeleteDocument removes the document's
// artifacts.
func WithReclaim(on bool) EngineOption {
	return func(e *Engine) { e.reclaim = on }
}

// NewEngine creates an Engine.
func NewEngine(store *Store, artifacts ArtifactStore, r raster.Rasterizer, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		artifacts:  artifacts,
		rasterizer: r,
		log:        zerolog.Nop(),
		now:        time.Now,
		newID:      uuid.NewString,
		thumb:      raster.Profile{DPI: 75, Quality: 60},
		highRes:    raster.Profile{DPI: 300, Quality: 95},
		reclaim:    true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Calendar = NewCalendar(store, e.now)
	return e
}

type artifactRef struct {
	class artifact.Class
	name  string
}

// put stores data and records it in refs for cleanup on failure.
func (e *Engine) put(refs *[]artifactRef, c artifact.Class, name string, data []byte) error {
	if err := e.artifacts.Store(c, name, data); err != nil {
		return fmt.Errorf("store %s/%s: %w", c, name, err)
	}
	*refs = append(*refs, artifactRef{class: c, name: name})
	return nil
}

// discard removes artifacts, logging failures.
func (e *Engine) discard(refs []artifactRef) {
	for _, r := range refs {
		if err := e.artifacts.Remove(r.class, r.name); err != nil {
			e.log.Warn().Err(err).Str("class", string(r.class)).Str("name", r.name).Msg("remove artifact")
		}
	}
}

func (e *Engine) loadOriginal(sourceID string) ([]byte, error) {
	data, err := e.artifacts.Load(artifact.Original, artifact.OriginalName(sourceID))
	if err != nil {
		return nil, fmt.Errorf("original of %s: %w", sourceID, err)
	}
	return data, nil
}

// renderOrders rasterizes the smallest page range covering orders and
// returns one image per entry of orders.
func (e *Engine) renderOrders(ctx context.Context, pdf []byte, prof raster.Profile, orders []int) ([][]byte, error) {
	span := raster.Range{First: orders[0], Last: orders[0]}
	for _, o := range orders {
		span.First = min(span.First, o)
		span.Last = max(span.Last, o)
	}
	imgs, err := e.rasterizer.Rasterize(ctx, pdf, prof, &span)
	if err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}
	if len(imgs) != span.Len() {
		return nil, fmt.Errorf("%w: source rendered %d pages for range %d-%d", ErrNotFound, len(imgs), span.First, span.Last)
	}
	out := make([][]byte, len(orders))
	for i, o := range orders {
		out[i] = imgs[o-span.First]
	}
	return out, nil
}

// validateIndices checks a page selection against a document of n pages.
func validateIndices(indices []int, n int) error {
	if len(indices) == 0 {
		return fmt.Errorf("%w: no pages selected", ErrInvalidInput)
	}
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: page %d", ErrNotFound, i)
		}
		if seen[i] {
			return fmt.Errorf("%w: page %d selected twice", ErrInvalidInput, i)
		}
		seen[i] = true
	}
	return nil
}

func isPDFName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// validatePDF checks the extension and the content signature.
func validatePDF(name string, data []byte) error {
	if !isPDFName(name) {
		return fmt.Errorf("%w: %q is not a .pdf file", ErrInvalidInput, name)
	}
	if mt := mimetype.Detect(data); !mt.Is("application/pdf") {
		return fmt.Errorf("%w: %q content is %s", ErrInvalidInput, name, mt.String())
	}
	return nil
}

// Ingest registers an uploaded PDF: the original is kept, every page is
// rendered as a thumbnail, and one document with its pages is created in a
// single transaction. Without an explicit date the date is parsed from the
// filename when it has the form "MMDD Weekday.pdf".
func (e *Engine) Ingest(ctx context.Context, u Upload) (IngestResult, error) {
	if err := validatePDF(u.Filename, u.Data); err != nil {
		return IngestResult{}, err
	}
	fileType, err := ParseFileType(string(u.FileType))
	if err != nil {
		return IngestResult{}, err
	}
	date := u.EventDate
	if date == nil {
		if d, ok := ParseFilenameDate(u.Filename, e.now()); ok {
			date = &d
		}
	}

	id := e.newID()
	var refs []artifactRef
	fail := func(err error) (IngestResult, error) {
		e.discard(refs)
		return IngestResult{}, err
	}

	if err := e.put(&refs, artifact.Original, artifact.OriginalName(id), u.Data); err != nil {
		return fail(err)
	}
	thumbs, err := e.rasterizer.Rasterize(ctx, u.Data, e.thumb, nil)
	if err != nil {
		return fail(fmt.Errorf("rasterize %s: %w", u.Filename, err))
	}
	if len(thumbs) == 0 {
		return fail(fmt.Errorf("%w: %s has no pages", ErrMalformedDocument, u.Filename))
	}

	now := e.now().UTC()
	pages := make([]Page, len(thumbs))
	for i, img := range thumbs {
		name := artifact.ThumbnailName(id, i)
		if err := e.put(&refs, artifact.Thumbnail, name, img); err != nil {
			return fail(err)
		}
		pages[i] = Page{DocumentID: id, Index: i, OriginalOrder: i, Thumbnail: name, CreatedAt: now}
	}

	doc := Document{
		ID:         id,
		Filename:   filepath.Base(u.Filename),
		TotalPages: len(thumbs),
		Status:     StatusNew,
		FileType:   fileType,
		SourceID:   id,
		Version:    1,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	doc.setEventDate(date)

	err = e.store.InTx(ctx, func(tx *Tx) error {
		if doc.EventDate != nil {
			pos, err := e.rebalance(ctx, tx, *doc.EventDate, doc.ID, AppendPosition)
			if err != nil {
				return err
			}
			doc.OrderPosition = pos
		}
		if err := tx.CreateDocument(ctx, &doc); err != nil {
			return err
		}
		return tx.CreatePages(ctx, pages)
	})
	if err != nil {
		return fail(err)
	}
	e.log.Info().Str("document_id", id).Str("filename", doc.Filename).Int("pages", doc.TotalPages).Msg("ingested")
	return IngestResult{Document: doc, Thumbnails: thumbs}, nil
}

// IngestBatch ingests several uploads. Files without a .pdf extension are
// skipped. If any ingest fails, documents created by earlier ones are
// deleted again and the error is returned.
func (e *Engine) IngestBatch(ctx context.Context, uploads []Upload) ([]IngestResult, error) {
	results := []IngestResult{}
	for _, u := range uploads {
		if !isPDFName(u.Filename) {
			e.log.Debug().Str("filename", u.Filename).Msg("skipping non-pdf upload")
			continue
		}
		res, err := e.Ingest(ctx, u)
		if err != nil {
			for _, r := range results {
				e.undo(ctx, r.Document.ID)
			}
			return nil, fmt.Errorf("%s: %w", u.Filename, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) undo(ctx context.Context, id string) {
	if err := e.DeleteDocument(context.WithoutCancel(ctx), id); err != nil {
		e.log.Warn().Err(err).Str("document_id", id).Msg("undo document")
	}
}

// SelectPages records that the user picked pages of a document. Selection is
// advisory; nothing is removed.
func (e *Engine) SelectPages(ctx context.Context, id string, indices []int) (Document, error) {
	var doc Document
	err := e.store.InTx(ctx, func(tx *Tx) error {
		var err error
		if doc, err = tx.GetDocument(ctx, id); err != nil {
			return err
		}
		if err := validateIndices(indices, doc.TotalPages); err != nil {
			return err
		}
		if doc.Status, err = advance(doc.Status, StatusSelected); err != nil {
			return err
		}
		doc.UpdatedAt = e.now().UTC()
		return tx.UpdateDocument(ctx, &doc)
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// PromoteToHighRes renders the selected pages from the original PDF at high
// resolution, records them on their pages and returns the images by page
// index. Unselected pages keep whatever they had.
func (e *Engine) PromoteToHighRes(ctx context.Context, id string, indices []int) (map[int][]byte, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := advance(doc.Status, StatusReadyForAnnotation); err != nil {
		return nil, err
	}
	pages, err := e.store.ListPages(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateIndices(indices, len(pages)); err != nil {
		return nil, err
	}
	pdf, err := e.loadOriginal(doc.SourceID)
	if err != nil {
		return nil, err
	}
	orders := make([]int, len(indices))
	for k, i := range indices {
		orders[k] = pages[i].OriginalOrder
	}
	imgs, err := e.renderOrders(ctx, pdf, e.highRes, orders)
	if err != nil {
		return nil, err
	}

	// Only images for pages that had none are removed on failure; the rest
	// replaced a file the registry already points at.
	var fresh []artifactRef
	out := make(map[int][]byte, len(indices))
	for k, i := range indices {
		name := artifact.HighResName(id, i)
		if err := e.artifacts.Store(artifact.HighRes, name, imgs[k]); err != nil {
			e.discard(fresh)
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		if pages[i].HighRes == "" {
			fresh = append(fresh, artifactRef{class: artifact.HighRes, name: name})
		}
		out[i] = imgs[k]
	}

	err = e.store.InTx(ctx, func(tx *Tx) error {
		cur, err := tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status, err = advance(cur.Status, StatusReadyForAnnotation); err != nil {
			return err
		}
		for _, i := range indices {
			if err := tx.SetHighRes(ctx, id, i, artifact.HighResName(id, i)); err != nil {
				return err
			}
		}
		cur.UpdatedAt = e.now().UTC()
		return tx.UpdateDocument(ctx, &cur)
	})
	if err != nil {
		e.discard(fresh)
		return nil, err
	}
	e.log.Info().Str("document_id", id).Int("pages", len(indices)).Msg("promoted to high-res")
	return out, nil
}

// sourcePages returns the page count of the PDF backing parent.
func (e *Engine) sourcePages(ctx context.Context, parent Document) (int, error) {
	if parent.SourceID == parent.ID {
		return parent.TotalPages, nil
	}
	src, err := e.store.GetDocument(ctx, parent.SourceID)
	if err == nil {
		return src.TotalPages, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	// The upload row is gone but its original is still referenced; bound
	// by what the parent itself draws from.
	pages, err := e.store.ListPages(ctx, parent.ID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pages {
		n = max(n, p.OriginalOrder+1)
	}
	return n, nil
}

// SplitIntoDocument derives a new document from pages of the parent's
// source PDF, rendered at both resolutions. Retrying with the same parent,
// number and pages returns the document created the first time.
func (e *Engine) SplitIntoDocument(ctx context.Context, req SplitRequest) (Document, error) {
	if req.OrderPosition != nil && *req.OrderPosition < 0 {
		return Document{}, fmt.Errorf("%w: negative order position %d", ErrInvalidInput, *req.OrderPosition)
	}
	parent, err := e.store.GetDocument(ctx, req.ParentID)
	if err != nil {
		return Document{}, err
	}
	limit, err := e.sourcePages(ctx, parent)
	if err != nil {
		return Document{}, err
	}
	if err := validateIndices(req.PageIndices, limit); err != nil {
		return Document{}, err
	}
	number := strings.TrimSpace(req.Number)
	doc, _, err := e.split(ctx, parent, &number, req.PageIndices, req.OrderPosition, 0)
	return doc, err
}

// ProcessAllPages turns each upload into a ready-to-annotate document holding
// all of its pages, skipping the review step. Unknown ids and uploads whose
// original is gone are skipped. Documents are numbered per day ("1028-03")
// or, when undated, per batch ("B20251028-02").
func (e *Engine) ProcessAllPages(ctx context.Context, ids []string) ([]Document, error) {
	out := []Document{}
	var created []string
	for i, id := range ids {
		parent, err := e.store.GetDocument(ctx, id)
		if errors.Is(err, ErrNotFound) {
			e.log.Warn().Str("document_id", id).Msg("process all pages: unknown document")
			continue
		}
		if err != nil {
			return nil, e.undoAll(ctx, created, err)
		}
		pages, err := e.store.ListPages(ctx, id)
		if err != nil {
			return nil, e.undoAll(ctx, created, err)
		}
		if len(pages) == 0 {
			continue
		}
		orders := make([]int, len(pages))
		for k, p := range pages {
			orders[k] = p.OriginalOrder
		}
		doc, isNew, err := e.split(ctx, parent, nil, orders, nil, i)
		if errors.Is(err, ErrArtifactMissing) {
			e.log.Warn().Err(err).Str("document_id", id).Msg("process all pages: original missing")
			continue
		}
		if err != nil {
			return nil, e.undoAll(ctx, created, err)
		}
		if isNew {
			created = append(created, doc.ID)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (e *Engine) undoAll(ctx context.Context, ids []string, err error) error {
	for _, id := range ids {
		e.undo(ctx, id)
	}
	return err
}

// batchNumber names a document created without a number.
func batchNumber(date *time.Time, pos int, now time.Time, batch int) string {
	if date != nil {
		return fmt.Sprintf("%s-%02d", date.Format("0102"), pos+1)
	}
	return fmt.Sprintf("B%s-%02d", now.Format("20060102"), batch+1)
}

// split creates a document from the given source orders of parent. A nil
// number matches any existing split and assigns a batch number. It reports
// whether a new document was created.
func (e *Engine) split(ctx context.Context, parent Document, number *string, orders []int, pos *int, batch int) (Document, bool, error) {
	if existing, ok, err := e.store.FindSplit(ctx, parent.ID, number, orders); err != nil {
		return Document{}, false, err
	} else if ok {
		return existing, false, nil
	}

	pdf, err := e.loadOriginal(parent.SourceID)
	if err != nil {
		return Document{}, false, err
	}
	thumbs, err := e.renderOrders(ctx, pdf, e.thumb, orders)
	if err != nil {
		return Document{}, false, err
	}
	highs, err := e.renderOrders(ctx, pdf, e.highRes, orders)
	if err != nil {
		return Document{}, false, err
	}

	now := e.now().UTC()
	doc := Document{
		ID:         e.newID(),
		Filename:   parent.Filename,
		TotalPages: len(orders),
		Status:     StatusReadyForAnnotation,
		FileType:   parent.FileType,
		ParentID:   parent.ID,
		SourceID:   parent.SourceID,
		Version:    1,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if number != nil {
		doc.Number = *number
	}
	doc.setEventDate(parent.EventDate)

	var refs []artifactRef
	pages := make([]Page, len(orders))
	for k, o := range orders {
		thumbName := artifact.ThumbnailName(doc.ID, k)
		highName := artifact.HighResName(doc.ID, k)
		if err := e.put(&refs, artifact.Thumbnail, thumbName, thumbs[k]); err != nil {
			e.discard(refs)
			return Document{}, false, err
		}
		if err := e.put(&refs, artifact.HighRes, highName, highs[k]); err != nil {
			e.discard(refs)
			return Document{}, false, err
		}
		pages[k] = Page{DocumentID: doc.ID, Index: k, OriginalOrder: o, Thumbnail: thumbName, HighRes: highName, CreatedAt: now}
	}

	var existing *Document
	err = e.store.InTx(ctx, func(tx *Tx) error {
		found, ok, err := tx.FindSplit(ctx, parent.ID, number, orders)
		if err != nil {
			return err
		}
		if ok {
			existing = &found
			return nil
		}
		if doc.EventDate != nil {
			want := AppendPosition
			if pos != nil {
				want = *pos
			}
			if doc.OrderPosition, err = e.rebalance(ctx, tx, *doc.EventDate, doc.ID, want); err != nil {
				return err
			}
		}
		if number == nil {
			doc.Number = batchNumber(doc.EventDate, doc.OrderPosition, now, batch)
		}
		if err := tx.CreateDocument(ctx, &doc); err != nil {
			return err
		}
		return tx.CreatePages(ctx, pages)
	})
	if err != nil {
		e.discard(refs)
		return Document{}, false, err
	}
	if existing != nil {
		e.discard(refs)
		return *existing, false, nil
	}
	e.log.Info().Str("document_id", doc.ID).Str("parent_id", parent.ID).Str("number", doc.Number).
		Int("pages", doc.TotalPages).Msg("split document")
	return doc, true, nil
}

// SaveAnnotation stores the markup of one page, replacing any earlier save,
// and marks the document annotated. Listeners are notified after the commit.
func (e *Engine) SaveAnnotation(ctx context.Context, id string, page int, payload json.RawMessage) error {
	if len(payload) == 0 || !json.Valid(payload) {
		return fmt.Errorf("%w: annotation payload is not valid JSON", ErrInvalidInput)
	}
	err := e.store.InTx(ctx, func(tx *Tx) error {
		doc, err := tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if page < 0 || page >= doc.TotalPages {
			return fmt.Errorf("%w: page %d of %s", ErrNotFound, page, id)
		}
		if doc.Status, err = advance(doc.Status, StatusAnnotated); err != nil {
			return err
		}
		now := e.now().UTC()
		if err := tx.UpsertAnnotation(ctx, Annotation{
			DocumentID: id,
			PageIndex:  page,
			Payload:    payload,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		doc.UpdatedAt = now
		return tx.UpdateDocument(ctx, &doc)
	})
	if err != nil {
		return err
	}
	e.notify(ctx, id, page, payload)
	return nil
}

func (e *Engine) notify(ctx context.Context, id string, page int, payload json.RawMessage) {
	if e.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn().Interface("panic", r).Str("document_id", id).Msg("annotation notifier panicked")
		}
	}()
	if err := e.notifier.NotifyAnnotationUpdate(ctx, id, page, payload); err != nil {
		e.log.Warn().Err(err).Str("document_id", id).Int("page", page).Msg("annotation notify")
	}
}

// DeleteDocument removes a document with its pages and annotations and closes
// the gap it leaves on its day. With reclaim on, its page images are removed
// too, and its original PDF once no other document draws from it.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	var (
		doc   Document
		pages []Page
		users int
	)
	err := e.store.InTx(ctx, func(tx *Tx) error {
		var err error
		if doc, err = tx.GetDocument(ctx, id); err != nil {
			return err
		}
		if pages, err = tx.ListPages(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteDocument(ctx, id); err != nil {
			return err
		}
		if doc.EventDate != nil && doc.Active {
			if err := e.densify(ctx, tx, *doc.EventDate, id); err != nil {
				return err
			}
		}
		users, err = tx.CountSourceUsers(ctx, doc.SourceID, id)
		return err
	})
	if err != nil {
		return err
	}
	e.log.Info().Str("document_id", id).Msg("deleted")

	if !e.reclaim {
		return nil
	}
	var refs []artifactRef
	for _, p := range pages {
		if p.Thumbnail != "" {
			refs = append(refs, artifactRef{class: artifact.Thumbnail, name: p.Thumbnail})
		}
		if p.HighRes != "" {
			refs = append(refs, artifactRef{class: artifact.HighRes, name: p.HighRes})
		}
	}
	if users == 0 {
		refs = append(refs, artifactRef{class: artifact.Original, name: artifact.OriginalName(doc.SourceID)})
	}
	e.discard(refs)
	return nil
}

// GetDocument returns a document with its pages and annotations.
func (e *Engine) GetDocument(ctx context.Context, id string) (DocumentDetail, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return DocumentDetail{}, err
	}
	pages, err := e.store.ListPages(ctx, id)
	if err != nil {
		return DocumentDetail{}, err
	}
	anns, err := e.store.ListAnnotations(ctx, id)
	if err != nil {
		return DocumentDetail{}, err
	}
	detail := DocumentDetail{
		Document:    doc,
		Pages:       pages,
		Annotations: make(map[int]json.RawMessage, len(anns)),
	}
	if detail.Pages == nil {
		detail.Pages = []Page{}
	}
	for _, a := range anns {
		detail.Annotations[a.PageIndex] = a.Payload
	}
	return detail, nil
}

// ListDocuments returns all documents, newest first.
func (e *Engine) ListDocuments(ctx context.Context) ([]Document, error) {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// Pages returns a document with the high-res artifact names of its promoted
// pages by page index.
func (e *Engine) Pages(ctx context.Context, id string) (Document, map[int]string, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	pages, err := e.store.ListPages(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	out := make(map[int]string)
	for _, p := range pages {
		if p.HighRes != "" {
			out[p.Index] = p.HighRes
		}
	}
	return doc, out, nil
}

// Export returns every page image of a document, high-res where promoted,
// with the page's annotation.
func (e *Engine) Export(ctx context.Context, id string) (Export, error) {
	detail, err := e.GetDocument(ctx, id)
	if err != nil {
		return Export{}, err
	}
	exp := Export{Filename: detail.Filename, Pages: make([]ExportPage, 0, len(detail.Pages))}
	for _, p := range detail.Pages {
		class, name := artifact.HighRes, p.HighRes
		if name == "" {
			class, name = artifact.Thumbnail, p.Thumbnail
		}
		if name == "" {
			return Export{}, fmt.Errorf("%w: page %d of %s has no image", ErrArtifactMissing, p.Index, id)
		}
		img, err := e.artifacts.Load(class, name)
		if err != nil {
			return Export{}, fmt.Errorf("page %d of %s: %w", p.Index, id, err)
		}
		ann, ok := detail.Annotations[p.Index]
		if !ok {
			ann = json.RawMessage(`{}`)
		}
		exp.Pages = append(exp.Pages, ExportPage{PageNumber: p.Index + 1, Image: img, Annotation: ann})
	}
	return exp, nil
}
