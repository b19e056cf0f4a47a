package beodesk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout stores timestamps as sortable UTC text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the registry's statements so they run the same way inside
// and outside a transaction.
type queries struct {
	ex execer
}

// Store is the document registry: documents, their pages and annotations in
// a SQLite database.
type Store struct {
	queries
	db *sql.DB
}

// Tx is a registry transaction. Obtain one with Store.InTx.
type Tx struct {
	queries
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and creates the schema.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// WAL lets readers proceed alongside the single writer. Transactions
	// begin IMMEDIATE so two writers on the same day serialize at BEGIN
	// instead of failing at their first write.
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{queries: queries{ex: db}, db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    number TEXT,
    total_pages INTEGER NOT NULL,
    status TEXT NOT NULL,
    file_type TEXT NOT NULL,
    event_date TEXT,
    day_of_week TEXT,
    week_number INTEGER,
    year INTEGER,
    order_position INTEGER NOT NULL DEFAULT 0,
    is_revision INTEGER NOT NULL DEFAULT 0,
    parent_id TEXT,
    source_id TEXT NOT NULL,
    version_number INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_day ON documents (event_date, is_active, order_position);
CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents (parent_id);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents (source_id);

CREATE TABLE IF NOT EXISTS pages (
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    page_index INTEGER NOT NULL,
    original_order INTEGER NOT NULL,
    thumbnail TEXT,
    high_res TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (document_id, page_index)
);

CREATE TABLE IF NOT EXISTS annotations (
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    page_index INTEGER NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (document_id, page_index)
);
`)
	return err
}

// InTx runs fn in a transaction, committing if it returns nil and rolling
// back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&Tx{queries{ex: sqlTx}}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, number, total_pages, status, file_type, event_date, day_of_week,
	week_number, year, order_position, is_revision, parent_id, source_id, version_number, is_active,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		d                      Document
		number, eventDate, dow sql.NullString
		parent                 sql.NullString
		week, year             sql.NullInt64
		isRevision, isActive   int
		status, fileType       string
		createdAt, updatedAt   string
	)
	err := row.Scan(&d.ID, &d.Filename, &number, &d.TotalPages, &status, &fileType, &eventDate, &dow,
		&week, &year, &d.OrderPosition, &isRevision, &parent, &d.SourceID, &d.Version, &isActive,
		&createdAt, &updatedAt)
	if err != nil {
		return Document{}, err
	}
	d.Number = number.String
	d.Status = Status(status)
	d.FileType = FileType(fileType)
	if eventDate.Valid {
		t, err := time.Parse(dateLayout, eventDate.String)
		if err != nil {
			return Document{}, fmt.Errorf("document %s: event date: %w", d.ID, err)
		}
		d.EventDate = &t
	}
	d.DayOfWeek = dow.String
	d.WeekNumber = int(week.Int64)
	d.Year = int(year.Int64)
	d.IsRevision = isRevision == 1
	d.ParentID = parent.String
	d.Active = isActive == 1
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int, valid bool) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: valid}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// documentArgs returns the column values of d in documentColumns order.
func documentArgs(d *Document) []any {
	var eventDate sql.NullString
	if d.EventDate != nil {
		eventDate = sql.NullString{String: d.EventDate.Format(dateLayout), Valid: true}
	}
	dated := d.EventDate != nil
	return []any{
		d.ID, d.Filename, nullString(d.Number), d.TotalPages, string(d.Status), string(d.FileType),
		eventDate, nullString(d.DayOfWeek), nullInt(d.WeekNumber, dated), nullInt(d.Year, dated),
		d.OrderPosition, boolInt(d.IsRevision), nullString(d.ParentID), d.SourceID, d.Version,
		boolInt(d.Active), formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	}
}

// CreateDocument inserts d.
func (q queries) CreateDocument(ctx context.Context, d *Document) error {
	_, err := q.ex.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, documentArgs(d)...)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (q queries) GetDocument(ctx context.Context, id string) (Document, error) {
	d, err := scanDocument(q.ex.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return d, err
}

// UpdateDocument writes every mutable column of d.
func (q queries) UpdateDocument(ctx context.Context, d *Document) error {
	args := documentArgs(d)
	// Drop id and created_at; id goes last for the WHERE clause.
	set := append(args[1:16:16], args[17], d.ID)
	res, err := q.ex.ExecContext(ctx, `UPDATE documents SET
		filename = ?, number = ?, total_pages = ?, status = ?, file_type = ?, event_date = ?,
		day_of_week = ?, week_number = ?, year = ?, order_position = ?, is_revision = ?,
		parent_id = ?, source_id = ?, version_number = ?, is_active = ?, updated_at = ?
		WHERE id = ?`, set...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", d.ID, err)
	}
	return expectRow(res, d.ID)
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// DeleteDocument removes a document with its annotations and pages.
func (q queries) DeleteDocument(ctx context.Context, id string) error {
	if _, err := q.ex.ExecContext(ctx, `DELETE FROM annotations WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := q.ex.ExecContext(ctx, `DELETE FROM pages WHERE document_id = ?`, id); err != nil {
		return err
	}
	res, err := q.ex.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (q queries) listDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := q.ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ListDocuments returns every document, newest first.
func (q queries) ListDocuments(ctx context.Context) ([]Document, error) {
	return q.listDocuments(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id`)
}

// ListOnDate returns the active documents dated day in order, leaving out
// excludeID.
func (q queries) ListOnDate(ctx context.Context, day time.Time, excludeID string) ([]Document, error) {
	return q.listDocuments(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE event_date = ? AND is_active = 1 AND id != ?
		ORDER BY order_position, created_at, id`, day.Format(dateLayout), excludeID)
}

// SetOrderPosition updates only a document's order position.
func (q queries) SetOrderPosition(ctx context.Context, id string, pos int, now time.Time) error {
	res, err := q.ex.ExecContext(ctx, `UPDATE documents SET order_position = ?, updated_at = ? WHERE id = ?`,
		pos, formatTime(now), id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

// FindSplit returns an active document derived from parentID whose pages
// come from exactly the given source orders. A nil number matches any number.
func (q queries) FindSplit(ctx context.Context, parentID string, number *string, orders []int) (Document, bool, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE parent_id = ? AND is_active = 1 AND total_pages = ?`
	args := []any{parentID, len(orders)}
	if number != nil {
		query += ` AND COALESCE(number, '') = ?`
		args = append(args, *number)
	}
	candidates, err := q.listDocuments(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return Document{}, false, err
	}
	for _, d := range candidates {
		pages, err := q.ListPages(ctx, d.ID)
		if err != nil {
			return Document{}, false, err
		}
		if sameOrders(pages, orders) {
			return d, true, nil
		}
	}
	return Document{}, false, nil
}

func sameOrders(pages []Page, orders []int) bool {
	if len(pages) != len(orders) {
		return false
	}
	for i, p := range pages {
		if p.OriginalOrder != orders[i] {
			return false
		}
	}
	return true
}

// CountSourceUsers counts documents other than excludeID whose pages are
// backed by sourceID's original PDF.
func (q queries) CountSourceUsers(ctx context.Context, sourceID, excludeID string) (int, error) {
	var n int
	err := q.ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE source_id = ? AND id != ?`,
		sourceID, excludeID).Scan(&n)
	return n, err
}

// CreatePages inserts pages.
func (q queries) CreatePages(ctx context.Context, pages []Page) error {
	for _, p := range pages {
		_, err := q.ex.ExecContext(ctx, `INSERT INTO pages
			(document_id, page_index, original_order, thumbnail, high_res, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.DocumentID, p.Index, p.OriginalOrder, nullString(p.Thumbnail), nullString(p.HighRes), formatTime(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert page %s/%d: %w", p.DocumentID, p.Index, err)
		}
	}
	return nil
}

// ListPages returns a document's pages by page index.
func (q queries) ListPages(ctx context.Context, docID string) ([]Page, error) {
	rows, err := q.ex.QueryContext(ctx, `SELECT page_index, original_order, thumbnail, high_res, created_at
		FROM pages WHERE document_id = ? ORDER BY page_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var (
			p              Page
			thumb, highRes sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&p.Index, &p.OriginalOrder, &thumb, &highRes, &createdAt); err != nil {
			return nil, err
		}
		p.DocumentID = docID
		p.Thumbnail = thumb.String
		p.HighRes = highRes.String
		p.CreatedAt = parseTime(createdAt)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// SetHighRes records the high-res artifact of one page.
func (q queries) SetHighRes(ctx context.Context, docID string, index int, name string) error {
	res, err := q.ex.ExecContext(ctx, `UPDATE pages SET high_res = ? WHERE document_id = ? AND page_index = ?`,
		name, docID, index)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: page %d of %s", ErrNotFound, index, docID)
	}
	return nil
}

// UpsertAnnotation inserts or replaces the annotation of one page.
func (q queries) UpsertAnnotation(ctx context.Context, a Annotation) error {
	_, err := q.ex.ExecContext(ctx, `INSERT INTO annotations (document_id, page_index, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, page_index) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		a.DocumentID, a.PageIndex, string(a.Payload), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return err
}

// ListAnnotations returns a document's annotations by page index.
func (q queries) ListAnnotations(ctx context.Context, docID string) ([]Annotation, error) {
	rows, err := q.ex.QueryContext(ctx, `SELECT page_index, payload, created_at, updated_at
		FROM annotations WHERE document_id = ? ORDER BY page_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Annotation
	for rows.Next() {
		var (
			a                    Annotation
			payload              string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&a.PageIndex, &payload, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		a.DocumentID = docID
		a.Payload = []byte(payload)
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListSummaries returns calendar summaries of active documents dated in
// [from, to), ordered by date then order position.
func (q queries) ListSummaries(ctx context.Context, from, to time.Time) ([]DocumentSummary, error) {
	rows, err := q.ex.QueryContext(ctx, `SELECT d.id, d.filename, COALESCE(d.number, ''), d.event_date,
			d.order_position, d.status, d.file_type, d.total_pages, d.created_at,
			(SELECT COUNT(*) FROM annotations a WHERE a.document_id = d.id),
			COALESCE((SELECT p.thumbnail FROM pages p WHERE p.document_id = d.id AND p.page_index = 0), '')
		FROM documents d
		WHERE d.is_active = 1 AND d.event_date >= ? AND d.event_date < ?
		ORDER BY d.event_date, d.order_position, d.created_at, d.id`,
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var (
			s                DocumentSummary
			eventDate        string
			status, fileType string
			createdAt        string
		)
		if err := rows.Scan(&s.ID, &s.Filename, &s.Number, &eventDate, &s.OrderPosition, &status, &fileType,
			&s.TotalPages, &createdAt, &s.AnnotationCount, &s.Thumbnail); err != nil {
			return nil, err
		}
		d, err := time.Parse(dateLayout, eventDate)
		if err != nil {
			return nil, fmt.Errorf("document %s: event date: %w", s.ID, err)
		}
		s.EventDate = &d
		s.Number = displayNumber(s.Number, s.ID)
		s.Status = Status(status)
		s.FileType = FileType(fileType)
		s.CreatedAt = parseTime(createdAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// displayNumber falls back to a short form of the identifier for documents
// without a number.
func displayNumber(number, id string) string {
	if strings.TrimSpace(number) != "" {
		return number
	}
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
