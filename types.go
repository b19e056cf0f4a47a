package beodesk

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FileType tags an upload as a daily batch or an addition to a day.
type FileType string

const (
	FileTypeDaily    FileType = "daily"
	FileTypeAddition FileType = "addition"
)

// ParseFileType validates s. An empty string means daily.
func ParseFileType(s string) (FileType, error) {
	switch FileType(strings.ToLower(strings.TrimSpace(s))) {
	case "", FileTypeDaily:
		return FileTypeDaily, nil
	case FileTypeAddition:
		return FileTypeAddition, nil
	}
	return "", fmt.Errorf("%w: file type %q", ErrInvalidInput, s)
}

// Document is one BEO: an uploaded PDF or a page subset derived from one.
type Document struct {
	ID         string   `json:"session_id"`
	Filename   string   `json:"filename"`
	Number     string   `json:"beo_number,omitempty"`
	TotalPages int      `json:"total_pages"`
	Status     Status   `json:"status"`
	FileType   FileType `json:"file_type"`

	// EventDate and the three fields after it are derived together; see
	// setEventDate.
	EventDate  *time.Time `json:"event_date"`
	DayOfWeek  string     `json:"day_of_week,omitempty"`
	WeekNumber int        `json:"week_number,omitempty"`
	Year       int        `json:"year,omitempty"`

	OrderPosition int `json:"order_position"`

	IsRevision bool   `json:"is_revision"`
	ParentID   string `json:"parent_session_id,omitempty"`
	// SourceID names the document whose original PDF backs this one's pages.
	SourceID string `json:"source_session_id"`
	Version  int    `json:"version_number"`
	Active   bool   `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayNumber returns the BEO number, or the first seven characters of the
// identifier when no number has been assigned.
func (d Document) DisplayNumber() string {
	return displayNumber(d.Number, d.ID)
}

// Page is one rendered page of a document.
type Page struct {
	DocumentID string `json:"session_id"`
	Index      int    `json:"page_index"`
	// OriginalOrder is the page's index in the source PDF.
	OriginalOrder int       `json:"original_order"`
	Thumbnail     string    `json:"thumbnail,omitempty"`
	HighRes       string    `json:"high_res,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Annotation is the markup saved for one page. The payload is stored verbatim.
type Annotation struct {
	DocumentID string          `json:"session_id"`
	PageIndex  int             `json:"page_index"`
	Payload    json.RawMessage `json:"annotation_data"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DocumentDetail is a document with its pages and annotations.
type DocumentDetail struct {
	Document
	Pages       []Page                  `json:"pages"`
	Annotations map[int]json.RawMessage `json:"annotations"`
}

// DocumentSummary is the calendar view of a document.
type DocumentSummary struct {
	ID              string     `json:"session_id"`
	Filename        string     `json:"filename"`
	Number          string     `json:"beo_number"`
	EventDate       *time.Time `json:"event_date"`
	OrderPosition   int        `json:"order_position"`
	Status          Status     `json:"status"`
	FileType        FileType   `json:"file_type"`
	TotalPages      int        `json:"total_pages"`
	AnnotationCount int        `json:"annotation_count"`
	// Thumbnail is the artifact name of the first page's thumbnail.
	Thumbnail string    `json:"thumbnail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Week is ListByWeek's result: the seven weekday buckets of an ISO week.
type Week struct {
	Year       int                          `json:"year"`
	WeekNumber int                          `json:"week_number"`
	Start      time.Time                    `json:"week_start"`
	End        time.Time                    `json:"week_end"`
	Days       map[string][]DocumentSummary `json:"days"`
}

// Upload is one PDF handed to Ingest.
type Upload struct {
	Filename string
	Data     []byte
	FileType FileType
	// EventDate overrides the date parsed from Filename when set.
	EventDate *time.Time
}

// IngestResult is a freshly registered document and its thumbnails in page
// order.
type IngestResult struct {
	Document   Document `json:"document"`
	Thumbnails [][]byte `json:"pages"`
}

// SplitRequest derives a new document from pages of an existing one.
type SplitRequest struct {
	ParentID string
	Number   string
	// PageIndices are positions in the parent's source PDF, in the order
	// the new document should present them.
	PageIndices []int
	// OrderPosition is the new document's place on its day. Nil appends.
	OrderPosition *int
}

// MetadataUpdate edits the number and/or calendar placement of a document.
// Nil fields are left unchanged.
type MetadataUpdate struct {
	Number        *string
	EventDate     *time.Time
	OrderPosition *int
}

// ExportPage is one page of an export.
type ExportPage struct {
	PageNumber int             `json:"page_number"`
	Image      []byte          `json:"image"`
	Annotation json.RawMessage `json:"annotations"`
}

// Export bundles a document's page images with their annotations.
type Export struct {
	Filename string       `json:"filename"`
	Pages    []ExportPage `json:"pages"`
}
