package beodesk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// AppendPosition places a document after every other document on its day.
const AppendPosition = math.MaxInt32

// WeekdayNames lists the weekday buckets of a Week in display order.
var WeekdayNames = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// setEventDate sets the event date and the fields derived from it. A nil
// date clears all of them.
func (d *Document) setEventDate(date *time.Time) {
	if date == nil {
		d.EventDate = nil
		d.DayOfWeek = ""
		d.WeekNumber = 0
		d.Year = 0
		return
	}
	day := truncateDay(*date)
	d.EventDate = &day
	d.DayOfWeek = day.Weekday().String()
	d.Year, d.WeekNumber = day.ISOWeek()
}

// WeekStart returns the Monday of ISO week `week` of `year`.
func WeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, (week-1)*7-offset)
}

// weeksIn returns the number of ISO weeks in year (52 or 53).
func weeksIn(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// Calendar places documents on days and lists them by week or day. Every
// write keeps the order positions of a day dense.
type Calendar struct {
	store *Store
	now   func() time.Time
}

// NewCalendar creates a Calendar over store.
func NewCalendar(store *Store, now func() time.Time) *Calendar {
	if now == nil {
		now = time.Now
	}
	return &Calendar{store: store, now: now}
}

// rebalance makes room for a document at position pos among the other active
// documents on day. Documents before pos are renumbered 0.. in their current
// order and the rest move up by one. pos is clamped to the number of other
// documents; the clamped value is returned.
func (c *Calendar) rebalance(ctx context.Context, tx *Tx, day time.Time, excludeID string, pos int) (int, error) {
	others, err := tx.ListOnDate(ctx, day, excludeID)
	if err != nil {
		return 0, err
	}
	if pos > len(others) {
		pos = len(others)
	}
	now := c.now()
	for i, o := range others {
		want := i
		if i >= pos {
			want = i + 1
		}
		if o.OrderPosition == want {
			continue
		}
		if err := tx.SetOrderPosition(ctx, o.ID, want, now); err != nil {
			return 0, err
		}
	}
	return pos, nil
}

// densify renumbers the active documents on day 0..k-1 after one has left.
func (c *Calendar) densify(ctx context.Context, tx *Tx, day time.Time, excludeID string) error {
	_, err := c.rebalance(ctx, tx, day, excludeID, AppendPosition)
	return err
}

// place moves doc to day at pos, rebalancing the day it joins and closing
// the gap on the day it leaves. The caller persists doc.
func (c *Calendar) place(ctx context.Context, tx *Tx, doc *Document, day time.Time, pos int) error {
	if pos < 0 {
		return fmt.Errorf("%w: negative order position %d", ErrInvalidInput, pos)
	}
	prev := doc.EventDate
	doc.setEventDate(&day)
	got, err := c.rebalance(ctx, tx, *doc.EventDate, doc.ID, pos)
	if err != nil {
		return err
	}
	doc.OrderPosition = got
	doc.UpdatedAt = c.now().UTC()
	if prev != nil && !prev.Equal(*doc.EventDate) {
		return c.densify(ctx, tx, *prev, doc.ID)
	}
	return nil
}

// PlaceOnCalendar dates a document and inserts it at orderPosition among the
// other documents of that day.
func (c *Calendar) PlaceOnCalendar(ctx context.Context, id string, date time.Time, orderPosition int) (Document, error) {
	var doc Document
	err := c.store.InTx(ctx, func(tx *Tx) error {
		var err error
		if doc, err = tx.GetDocument(ctx, id); err != nil {
			return err
		}
		if err := c.place(ctx, tx, &doc, date, orderPosition); err != nil {
			return err
		}
		return tx.UpdateDocument(ctx, &doc)
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// UpdateMetadata edits a document's number and calendar placement in one
// transaction. A new date without a position appends to that day.
func (c *Calendar) UpdateMetadata(ctx context.Context, id string, u MetadataUpdate) (Document, error) {
	var doc Document
	err := c.store.InTx(ctx, func(tx *Tx) error {
		var err error
		if doc, err = tx.GetDocument(ctx, id); err != nil {
			return err
		}
		if u.Number != nil {
			doc.Number = strings.TrimSpace(*u.Number)
			doc.UpdatedAt = c.now().UTC()
		}
		if u.EventDate != nil || u.OrderPosition != nil {
			day := doc.EventDate
			if u.EventDate != nil {
				day = u.EventDate
			}
			if day == nil {
				return fmt.Errorf("%w: order position requires an event date", ErrInvalidInput)
			}
			pos := doc.OrderPosition
			switch {
			case u.OrderPosition != nil:
				pos = *u.OrderPosition
			case doc.EventDate == nil || !doc.EventDate.Equal(truncateDay(*day)):
				pos = AppendPosition
			}
			if err := c.place(ctx, tx, &doc, *day, pos); err != nil {
				return err
			}
		}
		return tx.UpdateDocument(ctx, &doc)
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ListByWeek returns the active documents of an ISO week, bucketed by
// weekday and ordered by position within each day.
func (c *Calendar) ListByWeek(ctx context.Context, year, week int) (Week, error) {
	if year < 1 || week < 1 || week > weeksIn(year) {
		return Week{}, fmt.Errorf("%w: week %d of %d", ErrInvalidInput, week, year)
	}
	start := WeekStart(year, week)
	summaries, err := c.store.ListSummaries(ctx, start, start.AddDate(0, 0, 7))
	if err != nil {
		return Week{}, err
	}
	w := Week{
		Year:       year,
		WeekNumber: week,
		Start:      start,
		End:        start.AddDate(0, 0, 6),
		Days:       make(map[string][]DocumentSummary, len(WeekdayNames)),
	}
	for _, name := range WeekdayNames {
		w.Days[name] = []DocumentSummary{}
	}
	for _, s := range summaries {
		name := s.EventDate.Weekday().String()
		w.Days[name] = append(w.Days[name], s)
	}
	return w, nil
}

// ListByDay returns the active documents dated day, in order.
func (c *Calendar) ListByDay(ctx context.Context, day time.Time) ([]DocumentSummary, error) {
	start := truncateDay(day)
	summaries, err := c.store.ListSummaries(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []DocumentSummary{}
	}
	return summaries, nil
}
