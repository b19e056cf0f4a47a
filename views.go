package beodesk

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"

	"github.com/eringen/beodesk/artifact"
)

// ViewFuncs holds the templ components the HTML pages render with. Callers can
// swap in their own through WithViews.
type ViewFuncs struct {
	WeekBoard func(w Week) templ.Component
	NotFound  func() templ.Component
}

// DefaultViews returns the built-in views.
func DefaultViews() ViewFuncs {
	return ViewFuncs{
		WeekBoard: WeekBoard,
		NotFound:  NotFoundPage,
	}
}

// WeekBoard renders a week as seven day columns of document cards in
// calendar order.
func WeekBoard(w Week) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		var buf bytes.Buffer
		renderWeekBoard(&buf, w)
		_, err := out.Write(buf.Bytes())
		return err
	})
}

// NotFoundPage is the HTML 404 page.
func NotFoundPage() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		_, err := io.WriteString(out, pageHead("Not found")+
			`<main class="empty"><h1>Not found</h1><p><a href="/calendar/">Back to this week</a></p></main></body></html>`)
		return err
	})
}

func pageHead(title string) string {
	return `<!doctype html><html lang="en"><head><meta charset="utf-8">` +
		`<meta name="viewport" content="width=device-width, initial-scale=1">` +
		`<title>` + html.EscapeString(title) + `</title></head><body>`
}

func weekLink(year, week int) string {
	return fmt.Sprintf("/calendar/%d/%d/", year, week)
}

func renderWeekBoard(buf *bytes.Buffer, w Week) {
	prevYear, prevWeek := w.Start.AddDate(0, 0, -7).ISOWeek()
	nextYear, nextWeek := w.Start.AddDate(0, 0, 7).ISOWeek()

	buf.WriteString(pageHead(fmt.Sprintf("Week %d, %d", w.WeekNumber, w.Year)))
	fmt.Fprintf(buf, `<header class="week-nav"><a href="%s">&larr;</a><h1>Week %d, %d</h1><a href="%s">&rarr;</a></header>`,
		weekLink(prevYear, prevWeek), w.WeekNumber, w.Year, weekLink(nextYear, nextWeek))

	buf.WriteString(`<main class="week-board">`)
	for i, day := range WeekdayNames {
		date := w.Start.AddDate(0, 0, i)
		fmt.Fprintf(buf, `<section class="day" data-date="%s"><h2>%s <time>%s</time></h2>`,
			date.Format(dateLayout), day, date.Format("Jan 2"))
		docs := w.Days[day]
		if len(docs) == 0 {
			buf.WriteString(`<p class="empty">No events</p>`)
		}
		for _, d := range docs {
			renderCard(buf, d)
		}
		buf.WriteString(`</section>`)
	}
	buf.WriteString(`</main></body></html>`)
}

func renderCard(buf *bytes.Buffer, d DocumentSummary) {
	fmt.Fprintf(buf, `<article class="beo status-%s" data-session-id="%s" data-order="%d">`,
		html.EscapeString(string(d.Status)), html.EscapeString(d.ID), d.OrderPosition)
	if d.Thumbnail != "" {
		src := "/storage/" + string(artifact.Thumbnail) + "/" + url.PathEscape(d.Thumbnail)
		fmt.Fprintf(buf, `<img src="%s" alt="" loading="lazy">`, html.EscapeString(src))
	}
	fmt.Fprintf(buf, `<h3>%s</h3><p class="filename">%s</p>`,
		html.EscapeString(displayNumber(d.Number, d.ID)), html.EscapeString(d.Filename))
	fmt.Fprintf(buf, `<p class="meta">%s &middot; %d pages`, html.EscapeString(string(d.FileType)), d.TotalPages)
	if d.AnnotationCount > 0 {
		fmt.Fprintf(buf, ` &middot; %d annotated`, d.AnnotationCount)
	}
	buf.WriteString(`</p></article>`)
}
