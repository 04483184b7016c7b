// Package render turns a resolved path into an HTTP response plan: status,
// the exact header set and a body source. The plan is computed before
// anything is written so the caller can log the final headers first.
package render

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"example.com/lanserve/internal/resolver"
)

const (
	// ListingCSP allows inline styles and nothing else.
	ListingCSP = "default-src 'none'; style-src 'unsafe-inline'; script-src 'none'; frame-src 'none'; object-src 'none'"
	// NotFoundCSP leaves default sources open but still blocks active content.
	NotFoundCSP = "default-src *; script-src 'none'; frame-src 'none'; object-src 'none'"
)

// HeaderField is a single response header as it is logged.
type HeaderField struct {
	Name  string
	Value string
}

func (f HeaderField) String() string { return f.Name + ": " + f.Value }

// Response is a planned response. Call Write to send it or Close to drop it.
type Response struct {
	Status int
	Header http.Header
	// Size is the body length, or -1 when unknown.
	Size int64
	// Cause explains a 404, when one is known.
	Cause error

	body io.Reader
	file *os.File
}

// Renderer builds responses for resolved paths.
type Renderer struct {
	mime *MimeTypeResolver
}

// New returns a Renderer. A nil mime resolver uses only the built-in table.
func New(mime *MimeTypeResolver) *Renderer {
	if mime == nil {
		mime, _ = NewMimeTypeResolver(nil)
	}
	return &Renderer{mime: mime}
}

// Prepare plans the response for res. Files are opened here so that a file
// vanishing between resolution and serving still yields a clean 404.
func (rd *Renderer) Prepare(res *resolver.Resolved) *Response {
	switch res.Kind {
	case resolver.File, resolver.DirectoryIndex:
		return rd.prepareFile(res)
	case resolver.DirectoryListing:
		return rd.prepareListing(res)
	default:
		return NotFound(res.Err)
	}
}

// NotFound plans an empty 404 response.
func NotFound(cause error) *Response {
	return &Response{
		Status: http.StatusNotFound,
		Header: http.Header{
			"Content-Type":            {ErrorMimeType},
			"Content-Security-Policy": {NotFoundCSP},
			"Content-Length":          {"0"},
		},
		Cause: cause,
	}
}

func (rd *Renderer) prepareFile(res *resolver.Resolved) *Response {
	f, err := os.Open(res.ServePath)
	if err != nil {
		return NotFound(err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return NotFound(err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return NotFound(fmt.Errorf("%s is no longer a regular file", res.ServePath))
	}
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":   {rd.mime.GetMimeType(res.ServePath)},
			"Content-Length": {strconv.FormatInt(fi.Size(), 10)},
		},
		Size: fi.Size(),
		body: f,
		file: f,
	}
}

func (rd *Renderer) prepareListing(res *resolver.Resolved) *Response {
	page := ListingHTML(res)
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":            {ListingMimeType},
			"Content-Security-Policy": {ListingCSP},
			"Content-Length":          {strconv.Itoa(len(page))},
		},
		Size: int64(len(page)),
		body: strings.NewReader(page),
	}
}

const listingHead = `<!doctype html>
<html>
<head>
<meta charset="UTF-8" />
<title>Files</title>
<style>
body{font-family:sans-serif;font-size:16px;background:#e8e8e8;margin:2em;}
a{color:#2a5db0;}
a:hover{color:#b00020;}
.s{height:0.5em;}
</style>
</head>
<body>
<div class="l">
`

const listingTail = `</div>
</body>
</html>
`

// ListingHTML renders the directory page for res: the parent link (except at
// the root), then directories, a separator and files.
func ListingHTML(res *resolver.Resolved) string {
	var sb strings.Builder
	sb.WriteString(listingHead)
	if parent, ok := res.ParentURL(); ok {
		writeLink(&sb, parent, "..")
	}
	for _, e := range res.Dirs {
		writeLink(&sb, e.URL, e.Name+"/")
	}
	sb.WriteString(`<div class="s"></div>` + "\n")
	for _, e := range res.Files {
		writeLink(&sb, e.URL, e.Name)
	}
	sb.WriteString(listingTail)
	return sb.String()
}

func writeLink(sb *strings.Builder, target, text string) {
	href := (&url.URL{Path: target}).EscapedPath()
	sb.WriteString(`<a href="`)
	sb.WriteString(html.EscapeString(href))
	sb.WriteString(`">`)
	sb.WriteString(html.EscapeString(text))
	sb.WriteString("</a><br />\n")
}

// Fields returns the planned headers sorted for logging.
func (resp *Response) Fields() []HeaderField {
	return SortHeaders(resp.Header)
}

// Write sends the status, exactly the planned headers and the body, and
// releases the body source. It returns the number of body bytes written.
func (resp *Response) Write(w http.ResponseWriter) (int64, error) {
	defer resp.Close()

	h := w.Header()
	for name, values := range resp.Header {
		h[name] = values
	}
	// A nil entry stops net/http from adding its own Date header.
	h["Date"] = nil
	w.WriteHeader(resp.Status)

	if resp.body == nil {
		return 0, nil
	}
	n, err := io.Copy(w, resp.body)
	if errors.Is(err, http.ErrBodyNotAllowed) {
		err = nil
	}
	return n, err
}

// Close releases the body source without writing it. It is safe to call
// more than once.
func (resp *Response) Close() error {
	if resp.file == nil {
		return nil
	}
	err := resp.file.Close()
	resp.file = nil
	return err
}

// SortHeaders flattens h into fields ordered by name length, then name.
// Values of a repeated header keep their order.
func SortHeaders(h http.Header) []HeaderField {
	names := make([]string, 0, len(h))
	for name, values := range h {
		if values != nil {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})

	fields := make([]HeaderField, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			fields = append(fields, HeaderField{Name: name, Value: v})
		}
	}
	return fields
}

// HeaderLines formats fields as "Name: value" lines.
func HeaderLines(fields []HeaderField) []string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = f.String()
	}
	return lines
}
