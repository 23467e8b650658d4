// Package slidestest provides an in-memory Slides API emulator for tests.
//
// The emulator speaks the REST shapes used by google.golang.org/api/slides/v1
// for presentations.get, presentations.batchUpdate (replaceAllText only) and
// pages.getThumbnail. Thumbnails are snapshots of the slide text at render time
// and are served back from the same server, so a test can verify what a job
// actually rendered.
package slidestest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
)

// PNGHeader prefixes every snapshot body.
const PNGHeader = "\x89PNG\r\n\x1a\n"

// Server is a running emulator. Create it with NewServer and Close it when done.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	docs      map[string]*document
	snapshots map[string][]byte
	failures  map[string][]int
	calls     map[string]int
	seq       int

	// BeforeBatchUpdate, if set, runs after a batch update request has been
	// decoded and before the revision check. Tests use it to simulate a
	// concurrent writer.
	BeforeBatchUpdate func(presentationID string)
}

type document struct {
	revision int
	slides   []*slide
}

type slide struct {
	id     string
	frames []*Frame
}

// text concatenates the slide's frames in order.
func (sl *slide) text() string {
	var b strings.Builder
	for _, f := range sl.frames {
		b.WriteString(f.Text())
	}
	return b.String()
}

// FrameKind is the page element a Frame is served as.
type FrameKind int

const (
	// Shape is a text box.
	Shape FrameKind = iota
	// TableCell is the only cell of a 1x1 table.
	TableCell
	// Grouped is a text box inside an element group.
	Grouped
)

// Frame is one text container on a slide. Runs are its differently styled
// text runs; replaceAllText matches across them.
type Frame struct {
	Kind FrameKind
	Runs []string
}

// Text joins the runs of f.
func (f *Frame) Text() string {
	return strings.Join(f.Runs, "")
}

// NewServer starts an emulator with no documents.
func NewServer() *Server {
	s := &Server{
		docs:      make(map[string]*document),
		snapshots: make(map[string][]byte),
		failures:  make(map[string][]int),
		calls:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/presentations/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/presentations/{op}", s.handleBatchUpdate)
	mux.HandleFunc("GET /v1/presentations/{id}/pages/{page}/thumbnail", s.handleThumbnail)
	mux.HandleFunc("GET /content/{token}", s.handleContent)

	s.Server = httptest.NewServer(mux)
	return s
}

// Endpoint is the base URL to pass to option.WithEndpoint.
func (s *Server) Endpoint() string {
	return s.URL + "/"
}

// AddPresentation creates or replaces a presentation. Each text becomes one
// slide holding a single text box.
func (s *Server) AddPresentation(id string, texts ...string) {
	slides := make([][]Frame, 0, len(texts))
	for _, t := range texts {
		slides = append(slides, []Frame{{Kind: Shape, Runs: []string{t}}})
	}
	s.AddSlides(id, slides...)
}

// AddSlides creates or replaces a presentation whose slides hold the given frames.
func (s *Server) AddSlides(id string, slides ...[]Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &document{revision: 1}
	for i, frames := range slides {
		sl := &slide{id: fmt.Sprintf("slide_%d", i)}
		for _, f := range frames {
			sl.frames = append(sl.frames, &Frame{Kind: f.Kind, Runs: append([]string(nil), f.Runs...)})
		}
		doc.slides = append(doc.slides, sl)
	}
	s.docs[id] = doc
}

// Text returns the text of slide index i, its frames concatenated.
func (s *Server) Text(id string, i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].slides[i].text()
}

// Revision returns the current revision id of a presentation.
func (s *Server) Revision(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return revisionID(s.docs[id].revision)
}

// Touch advances a presentation's revision, as an unrelated edit would.
func (s *Server) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].revision++
}

// FailNext makes the next call of op answer with status. op is one of
// "get", "batchUpdate", "thumbnail" or "content". Calls queue up in order.
func (s *Server) FailNext(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], status)
}

// Calls returns how many requests op has received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ContentURL returns the absolute URL of a snapshot token.
func (s *Server) ContentURL(token string) string {
	return s.URL + "/content/" + token
}

// injectedFailure records a call and reports a queued failure. Callers hold s.mu.
func (s *Server) injectedFailure(op string) int {
	s.calls[op]++
	queue := s.failures[op]
	if len(queue) == 0 {
		return 0
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status := s.injectedFailure("get"); status != 0 {
		writeAPIError(w, status, "injected failure", "")
		return
	}

	id := r.PathValue("id")
	doc, ok := s.docs[id]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "Requested entity was not found.", "NOT_FOUND")
		return
	}

	slides := make([]map[string]any, 0, len(doc.slides))
	for _, sl := range doc.slides {
		elements := make([]map[string]any, 0, len(sl.frames))
		for i, f := range sl.frames {
			elements = append(elements, pageElement(fmt.Sprintf("%s_e%d", sl.id, i), f))
		}
		slides = append(slides, map[string]any{
			"objectId":     sl.id,
			"pageElements": elements,
		})
	}
	writeJSON(w, map[string]any{
		"presentationId": id,
		"revisionId":     revisionID(doc.revision),
		"slides":         slides,
	})
}

type batchUpdateRequest struct {
	Requests []struct {
		ReplaceAllText *struct {
			ContainsText struct {
				Text      string `json:"text"`
				MatchCase bool   `json:"matchCase"`
			} `json:"containsText"`
			ReplaceText string `json:"replaceText"`
		} `json:"replaceAllText"`
	} `json:"requests"`
	WriteControl *struct {
		RequiredRevisionID string `json:"requiredRevisionId"`
	} `json:"writeControl"`
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(r.PathValue("op"), ":batchUpdate")
	if !ok {
		writeAPIError(w, http.StatusNotFound, "unknown method", "NOT_FOUND")
		return
	}

	var req batchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON payload", "INVALID_ARGUMENT")
		return
	}

	if hook := s.BeforeBatchUpdate; hook != nil {
		hook(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status := s.injectedFailure("batchUpdate"); status != 0 {
		writeAPIError(w, status, "injected failure", "")
		return
	}

	doc, exists := s.docs[id]
	if !exists {
		writeAPIError(w, http.StatusNotFound, "Requested entity was not found.", "NOT_FOUND")
		return
	}
	if req.WriteControl != nil && req.WriteControl.RequiredRevisionID != "" &&
		req.WriteControl.RequiredRevisionID != revisionID(doc.revision) {
		writeAPIError(w, http.StatusBadRequest,
			fmt.Sprintf("The required revision ID %q does not match the latest revision.", req.WriteControl.RequiredRevisionID),
			"FAILED_PRECONDITION")
		return
	}

	replies := make([]map[string]any, 0, len(req.Requests))
	var changed int
	for _, rq := range req.Requests {
		if rq.ReplaceAllText == nil {
			writeAPIError(w, http.StatusBadRequest, "only replaceAllText is supported", "INVALID_ARGUMENT")
			return
		}
		n := 0
		for _, sl := range doc.slides {
			for _, f := range sl.frames {
				text, c := replaceAll(f.Text(), rq.ReplaceAllText.ContainsText.Text, rq.ReplaceAllText.ReplaceText, rq.ReplaceAllText.ContainsText.MatchCase)
				if c > 0 {
					// A replaced span takes the style of its first run.
					f.Runs = []string{text}
				}
				n += c
			}
		}
		changed += n
		replies = append(replies, map[string]any{
			"replaceAllText": map[string]any{"occurrencesChanged": n},
		})
	}
	if changed > 0 {
		doc.revision++
	}

	writeJSON(w, map[string]any{
		"presentationId": id,
		"replies":        replies,
		"writeControl":   map[string]string{"requiredRevisionId": revisionID(doc.revision)},
	})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status := s.injectedFailure("thumbnail"); status != 0 {
		writeAPIError(w, status, "injected failure", "")
		return
	}

	doc, ok := s.docs[r.PathValue("id")]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "Requested entity was not found.", "NOT_FOUND")
		return
	}
	pageID := r.PathValue("page")
	for _, sl := range doc.slides {
		if sl.id != pageID {
			continue
		}
		s.seq++
		token := fmt.Sprintf("snap-%d.png", s.seq)
		s.snapshots[token] = []byte(PNGHeader + sl.text())
		writeJSON(w, map[string]any{
			"contentUrl": s.ContentURL(token),
			"width":      1600,
			"height":     900,
		})
		return
	}
	writeAPIError(w, http.StatusNotFound, fmt.Sprintf("Page %s not found.", pageID), "NOT_FOUND")
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.injectedFailure("content")
	body, ok := s.snapshots[r.PathValue("token")]
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(body)
}

func pageElement(objectID string, f *Frame) map[string]any {
	runs := make([]map[string]any, 0, len(f.Runs))
	for _, r := range f.Runs {
		runs = append(runs, map[string]any{"textRun": map[string]string{"content": r}})
	}
	text := map[string]any{"textElements": runs}

	switch f.Kind {
	case TableCell:
		return map[string]any{
			"objectId": objectID,
			"table": map[string]any{
				"rows":    1,
				"columns": 1,
				"tableRows": []map[string]any{{
					"tableCells": []map[string]any{{"text": text}},
				}},
			},
		}
	case Grouped:
		return map[string]any{
			"objectId": objectID,
			"elementGroup": map[string]any{
				"children": []map[string]any{{
					"objectId": objectID + "_child",
					"shape":    map[string]any{"text": text},
				}},
			},
		}
	}
	return map[string]any{
		"objectId": objectID,
		"shape":    map[string]any{"text": text},
	}
}

func replaceAll(text, match, replacement string, matchCase bool) (string, int) {
	if match == "" {
		return text, 0
	}
	pattern := regexp.QuoteMeta(match)
	if !matchCase {
		pattern = "(?i)" + pattern
	}
	re := regexp.MustCompile(pattern)
	n := len(re.FindAllStringIndex(text, -1))
	if n == 0 {
		return text, 0
	}
	return re.ReplaceAllLiteralString(text, replacement), n
}

func revisionID(n int) string {
	return fmt.Sprintf("rev-%04d", n)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"status":  code,
		},
	})
}
