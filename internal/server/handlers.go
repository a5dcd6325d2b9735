package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ketabkhaneh/epubreader/internal/epub"
	"github.com/ketabkhaneh/epubreader/internal/reader"
	"github.com/ketabkhaneh/epubreader/internal/render"
	"github.com/ketabkhaneh/epubreader/internal/search"
	"github.com/ketabkhaneh/epubreader/internal/storage"
)

const maxBodyBytes = 64 << 10

type navigationResponse struct {
	Moved bool            `json:"moved"`
	State reader.Snapshot `json:"state"`
}

type keyRequest struct {
	Key string `json:"key" validate:"required,max=32"`
}

type keyResponse struct {
	Handled bool            `json:"handled"`
	State   reader.Snapshot `json:"state"`
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

type bookmarkRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type gotoRequest struct {
	Index    *int     `validate:"omitempty,min=0"`
	Fraction *float64 `validate:"omitempty,gte=0,lte=1"`
	Bookmark string   `validate:"omitempty,max=64"`
}

type tocResponse struct {
	Source epub.TOCSource `json:"source"`
	Items  []epub.TOCItem `json:"items"`
}

type searchResponse struct {
	Query string       `json:"query"`
	Hits  []search.Hit `json:"hits"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) error {
	respondWithJSON(w, http.StatusOK, s.settings.Get())
	return nil
}

// handlePutSettings merges the body over the current settings. Out-of-range
// values are clamped by the store.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) error {
	var body json.RawMessage
	if err := decodeBody(w, r, &body); err != nil {
		return err
	}
	if len(body) == 0 {
		return errBadRequest("Settings body is required")
	}
	next := s.settings.Get()
	if err := json.Unmarshal(body, &next); err != nil {
		return errBadRequestWrap("Invalid settings", err)
	}
	respondWithJSON(w, http.StatusOK, s.settings.Set(next))
	return nil
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	respondWithJSON(w, http.StatusOK, sess.Snapshot())
	return nil
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	if err := sess.Retry(r.Context()); err != nil {
		if errors.Is(err, reader.ErrNotInitialized) {
			return errConflictWrap("Book was never opened", err)
		}
		return &HTTPError{Code: http.StatusBadGateway, Message: "Book could not be opened", cause: err}
	}
	respondWithJSON(w, http.StatusOK, sess.Snapshot())
	return nil
}

func (s *Server) readyDocument(r *http.Request) (render.Document, error) {
	sess, err := s.session(r)
	if err != nil {
		return render.Document{}, err
	}
	state, stateErr := sess.State()
	if state != reader.StateReady {
		if stateErr != nil {
			return render.Document{}, errConflictWrap("Book failed to open", stateErr)
		}
		return render.Document{}, errConflictWrap("Book is not ready", reader.ErrNotReady)
	}
	return sess.Document(), nil
}

// handleGetSection serves the rendered section as an isolated document.
func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) error {
	doc, err := s.readyDocument(r)
	if err != nil {
		return err
	}
	h := w.Header()
	h.Set("Content-Security-Policy", sectionCSP)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set(headerContentType, contentTypeHTMLUTF8)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc.HTML)
	return nil
}

func (s *Server) handleGetSectionMarkdown(w http.ResponseWriter, r *http.Request) error {
	doc, err := s.readyDocument(r)
	if err != nil {
		return err
	}
	md, err := render.Markdown(doc)
	if err != nil {
		return err
	}
	w.Header().Set(headerContentType, contentTypeMarkdown)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, md)
	return nil
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	moved := sess.Next(r.Context())
	respondWithJSON(w, http.StatusOK, navigationResponse{Moved: moved, State: sess.Snapshot()})
	return nil
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	moved := sess.Prev(r.Context())
	respondWithJSON(w, http.StatusOK, navigationResponse{Moved: moved, State: sess.Snapshot()})
	return nil
}

// handleGoTo jumps to exactly one of ?index=, ?fraction= or ?bookmark=.
func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	req, err := parseGoto(r)
	if err != nil {
		return err
	}
	if err := s.validate.Struct(req); err != nil {
		return errBadRequestWrap(validationMessage(err), err)
	}

	var moved bool
	switch {
	case req.Index != nil:
		moved = sess.GoToSection(r.Context(), *req.Index)
	case req.Fraction != nil:
		moved = sess.GoToFraction(r.Context(), *req.Fraction)
	default:
		b, ok := sess.Bookmark(req.Bookmark)
		if !ok {
			return errNotFound("Bookmark not found")
		}
		moved = sess.GoToBookmark(r.Context(), b)
	}
	respondWithJSON(w, http.StatusOK, navigationResponse{Moved: moved, State: sess.Snapshot()})
	return nil
}

func parseGoto(r *http.Request) (gotoRequest, error) {
	q := r.URL.Query()
	var req gotoRequest
	given := 0
	if v := q.Get("index"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return req, errBadRequestWrap("Invalid index", err)
		}
		req.Index = &i
		given++
	}
	if v := q.Get("fraction"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, errBadRequestWrap("Invalid fraction", err)
		}
		req.Fraction = &f
		given++
	}
	if v := q.Get("bookmark"); v != "" {
		req.Bookmark = v
		given++
	}
	if given != 1 {
		return req, errBadRequest("Exactly one of index, fraction or bookmark is required")
	}
	return req, nil
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	var req keyRequest
	if err := decodeBody(w, r, &req); err != nil {
		return err
	}
	if err := s.validate.Struct(req); err != nil {
		return errBadRequestWrap(validationMessage(err), err)
	}
	handled := sess.HandleKey(r.Context(), req.Key)
	respondWithJSON(w, http.StatusOK, keyResponse{Handled: handled, State: sess.Snapshot()})
	return nil
}

// handleVisibility pauses reading-time tracking while the reader is hidden.
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	var req visibilityRequest
	if err := decodeBody(w, r, &req); err != nil {
		return err
	}
	if req.Hidden {
		sess.Pause()
	} else {
		sess.Resume()
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleGetTOC(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	if r.URL.Query().Get("format") == "html" {
		w.Header().Set(headerContentType, contentTypeHTMLUTF8)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, render.TOCPanel(sess.TOC(), sess.Progress().Location))
		return nil
	}
	respondWithJSON(w, http.StatusOK, tocResponse{
		Source: sess.Snapshot().TOCSource,
		Items:  sess.TOC(),
	})
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	q := r.URL.Query().Get("q")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return errBadRequestWrap("Invalid limit", err)
		}
	}
	hits, err := sess.Search(r.Context(), q, limit)
	if err != nil {
		if errors.Is(err, reader.ErrClosed) {
			return errConflictWrap("Book is closed", err)
		}
		return err
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	respondWithJSON(w, http.StatusOK, searchResponse{Query: q, Hits: hits})
	return nil
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	bookmarks := sess.Bookmarks()
	if bookmarks == nil {
		bookmarks = []storage.Bookmark{}
	}
	respondWithJSON(w, http.StatusOK, bookmarks)
	return nil
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	var req bookmarkRequest
	if err := decodeBody(w, r, &req); err != nil {
		return err
	}
	if err := s.validate.Struct(req); err != nil {
		return errBadRequestWrap(validationMessage(err), err)
	}
	b, err := sess.AddBookmark(strings.TrimSpace(req.Note))
	if err != nil {
		return errConflictWrap("Bookmark cannot be added now", err)
	}
	respondWithJSON(w, http.StatusCreated, b)
	return nil
}

func (s *Server) handleOpenBookmark(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	b, ok := sess.Bookmark(chi.URLParam(r, paramBookmarkID))
	if !ok {
		return errNotFound("Bookmark not found")
	}
	moved := sess.GoToBookmark(r.Context(), b)
	respondWithJSON(w, http.StatusOK, navigationResponse{Moved: moved, State: sess.Snapshot()})
	return nil
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	if !sess.DeleteBookmark(chi.URLParam(r, paramBookmarkID)) {
		return errNotFound("Bookmark not found")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// decodeBody reads a JSON body into dest. An empty body leaves dest as is.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errBadRequestWrap("Invalid request body", err)
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	e := verrs[0]
	return fmt.Sprintf("Invalid %s: failed %s validation", strings.ToLower(e.Field()), e.Tag())
}
