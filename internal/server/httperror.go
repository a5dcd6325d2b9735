package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

const (
	headerContentType   = "Content-Type"
	contentTypeJSONUTF8 = "application/json; charset=utf-8"
	contentTypeHTMLUTF8 = "text/html; charset=utf-8"
	contentTypeMarkdown = "text/markdown; charset=utf-8"
)

// HTTPError is an error with a status code and a user-facing message.
type HTTPError struct {
	cause   error
	Code    int
	Message string
}

func (he *HTTPError) Error() string {
	return he.Message
}

func (he *HTTPError) Unwrap() error {
	return he.cause
}

func errBadRequest(message string) *HTTPError {
	return &HTTPError{Code: http.StatusBadRequest, Message: message}
}

func errBadRequestWrap(message string, cause error) *HTTPError {
	return &HTTPError{Code: http.StatusBadRequest, Message: message, cause: cause}
}

func errNotFound(message string) *HTTPError {
	return &HTTPError{Code: http.StatusNotFound, Message: message}
}

func errConflictWrap(message string, cause error) *HTTPError {
	return &HTTPError{Code: http.StatusConflict, Message: message, cause: cause}
}

// appHandler is a handler that returns an error instead of writing one.
type appHandler func(w http.ResponseWriter, r *http.Request) error

// makeHandler adapts an appHandler, logging errors and answering with a
// JSON error body.
func (s *Server) makeHandler(handler appHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := handler(w, r)
		if err == nil {
			return
		}

		var httpErr *HTTPError
		var statusCode int
		var publicMessage string
		if errors.As(err, &httpErr) {
			statusCode = httpErr.Code
			publicMessage = httpErr.Message
			logLevel := slog.LevelWarn
			if statusCode >= 500 {
				logLevel = slog.LevelError
			}
			attrs := []any{"code", statusCode, "msg", publicMessage, "path", r.URL.Path, "method", r.Method}
			if cause := errors.Unwrap(httpErr); cause != nil {
				attrs = append(attrs, "cause", cause)
			}
			s.logger.Log(r.Context(), logLevel, "client error response", attrs...)
		} else {
			statusCode = http.StatusInternalServerError
			publicMessage = "Internal Server Error"
			s.logger.Error("unhandled internal error", "path", r.URL.Path, "method", r.Method, "error", err)
		}

		if w.Header().Get(headerContentType) != "" {
			s.logger.Warn("handler returned error after writing response header",
				"path", r.URL.Path,
				"method", r.Method,
				"error", err,
			)
			return
		}
		respondWithJSON(w, statusCode, map[string]string{"error": publicMessage})
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set(headerContentType, contentTypeJSONUTF8)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}
	w.Header().Set(headerContentType, contentTypeJSONUTF8)
	w.WriteHeader(status)
	_, _ = w.Write(response)
}
