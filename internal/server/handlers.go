package server

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/knoguchi/uigen/internal/auth"
	"github.com/knoguchi/uigen/internal/llm"
	"github.com/knoguchi/uigen/internal/registry"
	"github.com/knoguchi/uigen/internal/service"
	"github.com/knoguchi/uigen/internal/settings"
)

// maxFormBytes bounds the submitted form; prompts are short.
const maxFormBytes = 1 << 20

const fieldPrompt = "prompt"

// handleIndex renders the empty page with default settings.
func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := newPageData(settings.Default(), "", s.highlighter.CSS())
	s.renderPage(w, r, http.StatusOK, data)
}

// handleGenerate runs one generation for the submitted form and renders the
// page again with the submitted settings kept.
func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	set := settings.FromForm(r.PostForm)
	prompt := r.PostForm.Get(fieldPrompt)
	data := newPageData(set, prompt, s.highlighter.CSS())

	ctx, cancel := context.WithTimeout(r.Context(), s.generateTimeout)
	defer cancel()

	result, err := s.generator.Generate(ctx, prompt, set)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrEmptyPrompt):
		data.Warning = emptyPromptMsg
		s.renderPage(w, r, http.StatusOK, data)
		return
	case r.Context().Err() != nil:
		s.logger.Info("generation abandoned by client", "request_id", middleware.GetReqID(r.Context()))
		return
	default:
		status, view := describeFailure(err)
		s.logger.Error("generation failed",
			"error", err,
			"status", status,
			"request_id", middleware.GetReqID(r.Context()),
		)
		data.Error = view
		s.renderPage(w, r, status, data)
		return
	}

	view, err := s.resultView(result)
	if err != nil {
		s.logger.Error("failed to prepare result", "error", err, "result_id", result.ID)
		data.Error = &errorView{Title: "Could not display the result", Message: err.Error()}
		s.renderPage(w, r, http.StatusInternalServerError, data)
		return
	}
	data.Result = view
	s.renderPage(w, r, http.StatusOK, data)
}

// describeFailure maps an upstream error to a status and message. Nothing is
// retried and no fallback model is tried.
func describeFailure(err error) (int, *errorView) {
	switch {
	case errors.Is(err, llm.ErrAccessDenied), errors.Is(err, llm.ErrUnauthorized),
		errors.Is(err, registry.ErrAccessDenied), errors.Is(err, registry.ErrUnauthorized):
		return http.StatusForbidden, &errorView{
			Title:   "Access to the model was denied",
			Message: "The configured token has not been granted access to the model. " + err.Error(),
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &errorView{
			Title:   "Generation timed out",
			Message: "The model did not answer in time. Try again, or lower the max tokens setting.",
		}
	case errors.Is(err, llm.ErrModelUnavailable):
		return http.StatusServiceUnavailable, &errorView{
			Title:   "The model is unavailable",
			Message: err.Error(),
		}
	default:
		return http.StatusBadGateway, &errorView{
			Title:   "Generation failed",
			Message: err.Error(),
		}
	}
}

func (s *HTTPServer) resultView(result *service.Result) (*resultView, error) {
	codeHTML, err := s.highlighter.HTML(result.Code, result.Language)
	if err != nil {
		return nil, err
	}

	view := &resultView{
		ID:           result.ID.String(),
		Framework:    result.Settings.Framework,
		Language:     result.Language,
		Filename:     result.Filename,
		Code:         result.Code,
		CodeHTML:     codeHTML,
		Duration:     result.Duration,
		PromptTokens: result.PromptTokens,
		ModelID:      result.ModelID,
	}

	if s.links != nil && s.store != nil {
		token, err := s.links.GenerateToken(result.ID, result.Filename)
		if err != nil {
			return nil, err
		}
		view.DownloadURL = "/download/" + token
	}
	return view, nil
}

// handleDownload serves a stored result as a plain-text attachment.
func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.links == nil || s.store == nil {
		http.NotFound(w, r)
		return
	}

	claims, err := s.links.ValidateToken(chi.URLParam(r, "token"))
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		http.Error(w, "download link has expired", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "invalid download link", http.StatusBadRequest)
		return
	}

	id, err := claims.GetResultID()
	if err != nil {
		http.Error(w, "invalid download link", http.StatusBadRequest)
		return
	}

	entry, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "download link has expired", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": entry.Filename,
	}))
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Content)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(entry.Content))
}

func (s *HTTPServer) renderPage(w http.ResponseWriter, r *http.Request, status int, data *pageData) {
	if err := s.page.render(w, status, data); err != nil {
		s.logger.Error("failed to render page",
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
}
