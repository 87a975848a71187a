package realtime

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"skill-forge/internal/draft"
	"skill-forge/internal/protocol"
	"skill-forge/internal/session"
	"skill-forge/internal/validate"
)

const (
	maxJSONBody = 1 << 20
	// Upload requests may carry several files up to the per-file ceiling.
	maxUploadFiles = 32
	uploadMemory   = 32 << 20
)

type chatResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	Draft     string `json:"draft,omitempty"`
}

type uploadResponse struct {
	Saved []string `json:"saved"`
	Error string   `json:"error,omitempty"`
}

type sessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
	Stats    session.Stats  `json:"stats"`
}

type healthResponse struct {
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Uptime    string        `json:"uptime"`
	Stats     session.Stats `json:"stats"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
}

// badRequest reports a body read or parse failure.
func badRequest(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeErr(w, err)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		badRequest(w, err)
		return
	}
	req, err := protocol.ParseChatRequest(body)
	if err != nil {
		badRequest(w, err)
		return
	}

	err = s.sessions.SendMessage(r.Context(), req.SessionID, session.ChatOptions{
		Message: req.Message,
		Kind:    draft.Kind(req.Kind),
		Draft:   req.Draft,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := chatResponse{Status: "accepted", SessionID: req.SessionID}
	if info, err := s.sessions.Get(req.SessionID); err == nil {
		resp.Draft = info.Draft
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleNewDraft(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		badRequest(w, err)
		return
	}
	req, err := protocol.ParseNewDraftRequest(body)
	if err != nil {
		badRequest(w, err)
		return
	}

	d, err := s.store.Scaffold(draft.Kind(req.Kind), "")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.store.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.Delete(name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFiles(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameter 'path'")
		return
	}

	content, err := s.store.ReadFile(chi.URLParam(r, "name"), rel)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		badRequest(w, err)
		return
	}
	req, err := protocol.ParseWriteFileRequest(body)
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := s.store.WriteFile(chi.URLParam(r, "name"), req.Path, *req.Content); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := s.store.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit*maxUploadFiles+maxJSONBody)

	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		badRequest(w, fmt.Errorf("parse upload: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "missing form field 'files'")
		return
	}

	files, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		writeErr(w, err)
		return
	}

	saved, err := s.store.Upload(name, r.FormValue("dir"), files)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("draft", name).Msg("Upload failed")
		}
		writeJSON(w, status, uploadResponse{Saved: saved, Error: err.Error()})
		return
	}

	log.Info().
		Str("draft", name).
		Int("files", len(saved)).
		Str("limit", humanize.IBytes(uint64(limit))).
		Msg("Draft files uploaded")
	writeJSON(w, http.StatusOK, uploadResponse{Saved: saved})
}

func openUploads(headers []*multipart.FileHeader) ([]draft.UploadFile, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	files := make([]draft.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		opened = append(opened, f)
		files = append(files, draft.UploadFile{Name: fh.Filename, Size: fh.Size, Reader: f})
	}
	return files, closeAll, nil
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validate.Validate(d.Path))
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	result, err := s.promoter.Promote(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionsResponse{
		Sessions: s.sessions.List(),
		Stats:    s.sessions.Stats(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Stats:     s.sessions.Stats(),
	})
}
