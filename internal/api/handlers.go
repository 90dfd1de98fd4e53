package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/marcus/makemagic/internal/deps"
	"github.com/marcus/makemagic/internal/magic"
	"github.com/marcus/makemagic/internal/task"
)

const maxBody = 1 << 20

// GET /
func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, banner)
}

// GET /task
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.Tasks(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// POST /task, POST /task/create
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	raw, ok := body[task.MetaRequirements]
	if !ok {
		s.fail(w, fmt.Errorf("%w: no requirements supplied to create task", magic.ErrInvalidInput))
		return
	}
	reqs, err := stringList(raw)
	if err != nil {
		s.fail(w, err)
		return
	}
	delete(body, task.MetaRequirements)

	t, err := s.engine.CreateTask(r.Context(), reqs, body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GET /task/{uuid}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.Task(r.Context(), r.PathValue("uuid"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DELETE /task/{uuid}
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteTask(r.Context(), r.PathValue("uuid")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// GET /task/{uuid}/available
func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.Available(r.Context(), r.PathValue("uuid"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GET /task/{uuid}/metadata
func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.engine.Metadata(r.Context(), r.PathValue("uuid"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// POST /task/{uuid}/metadata
func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	meta, err := s.engine.UpdateMetadata(r.Context(), r.PathValue("uuid"), body, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// GET /task/{uuid}/{item}
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.engine.Item(r.Context(), r.PathValue("uuid"), r.PathValue("item"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// POST /task/{uuid}/{item}
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("item") == "available" {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "available is read-only")
		return
	}
	body, err := decodeObject(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	it, err := s.engine.UpdateItem(r.Context(), r.PathValue("uuid"), r.PathValue("item"), body, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// GET /task/{uuid}/{item}/state
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	it, err := s.engine.Item(r.Context(), r.PathValue("uuid"), r.PathValue("item"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it.State)
}

// POST /task/{uuid}/{item}/state takes {"state": ..., "onlyif": {...}}.
// Other fields are rejected so this route only ever moves state.
func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if _, ok := body[task.KeyState]; !ok {
		s.fail(w, fmt.Errorf("%w: body must carry %q", magic.ErrInvalidInput, task.KeyState))
		return
	}
	for k := range body {
		if k != task.KeyState && k != magic.OnlyIfKey {
			s.fail(w, fmt.Errorf("%w: unexpected field %q", magic.ErrInvalidInput, k))
			return
		}
	}
	it, err := s.engine.UpdateItem(r.Context(), r.PathValue("uuid"), r.PathValue("item"), body, nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// fail maps engine errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, magic.ErrTaskNotFound), errors.Is(err, magic.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, magic.ErrInvalidInput),
		errors.Is(err, magic.ErrImmutableField),
		errors.Is(err, magic.ErrInvalidState),
		errors.Is(err, magic.ErrNotReady),
		deps.IsStructural(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Err(err).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func decodeObject(r *http.Request) (map[string]any, error) {
	var body map[string]any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: request body: %v", magic.ErrInvalidInput, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: request body must be a JSON object", magic.ErrInvalidInput)
	}
	return body, nil
}

func stringList(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: requirements must be a list of strings", magic.ErrInvalidInput)
	}
	out := make([]string, 0, len(list))
	for _, x := range list {
		s, ok := x.(string)
		if !ok {
			return nil, fmt.Errorf("%w: requirement %v is not a string", magic.ErrInvalidInput, x)
		}
		out = append(out, s)
	}
	return out, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{
		Error:   fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	_ = enc.Encode(v)
}
