package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/observe"
)

type interpretRequest struct {
	Status    form.Status        `json:"status"`
	Utterance string             `json:"utterance"`
	Draft     *form.Draft        `json:"draft,omitempty"`
	Session   *dictation.Session `json:"session,omitempty"`
}

type interpretResponse struct {
	Draft   form.Draft        `json:"draft"`
	Session dictation.Session `json:"session"`
	Outcome dictation.Outcome `json:"outcome"`
}

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req interpretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Status.IsValid() {
		writeError(w, http.StatusBadRequest, errors.New("status must be FATALITY or WOUNDED"))
		return
	}
	draft := form.NewDraft(req.Status, s.now())
	if req.Draft != nil {
		draft = req.Draft.WithStatus(req.Status)
	}
	sess := dictation.NewSession()
	if req.Session != nil {
		sess = *req.Session
	}

	_, span := observe.StartSpan(r.Context(), "dictation.interpret")
	res := s.interp.Apply(req.Status, req.Utterance, draft, sess)
	span.End()

	writeJSON(w, http.StatusOK, interpretResponse{Draft: res.Draft, Session: res.Session, Outcome: res.Outcome})
}

type startSessionRequest struct {
	Status     form.Status `json:"status"`
	DoctorName string      `json:"doctor_name"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Status == "" {
		req.Status = form.StatusWounded
	}
	if !req.Status.IsValid() {
		writeError(w, http.StatusBadRequest, errors.New("status must be FATALITY or WOUNDED"))
		return
	}
	c, err := s.sessions.Start(r.Context(), req.Status, req.DoctorName)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+c.ID())
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

// session resolves the {id} path value, writing 404 when it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*app.Controller, bool) {
	c, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return c, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if c, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, c.Snapshot())
	}
}

type utteranceRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var req utteranceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Utterance(r.Context(), req.Text))
}

type statusRequest struct {
	Status form.Status `json:"status"`
}

func (s *Server) handleSwitchStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := c.SwitchStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type listenRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var req listenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.On {
		c.StopListening()
	} else if err := c.Listen(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

type stopResponse struct {
	Session app.Snapshot `json:"session"`
	Record  *recordView  `json:"record,omitempty"`
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	save := false
	if v := r.URL.Query().Get("save"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("save must be a boolean"))
			return
		}
		save = b
	}
	snap, rec, err := s.sessions.Stop(r.Context(), r.PathValue("id"), save)
	if err != nil {
		if errors.Is(err, app.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, struct {
			errorBody
			Session app.Snapshot `json:"session"`
		}{errorBody{err.Error()}, snap})
		return
	}
	resp := stopResponse{Session: snap}
	if rec != nil {
		v := newRecordView(*rec)
		resp.Record = &v
	}
	writeJSON(w, http.StatusOK, resp)
}
