package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/store"
)

type recordView struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Form      form.Record `json:"form"`
}

func newRecordView(r store.Record) recordView {
	return recordView{ID: r.ID, CreatedAt: r.CreatedAt, Form: r.Form()}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recs, err := s.records.List(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(rec))
}
