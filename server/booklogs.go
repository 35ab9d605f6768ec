package server

import (
	"net/http"
	"strconv"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
)

func (s *Server) issueBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r, "bookId")
	if !ok {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}
	req := library.IssueRequest{Username: r.URL.Query().Get("username")}
	l, err := s.lib.Logs.IssueBook(r.Context(), bookID, req, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.RecordLoan("issued")
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r, "bookId")
	if !ok {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}
	l, err := s.lib.Logs.ReturnBook(r.Context(), bookID, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.RecordLoan("returned")
	writeJSON(w, http.StatusOK, l)
}

// listLogs accepts ?bookId= and ?active=true filters.
func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	var f library.LogFilter
	q := r.URL.Query()
	if v := q.Get("bookId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "malformed bookId")
			return
		}
		f.BookID = id
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed active flag")
			return
		}
		f.ActiveOnly = active
	}

	logs, err := s.lib.Logs.GetAll(r.Context(), f, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) editLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "logId")
	if !ok {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}
	var patch library.BookLogPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := s.lib.Logs.Edit(r.Context(), id, patch, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) deleteLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "logId")
	if !ok {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}
	if err := s.lib.Logs.Delete(r.Context(), id, callerFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
