package server

import (
	"net/http"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
)

const errBadID = "malformed id"

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.lib.Books.GetAllBooks(r.Context(), library.BookQuery{Search: r.URL.Query().Get("q")})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}
	b, err := s.lib.Books.GetBookByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	var in library.NewBook
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.lib.Books.CreateNewBook(r.Context(), in, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) editBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}
	var patch library.BookPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.lib.Books.EditBook(r.Context(), id, patch, callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, errBadID)
		return
	}
	if err := s.lib.Books.DeleteBook(r.Context(), id, callerFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
