package library

import (
	"context"
	"strings"
)

// BookService owns the catalog. Reads are public, changes are admin only.
type BookService struct {
	store BookStore
}

func NewBookService(store BookStore) *BookService {
	return &BookService{store: store}
}

func (s *BookService) GetBookByID(ctx context.Context, id int64) (*Book, error) {
	return s.store.GetBook(ctx, id)
}

func (s *BookService) GetAllBooks(ctx context.Context, q BookQuery) ([]*Book, error) {
	return s.store.ListBooks(ctx, q)
}

// CreateNewBook adds a book; a (title, author) pair may only exist once.
func (s *BookService) CreateNewBook(ctx context.Context, in NewBook, caller *Caller) (*Book, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	b := &Book{
		Title:         strings.TrimSpace(in.Title),
		Author:        strings.TrimSpace(in.Author),
		Genre:         strings.TrimSpace(in.Genre),
		PublishedYear: in.PublishedYear,
	}
	if b.Title == "" {
		return nil, invalid("title", ReasonRequired)
	}
	if b.Author == "" {
		return nil, invalid("author", ReasonRequired)
	}
	if b.PublishedYear < 0 {
		return nil, invalid("publishedYear", ReasonMalformed)
	}
	if err := s.store.CreateBook(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookService) EditBook(ctx context.Context, id int64, patch BookPatch, caller *Caller) (*Book, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	var upd BookUpdate
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, invalid("title", ReasonRequired)
		}
		upd.Title = &title
	}
	if patch.Author != nil {
		author := strings.TrimSpace(*patch.Author)
		if author == "" {
			return nil, invalid("author", ReasonRequired)
		}
		upd.Author = &author
	}
	if patch.Genre != nil {
		genre := strings.TrimSpace(*patch.Genre)
		upd.Genre = &genre
	}
	if patch.PublishedYear != nil {
		if *patch.PublishedYear < 0 {
			return nil, invalid("publishedYear", ReasonMalformed)
		}
		upd.PublishedYear = patch.PublishedYear
	}
	return s.store.UpdateBook(ctx, id, upd)
}

// DeleteBook removes a book that nobody holds.
func (s *BookService) DeleteBook(ctx context.Context, id int64, caller *Caller) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	return s.store.DeleteBook(ctx, id)
}
