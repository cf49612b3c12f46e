package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-service/library"
)

type bookRequest struct {
	Title    string  `json:"title" binding:"required"`
	Author   string  `json:"author" binding:"required"`
	Year     *int64  `json:"year"`
	Language *string `json:"language"`
}

func (r bookRequest) input() library.BookInput {
	return library.BookInput{Title: r.Title, Author: r.Author, Year: r.Year, Language: r.Language}
}

type checkoutRequest struct {
	UserID int64 `json:"user_id" binding:"omitempty,gt=0"`
}

type bookResponse struct {
	Message string        `json:"message"`
	Data    *library.Book `json:"data"`
}

type checkoutResponse struct {
	Message string                 `json:"message"`
	Entry   *library.CheckoutEntry `json:"entry"`
}

// ListBooks returns the catalog, optionally filtered by ?q= over title and author.
// GET /books
func (s *Server) ListBooks(c *gin.Context) {
	books, err := s.mgr.ListBooks(c.Request.Context(), c.Query("q"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

// GET /books/:id
func (s *Server) GetBook(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	book, err := s.mgr.GetBook(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookResponse{Message: "Book retrieved", Data: book})
}

// POST /books/add
func (s *Server) AddBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	book, err := s.mgr.AddBook(c.Request.Context(), req.input())
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, getPrincipal(c).UserID, library.ActionBookCreate, library.EntityBook, book.ID, map[string]string{
		"title":  book.Title,
		"author": book.Author,
	})
	c.JSON(http.StatusCreated, book)
}

// PUT /books/update/:id
func (s *Server) UpdateBook(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	book, err := s.mgr.UpdateBook(c.Request.Context(), id, req.input())
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, getPrincipal(c).UserID, library.ActionBookUpdate, library.EntityBook, book.ID, map[string]string{
		"title":  book.Title,
		"author": book.Author,
	})
	c.JSON(http.StatusOK, book)
}

// DeleteBook refuses while the book is on loan; past history rows are kept.
// DELETE /books/delete/:id
func (s *Server) DeleteBook(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.mgr.DeleteBook(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, getPrincipal(c).UserID, library.ActionBookDelete, library.EntityBook, id, nil)
	c.JSON(http.StatusOK, messageResponse{Message: "Book deleted"})
}

// CheckoutBook lends the book to the caller, or with {"user_id"} on behalf
// of another user (staff only).
// POST /books/checkout/:id
func (s *Server) CheckoutBook(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req checkoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.bindError(c, err)
			return
		}
	}

	p := getPrincipal(c)
	entry, err := s.mgr.Checkout(c.Request.Context(), p, id, req.UserID)
	if err != nil {
		s.metrics.observeCirculation("checkout", library.KindOf(err).String())
		s.respondError(c, err)
		return
	}
	s.metrics.observeCirculation("checkout", "ok")

	s.audit(c, p.UserID, library.ActionCheckout, library.EntityBook, id, map[string]int64{
		"entry_id": entry.ID,
		"user_id":  entry.UserID,
	})
	c.JSON(http.StatusOK, checkoutResponse{Message: "Book checked out", Entry: entry})
}

// ReturnBook closes the open loan of the book.
// POST /books/return/:id
func (s *Server) ReturnBook(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	p := getPrincipal(c)
	entry, err := s.mgr.Return(c.Request.Context(), p, id)
	if err != nil {
		s.metrics.observeCirculation("return", library.KindOf(err).String())
		s.respondError(c, err)
		return
	}
	s.metrics.observeCirculation("return", "ok")

	s.audit(c, p.UserID, library.ActionReturn, library.EntityBook, id, map[string]int64{
		"entry_id": entry.ID,
		"user_id":  entry.UserID,
	})
	c.JSON(http.StatusOK, checkoutResponse{Message: "Book returned", Entry: entry})
}

// GET /books/history/:id
func (s *Server) BookHistory(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	history, err := s.mgr.BookHistory(c.Request.Context(), getPrincipal(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// UserHistory is open to the user themselves and to admins.
// GET /users/history/:id
func (s *Server) UserHistory(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	history, err := s.mgr.UserHistory(c.Request.Context(), getPrincipal(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}
