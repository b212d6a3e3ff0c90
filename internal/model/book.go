package model

import "time"

// BookStatus mirrors the state of the most recent active reservation on a
// book.  It is written only as a side effect of reservation transitions.
type BookStatus string

const (
	BookAvailable BookStatus = "available"
	BookReserved  BookStatus = "reserved"
	BookTaken     BookStatus = "taken"
)

// Valid reports whether s is one of the known book states.
func (s BookStatus) Valid() bool {
	switch s {
	case BookAvailable, BookReserved, BookTaken:
		return true
	}
	return false
}

// Book represents a single physical copy in the catalog.  Cover images and
// PDF files live in an external blob store and are referenced by URL only.
//
// Fields:
//  ID            – primary key identifier.
//  Title         – book title.
//  Author        – author display name.
//  Description   – free text description.
//  GenreID       – optional genre reference (nil when unassigned).
//  GenreName     – genre name resolved on read; never written.
//  YearPublished – year of publication.
//  ISBN          – optional, globally unique.
//  CoverImageURL – optional blob store URL of the cover image.
//  PDFURL        – optional blob store URL of the PDF file.
//  Status        – available, reserved or taken.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type Book struct {
	ID            uint64     `json:"id"`                   // books.id
	Title         string     `json:"title"`                // books.title
	Author        string     `json:"author"`               // books.author
	Description   string     `json:"description"`          // books.description
	GenreID       *uint64    `json:"genre"`                // books.genre_id (nullable)
	GenreName     *string    `json:"genre_name,omitempty"` // genres.name via join
	YearPublished int        `json:"year_published"`       // books.year_published
	ISBN          *string    `json:"isbn"`                 // books.isbn (nullable, unique)
	CoverImageURL *string    `json:"cover_image_url"`      // books.cover_image_url (nullable)
	PDFURL        *string    `json:"pdf_url"`              // books.pdf_url (nullable)
	Status        BookStatus `json:"status"`               // books.status
	CreatedAt     time.Time  `json:"created_at"`           // books.created_at
	UpdatedAt     time.Time  `json:"updated_at"`           // books.updated_at
}
