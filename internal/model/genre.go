package model

import "time"

// Genre groups books in the catalog.  A genre name is unique across the
// catalog and a genre cannot be removed while any book references it.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – unique display name.
//  Description – optional free text.
//  CreatedAt   – timestamp when the genre was created.
type Genre struct {
	ID          uint64    `json:"id"`          // genres.id
	Name        string    `json:"name"`        // genres.name
	Description *string   `json:"description"` // genres.description (nullable)
	CreatedAt   time.Time `json:"created_at"`  // genres.created_at
}
