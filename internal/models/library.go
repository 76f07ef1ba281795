package models

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrValidation marks a record rejected before it reaches the store.
var ErrValidation = errors.New("validation failed")

const (
	minAuthorNameLen = 4
	minTitleLen      = 2
	minUsernameLen   = 3
)

// Author is stored in the authors collection. Its book count is never
// persisted; it is derived from the books collection at query time.
type Author struct {
	ID   primitive.ObjectID `json:"id"   bson:"_id,omitempty"`
	Name string             `json:"name" bson:"name"`
	Born *int               `json:"born" bson:"born,omitempty"`
}

// Validate checks the required author fields.
func (a *Author) Validate() error {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return fmt.Errorf("%w: author name is required", ErrValidation)
	}
	if len([]rune(name)) < minAuthorNameLen {
		return fmt.Errorf("%w: author name %q is shorter than the minimum allowed length (%d)",
			ErrValidation, a.Name, minAuthorNameLen)
	}
	return nil
}

// Book is stored in the books collection with a reference to its author.
// Author is filled in by the resolution layer and never written.
type Book struct {
	ID        primitive.ObjectID `json:"id"        bson:"_id,omitempty"`
	Title     string             `json:"title"     bson:"title"`
	Published int                `json:"published" bson:"published"`
	AuthorID  primitive.ObjectID `json:"authorId"  bson:"author"`
	Genres    []string           `json:"genres"    bson:"genres"`

	Author *Author `json:"author,omitempty" bson:"-"`
}

// Validate checks the required book fields.
func (b *Book) Validate() error {
	title := strings.TrimSpace(b.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len([]rune(title)) < minTitleLen {
		return fmt.Errorf("%w: title %q is shorter than the minimum allowed length (%d)",
			ErrValidation, b.Title, minTitleLen)
	}
	if b.AuthorID.IsZero() {
		return fmt.Errorf("%w: author is required", ErrValidation)
	}
	if b.Genres == nil {
		b.Genres = []string{}
	}
	return nil
}

// HasGenre reports whether genre is one of the book's genres. The match is
// exact and case-sensitive.
func (b *Book) HasGenre(genre string) bool {
	for _, g := range b.Genres {
		if g == genre {
			return true
		}
	}
	return false
}
