package models

import (
	"fmt"
	"strings"
)

// User is an account that may sign in and add books.
type User struct {
	ID            string `json:"id"            bson:"-"`
	Username      string `json:"username"      bson:"username"`
	FavoriteGenre string `json:"favoriteGenre" bson:"favoriteGenre"`
}

// Validate checks the required user fields.
func (u *User) Validate() error {
	username := strings.TrimSpace(u.Username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if len([]rune(username)) < minUsernameLen {
		return fmt.Errorf("%w: username %q is shorter than the minimum allowed length (%d)",
			ErrValidation, u.Username, minUsernameLen)
	}
	if strings.TrimSpace(u.FavoriteGenre) == "" {
		return fmt.Errorf("%w: favoriteGenre is required", ErrValidation)
	}
	return nil
}
