package graph

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ayush/library-catalog/backend/internal/models"
	"github.com/ayush/library-catalog/backend/internal/store"
)

// memStore is an in-memory stand-in for store.MongoStore that enforces the
// same unique keys.
type memStore struct {
	mu      sync.Mutex
	authors []models.Author
	books   []models.Book
	users   []models.User

	authorFetches int
	failBooks     error
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) CountAuthors(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.authors)), nil
}

func (m *memStore) ListAuthors(context.Context) ([]models.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Author{}, m.authors...), nil
}

func (m *memStore) FindAuthorByName(_ context.Context, name string) (*models.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.authors {
		if a.Name == name {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindAuthorsByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorFetches++
	want := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []models.Author{}
	for _, a := range m.authors {
		if want[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) InsertAuthor(_ context.Context, a *models.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.authors {
		if existing.Name == a.Name {
			return fmt.Errorf("insert author: %w", store.ErrDuplicate)
		}
	}
	a.ID = primitive.NewObjectID()
	m.authors = append(m.authors, *a)
	return nil
}

func (m *memStore) SetAuthorBorn(_ context.Context, name string, born int) (*models.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.authors {
		if m.authors[i].Name == name {
			b := born
			m.authors[i].Born = &b
			a := m.authors[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memStore) CountBooks(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.books)), nil
}

func (m *memStore) ListBooks(_ context.Context, genre string) ([]models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Book{}
	for _, b := range m.books {
		if genre == "" || b.HasGenre(genre) {
			b.Genres = append([]string{}, b.Genres...)
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) CountBooksByAuthor(_ context.Context, authorID primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.books {
		if b.AuthorID == authorID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertBook(_ context.Context, b *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBooks != nil {
		return m.failBooks
	}
	for _, existing := range m.books {
		if existing.Title == b.Title {
			return fmt.Errorf("insert book: %w", store.ErrDuplicate)
		}
	}
	b.ID = primitive.NewObjectID()
	stored := *b
	stored.Author = nil
	m.books = append(m.books, stored)
	return nil
}

func (m *memStore) CreateUser(_ context.Context, username, favoriteGenre string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return nil, fmt.Errorf("create user: %w", store.ErrDuplicate)
		}
	}
	u := models.User{ID: primitive.NewObjectID().Hex(), Username: username, FavoriteGenre: favoriteGenre}
	m.users = append(m.users, u)
	return &u, nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorFetches
}
