package graph

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ayush/library-catalog/backend/internal/auth"
	"github.com/ayush/library-catalog/backend/internal/middleware"
	"github.com/ayush/library-catalog/backend/internal/models"
	"github.com/ayush/library-catalog/backend/internal/pubsub"
)

// AuthorStore defines the author operations the resolvers need.
type AuthorStore interface {
	CountAuthors(ctx context.Context) (int64, error)
	ListAuthors(ctx context.Context) ([]models.Author, error)
	FindAuthorByName(ctx context.Context, name string) (*models.Author, error)
	FindAuthorsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Author, error)
	InsertAuthor(ctx context.Context, a *models.Author) error
	SetAuthorBorn(ctx context.Context, name string, born int) (*models.Author, error)
}

// BookStore defines the book operations the resolvers need.
type BookStore interface {
	CountBooks(ctx context.Context) (int64, error)
	ListBooks(ctx context.Context, genre string) ([]models.Book, error)
	CountBooksByAuthor(ctx context.Context, authorID primitive.ObjectID) (int64, error)
	InsertBook(ctx context.Context, b *models.Book) error
}

// UserStore defines the user operations the resolvers need.
type UserStore interface {
	CreateUser(ctx context.Context, username, favoriteGenre string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Resolver implements every query, mutation and subscription field.
type Resolver struct {
	authors   AuthorStore
	books     BookStore
	users     UserStore
	creds     *auth.Credentials
	publisher pubsub.Publisher
	bus       *pubsub.Bus
	logger    *zap.Logger
}

func NewResolver(
	authors AuthorStore,
	books BookStore,
	users UserStore,
	creds *auth.Credentials,
	publisher pubsub.Publisher,
	bus *pubsub.Bus,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		authors:   authors,
		books:     books,
		users:     users,
		creds:     creds,
		publisher: publisher,
		bus:       bus,
		logger:    logger,
	}
}

// ── Queries ──────────────────────────────────────────────

func (r *Resolver) BookCount(ctx context.Context) (int, error) {
	n, err := r.books.CountBooks(ctx)
	if err != nil {
		return 0, r.internal("count books", err)
	}
	return int(n), nil
}

func (r *Resolver) AuthorCount(ctx context.Context) (int, error) {
	n, err := r.authors.CountAuthors(ctx)
	if err != nil {
		return 0, r.internal("count authors", err)
	}
	return int(n), nil
}

// AllBooks lists books with their authors attached. A non-empty genre keeps
// only books listing exactly that genre; the store applies the filter. The author argument is part of the
// schema but does not filter.
func (r *Resolver) AllBooks(ctx context.Context, author, genre string) ([]*models.Book, error) {
	books, err := r.books.ListBooks(ctx, genre)
	if err != nil {
		return nil, r.internal("list books", err)
	}

	out := make([]*models.Book, len(books))
	for i := range books {
		out[i] = &books[i]
	}
	if err := r.attachAuthors(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachAuthors resolves every book's author with a single store fetch.
func (r *Resolver) attachAuthors(ctx context.Context, books []*models.Book) error {
	seen := make(map[primitive.ObjectID]bool)
	ids := make([]primitive.ObjectID, 0, len(books))
	for _, b := range books {
		if b.Author != nil || seen[b.AuthorID] {
			continue
		}
		seen[b.AuthorID] = true
		ids = append(ids, b.AuthorID)
	}
	if len(ids) == 0 {
		return nil
	}

	authors, err := r.authors.FindAuthorsByIDs(ctx, ids)
	if err != nil {
		return r.internal("resolve book authors", err)
	}
	byID := make(map[primitive.ObjectID]*models.Author, len(authors))
	for i := range authors {
		byID[authors[i].ID] = &authors[i]
	}
	for _, b := range books {
		if b.Author == nil {
			b.Author = byID[b.AuthorID]
		}
	}
	return nil
}

func (r *Resolver) AllAuthors(ctx context.Context) ([]*models.Author, error) {
	authors, err := r.authors.ListAuthors(ctx)
	if err != nil {
		return nil, r.internal("list authors", err)
	}
	out := make([]*models.Author, len(authors))
	for i := range authors {
		out[i] = &authors[i]
	}
	return out, nil
}

// AuthorBookCount derives an author's book count from the books collection.
func (r *Resolver) AuthorBookCount(ctx context.Context, a *models.Author) (int, error) {
	n, err := r.books.CountBooksByAuthor(ctx, a.ID)
	if err != nil {
		return 0, r.internal("count author books", err)
	}
	return int(n), nil
}

// Me returns the session user, or nil for anonymous requests.
func (r *Resolver) Me(ctx context.Context) *models.User {
	return middleware.CurrentUser(ctx)
}

// ── Mutations ────────────────────────────────────────────

// AddBookInput carries the addBook arguments.
type AddBookInput struct {
	Title     string
	Published int
	Author    string
	Genres    []string
}

func (in AddBookInput) args() map[string]any {
	return map[string]any{
		"title":     in.Title,
		"published": in.Published,
		"author":    in.Author,
		"genres":    in.Genres,
	}
}

// AddBook stores a book, creating its author first when no author has that
// name. The two writes are not atomic: if the book is rejected, a newly
// created author stays. The stored book is published to book-added
// subscribers before AddBook returns.
func (r *Resolver) AddBook(ctx context.Context, in AddBookInput) (*models.Book, error) {
	if middleware.CurrentUser(ctx) == nil {
		return nil, errUnauthenticated()
	}

	author, err := r.authors.FindAuthorByName(ctx, in.Author)
	if err != nil {
		return nil, r.internal("find author", err)
	}
	if author == nil {
		author = &models.Author{Name: in.Author}
		if err := author.Validate(); err != nil {
			return nil, inputError(err, in.args())
		}
		if err := r.authors.InsertAuthor(ctx, author); err != nil {
			return nil, r.input("insert author", err, in.args())
		}
		r.logger.Info("author created", zap.String("author", author.Name), zap.String("id", author.ID.Hex()))
	}

	genres := in.Genres
	if genres == nil {
		genres = []string{}
	}
	book := &models.Book{
		Title:     in.Title,
		Published: in.Published,
		AuthorID:  author.ID,
		Genres:    genres,
	}
	if err := book.Validate(); err != nil {
		return nil, inputError(err, in.args())
	}
	if err := r.books.InsertBook(ctx, book); err != nil {
		return nil, r.input("insert book", err, in.args())
	}
	book.Author = author

	event := *book
	authorCopy := *author
	event.Author = &authorCopy
	event.Genres = append([]string{}, book.Genres...)
	if err := r.publisher.Publish(ctx, pubsub.TopicBookAdded, &event); err != nil {
		r.logger.Warn("publish book added", zap.String("book", book.ID.Hex()), zap.Error(err))
	}

	return book, nil
}

// EditAuthor sets the birth year of the named author. It returns nil when
// there is no such author.
func (r *Resolver) EditAuthor(ctx context.Context, name string, setBornTo int) (*models.Author, error) {
	if middleware.CurrentUser(ctx) == nil {
		return nil, errUnauthenticated()
	}
	a, err := r.authors.SetAuthorBorn(ctx, name, setBornTo)
	if err != nil {
		return nil, r.input("edit author", err, map[string]any{"name": name, "setBornTo": setBornTo})
	}
	return a, nil
}

// CreateUser registers an account. No password is stored; see Login.
func (r *Resolver) CreateUser(ctx context.Context, username, favoriteGenre string) (*models.User, error) {
	args := map[string]any{"username": username, "favoriteGenre": favoriteGenre}
	candidate := &models.User{Username: username, FavoriteGenre: favoriteGenre}
	if err := candidate.Validate(); err != nil {
		return nil, inputError(err, args)
	}
	u, err := r.users.CreateUser(ctx, username, favoriteGenre)
	if err != nil {
		return nil, r.input("create user", err, args)
	}
	return u, nil
}

// Login issues a session token for an existing user presenting the shared
// login password.
func (r *Resolver) Login(ctx context.Context, username, password string) (string, error) {
	u, err := r.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", r.internal("find user", err)
	}
	if u == nil || !r.creds.CheckPassword(password) {
		return "", errWrongCredentials()
	}
	token, err := r.creds.Sign(u.Username, u.ID)
	if err != nil {
		return "", r.internal("sign token", err)
	}
	return token, nil
}

// ── Subscriptions ────────────────────────────────────────

// BookAdded streams every book created after the call. The stream ends
// and the bus subscription is released when ctx is done.
func (r *Resolver) BookAdded(ctx context.Context) chan interface{} {
	sub := r.bus.Subscribe(pubsub.TopicBookAdded)
	out := make(chan interface{})
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ── helpers ──────────────────────────────────────────────

func (r *Resolver) internal(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.Error(op, zap.Error(err))
	return errInternal(err)
}

func (r *Resolver) input(op string, err error, args map[string]any) error {
	gerr := inputError(err, args)
	if gerr.Code == CodeInternal {
		r.logger.Error(op, zap.Error(err))
	}
	return gerr
}
