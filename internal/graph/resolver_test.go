package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayush/library-catalog/backend/internal/auth"
	"github.com/ayush/library-catalog/backend/internal/middleware"
	"github.com/ayush/library-catalog/backend/internal/models"
	"github.com/ayush/library-catalog/backend/internal/pubsub"
)

type fixture struct {
	store    *memStore
	bus      *pubsub.Bus
	creds    *auth.Credentials
	resolver *Resolver
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	creds, err := auth.NewCredentials("test-key", "secret")
	if err != nil {
		t.Fatalf("new credentials: %v", err)
	}
	st := newMemStore()
	bus := pubsub.NewBus(nil)
	t.Cleanup(bus.Close)

	r := NewResolver(st, st, st, creds, pubsub.Local(bus), bus, nil)
	engine, err := NewEngine(r)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{store: st, bus: bus, creds: creds, resolver: r, engine: engine}
}

// signedIn creates a user and returns a context carrying it as the session.
func (f *fixture) signedIn(t *testing.T, username string) context.Context {
	t.Helper()
	return middleware.WithCurrentUser(context.Background(), f.signedInUser(t, username))
}

func (f *fixture) signedInUser(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := f.resolver.CreateUser(context.Background(), username, "refactoring")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) counts(t *testing.T) (authors, books int) {
	t.Helper()
	a, err := f.resolver.AuthorCount(context.Background())
	if err != nil {
		t.Fatalf("author count: %v", err)
	}
	b, err := f.resolver.BookCount(context.Background())
	if err != nil {
		t.Fatalf("book count: %v", err)
	}
	return a, b
}

func TestAddBookCreatesUnknownAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")

	book, err := f.resolver.AddBook(ctx, AddBookInput{
		Title:     "Clean Code",
		Published: 2008,
		Author:    "Robert Martin",
		Genres:    []string{"refactoring"},
	})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}

	authors, books := f.counts(t)
	if authors != 1 || books != 1 {
		t.Fatalf("expected 1 author and 1 book, got %d and %d", authors, books)
	}
	created, _ := f.store.FindAuthorByName(context.Background(), "Robert Martin")
	if created == nil {
		t.Fatalf("expected author to be stored")
	}
	if book.AuthorID != created.ID || book.Author == nil || book.Author.ID != created.ID {
		t.Fatalf("expected book to reference new author %s, got %+v", created.ID.Hex(), book)
	}
	if created.Born != nil {
		t.Fatalf("expected new author to carry only a name, got born=%v", *created.Born)
	}
}

func TestAddBookReusesExistingAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")

	first, err := f.resolver.AddBook(ctx, AddBookInput{Title: "Clean Code", Published: 2008, Author: "Robert Martin"})
	if err != nil {
		t.Fatalf("add first book: %v", err)
	}
	second, err := f.resolver.AddBook(ctx, AddBookInput{Title: "Agile software development", Published: 2002, Author: "Robert Martin", Genres: []string{"agile"}})
	if err != nil {
		t.Fatalf("add second book: %v", err)
	}

	authors, books := f.counts(t)
	if authors != 1 || books != 2 {
		t.Fatalf("expected 1 author and 2 books, got %d and %d", authors, books)
	}
	if first.AuthorID != second.AuthorID {
		t.Fatalf("expected both books to reference the same author")
	}
}

func TestAddBookRequiresSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.AddBook(context.Background(), AddBookInput{Title: "Clean Code", Published: 2008, Author: "Robert Martin"})
	if !IsCode(err, CodeUnauthenticated) {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}
	if authors, books := f.counts(t); authors != 0 || books != 0 {
		t.Fatalf("expected no writes, got %d authors and %d books", authors, books)
	}
}

func TestAddBookRejectedBookLeavesNewAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")

	_, err := f.resolver.AddBook(ctx, AddBookInput{Title: "X", Published: 2008, Author: "Robert Martin"})
	if !IsCode(err, CodeBadUserInput) {
		t.Fatalf("expected BAD_USER_INPUT, got %v", err)
	}
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.InvalidArgs["title"] != "X" || gerr.InvalidArgs["author"] != "Robert Martin" {
		t.Fatalf("expected invalidArgs to carry the arguments, got %+v", gerr)
	}
	if authors, books := f.counts(t); authors != 1 || books != 0 {
		t.Fatalf("expected orphaned author and no book, got %d authors and %d books", authors, books)
	}
}

func TestAddBookDuplicateTitleIsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")

	in := AddBookInput{Title: "Clean Code", Published: 2008, Author: "Robert Martin"}
	if _, err := f.resolver.AddBook(ctx, in); err != nil {
		t.Fatalf("add book: %v", err)
	}
	if _, err := f.resolver.AddBook(ctx, in); !IsCode(err, CodeBadUserInput) {
		t.Fatalf("expected BAD_USER_INPUT for duplicate title, got %v", err)
	}
}

func TestAddBookStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")
	f.store.failBooks = errors.New("connection reset by peer")

	_, err := f.resolver.AddBook(ctx, AddBookInput{Title: "Clean Code", Published: 2008, Author: "Robert Martin"})
	if !IsCode(err, CodeInternal) {
		t.Fatalf("expected INTERNAL_SERVER_ERROR, got %v", err)
	}
}

func TestAddBookPublishesBeforeReturning(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")
	sub := f.bus.Subscribe(pubsub.TopicBookAdded)
	defer sub.Close()

	book, err := f.resolver.AddBook(ctx, AddBookInput{Title: "Clean Code", Published: 2008, Author: "Robert Martin", Genres: []string{"refactoring"}})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}

	select {
	case v := <-sub.C():
		got, ok := v.(*models.Book)
		if !ok {
			t.Fatalf("expected *models.Book, got %T", v)
		}
		if got.ID != book.ID || got.Title != "Clean Code" || got.Published != 2008 {
			t.Fatalf("unexpected payload: %+v", got)
		}
		if got.Author == nil || got.Author.Name != "Robert Martin" {
			t.Fatalf("expected author resolved in payload, got %+v", got.Author)
		}
		if got == book || got.Author == book.Author {
			t.Fatalf("expected the published book to be a copy")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification received")
	}

	select {
	case v := <-sub.C():
		t.Fatalf("expected exactly one notification, got another: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAllBooksGenreFilter(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")
	for _, in := range []AddBookInput{
		{Title: "Clean Code", Published: 2008, Author: "Robert Martin", Genres: []string{"refactoring"}},
		{Title: "Agile software development", Published: 2002, Author: "Robert Martin", Genres: []string{"agile", "patterns", "design"}},
		{Title: "Refactoring, edition 2", Published: 2018, Author: "Martin Fowler", Genres: []string{"refactoring"}},
		{Title: "Crime and punishment", Published: 1866, Author: "Fyodor Dostoevsky", Genres: []string{"classic", "crime"}},
	} {
		if _, err := f.resolver.AddBook(ctx, in); err != nil {
			t.Fatalf("add %q: %v", in.Title, err)
		}
	}

	all, err := f.resolver.AllBooks(context.Background(), "", "")
	if err != nil {
		t.Fatalf("all books: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 books, got %d", len(all))
	}

	refactoring, err := f.resolver.AllBooks(context.Background(), "", "refactoring")
	if err != nil {
		t.Fatalf("all books by genre: %v", err)
	}
	if len(refactoring) != 2 {
		t.Fatalf("expected 2 refactoring books, got %d", len(refactoring))
	}
	for _, b := range refactoring {
		if !b.HasGenre("refactoring") {
			t.Fatalf("unexpected book in genre filter: %+v", b)
		}
	}

	if none, _ := f.resolver.AllBooks(context.Background(), "", "Refactoring"); len(none) != 0 {
		t.Fatalf("expected case-sensitive genre match, got %d books", len(none))
	}

	ignored, err := f.resolver.AllBooks(context.Background(), "Fyodor Dostoevsky", "")
	if err != nil {
		t.Fatalf("all books with author arg: %v", err)
	}
	if len(ignored) != 4 {
		t.Fatalf("expected author argument to be ignored, got %d books", len(ignored))
	}
}

func TestAllBooksResolvesAuthorsInOneFetch(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")
	for _, in := range []AddBookInput{
		{Title: "Clean Code", Published: 2008, Author: "Robert Martin"},
		{Title: "Agile software development", Published: 2002, Author: "Robert Martin"},
		{Title: "Refactoring, edition 2", Published: 2018, Author: "Martin Fowler"},
	} {
		if _, err := f.resolver.AddBook(ctx, in); err != nil {
			t.Fatalf("add %q: %v", in.Title, err)
		}
	}

	before := f.store.fetches()
	books, err := f.resolver.AllBooks(context.Background(), "", "")
	if err != nil {
		t.Fatalf("all books: %v", err)
	}
	if n := f.store.fetches() - before; n != 1 {
		t.Fatalf("expected a single batched author fetch, got %d", n)
	}
	for _, b := range books {
		if b.Author == nil || b.Author.ID != b.AuthorID {
			t.Fatalf("expected author attached to %q", b.Title)
		}
	}
}

func TestAllBooksEmpty(t *testing.T) {
	f := newFixture(t)
	books, err := f.resolver.AllBooks(context.Background(), "", "")
	if err != nil {
		t.Fatalf("all books: %v", err)
	}
	if books == nil || len(books) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", books)
	}
	if n := f.store.fetches(); n != 0 {
		t.Fatalf("expected no author fetch for an empty result, got %d", n)
	}
}

func TestAuthorBookCountMatchesBooks(t *testing.T) {
	f := newFixture(t)
	ctx := f.signedIn(t, "mluukkai")
	for _, in := range []AddBookInput{
		{Title: "Clean Code", Published: 2008, Author: "Robert Martin"},
		{Title: "Agile software development", Published: 2002, Author: "Robert Martin"},
		{Title: "Refactoring, edition 2", Published: 2018, Author: "Martin Fowler"},
	} {
		if _, err := f.resolver.AddBook(ctx, in); err != nil {
			t.Fatalf("add %q: %v", in.Title, err)
		}
	}

	authors, err := f.resolver.AllAuthors(context.Background())
	if err != nil {
		t.Fatalf("all authors: %v", err)
	}
	want := map[string]int{"Robert Martin": 2, "Martin Fowler": 1}
	for _, a := range authors {
		n, err := f.resolver.AuthorBookCount(context.Background(), a)
		if err != nil {
			t.Fatalf("book count: %v", err)
		}
		if n != want[a.Name] {
			t.Fatalf("%s: expected %d books, got %d", a.Name, want[a.Name], n)
		}
	}
}

func TestEditAuthor(t *testing.T) {
	f := newFixture(t)

	if _, err := f.resolver.EditAuthor(context.Background(), "Robert Martin", 1952); !IsCode(err, CodeUnauthenticated) {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}

	ctx := f.signedIn(t, "mluukkai")
	if _, err := f.resolver.AddBook(ctx, AddBookInput{Title: "Clean Code", Published: 2008, Author: "Robert Martin"}); err != nil {
		t.Fatalf("add book: %v", err)
	}

	a, err := f.resolver.EditAuthor(ctx, "Robert Martin", 1952)
	if err != nil {
		t.Fatalf("edit author: %v", err)
	}
	if a == nil || a.Born == nil || *a.Born != 1952 {
		t.Fatalf("unexpected author: %+v", a)
	}

	a, err = f.resolver.EditAuthor(ctx, "Robert Martin", 1953)
	if err != nil || a == nil || *a.Born != 1953 {
		t.Fatalf("expected unconditional overwrite, got %+v, %v", a, err)
	}

	missing, err := f.resolver.EditAuthor(ctx, "Nobody Here", 1900)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown author, got %+v, %v", missing, err)
	}
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)

	u, err := f.resolver.CreateUser(context.Background(), "mluukkai", "refactoring")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == "" || u.Username != "mluukkai" || u.FavoriteGenre != "refactoring" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := f.resolver.CreateUser(context.Background(), "mluukkai", "crime"); !IsCode(err, CodeBadUserInput) {
		t.Fatalf("expected duplicate username to be BAD_USER_INPUT, got %v", err)
	}
	if _, err := f.resolver.CreateUser(context.Background(), "ab", "crime"); !IsCode(err, CodeBadUserInput) {
		t.Fatalf("expected short username to be BAD_USER_INPUT, got %v", err)
	}
	if _, err := f.resolver.CreateUser(context.Background(), "hellas", ""); !IsCode(err, CodeBadUserInput) {
		t.Fatalf("expected missing favoriteGenre to be BAD_USER_INPUT, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	u, err := f.resolver.CreateUser(context.Background(), "mluukkai", "refactoring")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	token, err := f.resolver.Login(context.Background(), "mluukkai", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := f.creds.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.ID != u.ID || claims.Username != "mluukkai" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	me, err := middleware.ResolveSession(context.Background(), "Bearer "+token, f.creds, f.store)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if got := f.resolver.Me(middleware.WithCurrentUser(context.Background(), me)); got == nil || got.ID != u.ID {
		t.Fatalf("expected me to resolve to %s, got %+v", u.ID, got)
	}

	for _, tc := range []struct{ username, password string }{
		{"mluukkai", "wrong"},
		{"nobody", "secret"},
		{"nobody", "wrong"},
	} {
		tok, err := f.resolver.Login(context.Background(), tc.username, tc.password)
		if !IsCode(err, CodeBadUserInput) || tok != "" {
			t.Fatalf("%s/%s: expected wrong credentials, got token=%q err=%v", tc.username, tc.password, tok, err)
		}
		if err.Error() != "wrong credentials" {
			t.Fatalf("unexpected message %q", err.Error())
		}
	}
}

func TestMeAnonymous(t *testing.T) {
	f := newFixture(t)
	if u := f.resolver.Me(context.Background()); u != nil {
		t.Fatalf("expected nil, got %+v", u)
	}
}

func TestBookAddedStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch := f.resolver.BookAdded(ctx)
	if n := f.bus.Subscribers(pubsub.TopicBookAdded); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed after cancel")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.bus.Subscribers(pubsub.TopicBookAdded) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
