package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/library-catalog/backend/internal/models"
)

// ErrDuplicate is returned when a unique field already exists in the store.
var ErrDuplicate = errors.New("duplicate key")

const (
	authorsCollection = "authors"
	booksCollection   = "books"
	usersCollection   = "users"
)

// MongoStore handles author, book and user documents in MongoDB.
type MongoStore struct {
	authors *mongo.Collection
	books   *mongo.Collection
	users   *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		authors: db.Collection(authorsCollection),
		books:   db.Collection(booksCollection),
		users:   db.Collection(usersCollection),
	}
}

// EnsureIndexes creates the unique indexes the resolvers rely on for
// duplicate detection.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.authors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}}, Options: unique,
	}); err != nil {
		return fmt.Errorf("mongo index authors.name: %w", err)
	}
	if _, err := s.books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "title", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "author", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("mongo index books: %w", err)
	}
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "username", Value: 1}}, Options: unique,
	}); err != nil {
		return fmt.Errorf("mongo index users.username: %w", err)
	}
	return nil
}

// ── Authors ──────────────────────────────────────────────

func (s *MongoStore) CountAuthors(ctx context.Context) (int64, error) {
	return s.authors.CountDocuments(ctx, bson.M{})
}

func (s *MongoStore) ListAuthors(ctx context.Context) ([]models.Author, error) {
	return findAll[models.Author](ctx, s.authors, bson.M{})
}

// FindAuthorByName returns nil when no author has exactly that name.
func (s *MongoStore) FindAuthorByName(ctx context.Context, name string) (*models.Author, error) {
	var a models.Author
	err := s.authors.FindOne(ctx, bson.M{"name": name}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find author: %w", err)
	}
	return &a, nil
}

// FindAuthorsByIDs fetches every listed author in one round trip.
func (s *MongoStore) FindAuthorsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Author, error) {
	if len(ids) == 0 {
		return []models.Author{}, nil
	}
	return findAll[models.Author](ctx, s.authors, bson.M{"_id": bson.M{"$in": ids}})
}

func (s *MongoStore) InsertAuthor(ctx context.Context, a *models.Author) error {
	res, err := s.authors.InsertOne(ctx, a)
	if err != nil {
		return wrapWriteErr("insert author", err)
	}
	a.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// SetAuthorBorn overwrites the birth year of the author with the given name
// and returns the updated document, or nil if there is no such author.
func (s *MongoStore) SetAuthorBorn(ctx context.Context, name string, born int) (*models.Author, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var a models.Author
	err := s.authors.FindOneAndUpdate(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{"born": born}},
		opts,
	).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapWriteErr("update author", err)
	}
	return &a, nil
}

// ── Books ────────────────────────────────────────────────

func (s *MongoStore) CountBooks(ctx context.Context) (int64, error) {
	return s.books.CountDocuments(ctx, bson.M{})
}

// ListBooks returns all books, or only those whose genres contain genre
// when it is non-empty. Matching on an array field is exact.
func (s *MongoStore) ListBooks(ctx context.Context, genre string) ([]models.Book, error) {
	filter := bson.M{}
	if genre != "" {
		filter["genres"] = genre
	}
	return findAll[models.Book](ctx, s.books, filter)
}

func (s *MongoStore) CountBooksByAuthor(ctx context.Context, authorID primitive.ObjectID) (int64, error) {
	return s.books.CountDocuments(ctx, bson.M{"author": authorID})
}

func (s *MongoStore) InsertBook(ctx context.Context, b *models.Book) error {
	res, err := s.books.InsertOne(ctx, b)
	if err != nil {
		return wrapWriteErr("insert book", err)
	}
	b.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// ── Users ────────────────────────────────────────────────

// userDoc is the stored shape of models.User.
type userDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Username      string             `bson:"username"`
	FavoriteGenre string             `bson:"favoriteGenre"`
}

func (d userDoc) user() *models.User {
	return &models.User{ID: d.ID.Hex(), Username: d.Username, FavoriteGenre: d.FavoriteGenre}
}

func (s *MongoStore) CreateUser(ctx context.Context, username, favoriteGenre string) (*models.User, error) {
	doc := userDoc{Username: username, FavoriteGenre: favoriteGenre}
	res, err := s.users.InsertOne(ctx, doc)
	if err != nil {
		return nil, wrapWriteErr("insert user", err)
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)
	return doc.user(), nil
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

// GetUserByID returns nil for ids that are malformed or no longer exist.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find user: %w", err)
	}
	return doc.user(), nil
}

func findAll[T any](ctx context.Context, col *mongo.Collection, filter bson.M) ([]T, error) {
	cur, err := col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", col.Name(), err)
	}
	defer cur.Close(ctx)

	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo decode %s: %w", col.Name(), err)
	}
	return out, nil
}

func wrapWriteErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongo %s: %w: %v", op, ErrDuplicate, err)
	}
	return fmt.Errorf("mongo %s: %w", op, err)
}
