package graph

import (
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/ayush/library-catalog/backend/internal/models"
)

type tokenResult struct {
	Value string
}

// NewSchema builds the executable schema with r as the resolver for every
// field.
func NewSchema(r *Resolver) (graphql.Schema, error) {
	authorType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Author",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return authorFrom(p.Source).Name, nil
				},
			},
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return authorFrom(p.Source).ID.Hex(), nil
				},
			},
			"born": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					a := authorFrom(p.Source)
					if a.Born == nil {
						return nil, nil
					}
					return *a.Born, nil
				},
			},
			"bookCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.AuthorBookCount(p.Context, authorFrom(p.Source))
				},
			},
		},
	})

	bookType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Book",
		Fields: graphql.Fields{
			"title": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return bookFrom(p.Source).Title, nil
				},
			},
			"published": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return bookFrom(p.Source).Published, nil
				},
			},
			"author": &graphql.Field{
				Type: graphql.NewNonNull(authorType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					b := bookFrom(p.Source)
					if b.Author == nil {
						if err := r.attachAuthors(p.Context, []*models.Book{b}); err != nil {
							return nil, err
						}
					}
					if b.Author == nil {
						return nil, fmt.Errorf("author %s of book %q not found", b.AuthorID.Hex(), b.Title)
					}
					return b.Author, nil
				},
			},
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return bookFrom(p.Source).ID.Hex(), nil
				},
			},
			"genres": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					genres := bookFrom(p.Source).Genres
					if genres == nil {
						genres = []string{}
					}
					return genres, nil
				},
			},
		},
	})

	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"username": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*models.User).Username, nil
				},
			},
			"favoriteGenre": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*models.User).FavoriteGenre, nil
				},
			},
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*models.User).ID, nil
				},
			},
		},
	})

	tokenType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Token",
		Fields: graphql.Fields{
			"value": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*tokenResult).Value, nil
				},
			},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"bookCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.BookCount(p.Context)
				},
			},
			"authorCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.AuthorCount(p.Context)
				},
			},
			"allBooks": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(bookType))),
				Args: graphql.FieldConfigArgument{
					"author": &graphql.ArgumentConfig{Type: graphql.String},
					"genre":  &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					author, _ := p.Args["author"].(string)
					genre, _ := p.Args["genre"].(string)
					return r.AllBooks(p.Context, author, genre)
				},
			},
			"allAuthors": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(authorType))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.AllAuthors(p.Context)
				},
			},
			"me": &graphql.Field{
				Type: userType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if u := r.Me(p.Context); u != nil {
						return u, nil
					}
					return nil, nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"addBook": &graphql.Field{
				Type: bookType,
				Args: graphql.FieldConfigArgument{
					"title":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"published": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"author":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"genres": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String))),
					},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					in := AddBookInput{
						Title:     stringArg(p.Args, "title"),
						Published: intArg(p.Args, "published"),
						Author:    stringArg(p.Args, "author"),
						Genres:    stringListArg(p.Args, "genres"),
					}
					book, err := r.AddBook(p.Context, in)
					if err != nil {
						return nil, err
					}
					return book, nil
				},
			},
			"editAuthor": &graphql.Field{
				Type: authorType,
				Args: graphql.FieldConfigArgument{
					"name":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"setBornTo": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					a, err := r.EditAuthor(p.Context, stringArg(p.Args, "name"), intArg(p.Args, "setBornTo"))
					if err != nil || a == nil {
						return nil, err
					}
					return a, nil
				},
			},
			"createUser": &graphql.Field{
				Type: userType,
				Args: graphql.FieldConfigArgument{
					"username":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"favoriteGenre": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					u, err := r.CreateUser(p.Context, stringArg(p.Args, "username"), stringArg(p.Args, "favoriteGenre"))
					if err != nil {
						return nil, err
					}
					return u, nil
				},
			},
			"login": &graphql.Field{
				Type: tokenType,
				Args: graphql.FieldConfigArgument{
					"username": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"password": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					token, err := r.Login(p.Context, stringArg(p.Args, "username"), stringArg(p.Args, "password"))
					if err != nil {
						return nil, err
					}
					return &tokenResult{Value: token}, nil
				},
			},
		},
	})

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"bookAdded": &graphql.Field{
				Type: graphql.NewNonNull(bookType),
				Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
					return r.BookAdded(p.Context), nil
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Mutation:     mutation,
		Subscription: subscription,
	})
}

// Sources reach field resolvers either as pointers from the resolvers or as
// values from list elements; normalise both to pointers.

func authorFrom(src interface{}) *models.Author {
	switch v := src.(type) {
	case *models.Author:
		return v
	case models.Author:
		return &v
	}
	return &models.Author{}
}

func bookFrom(src interface{}) *models.Book {
	switch v := src.(type) {
	case *models.Book:
		return v
	case models.Book:
		return &v
	}
	return &models.Book{}
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]interface{}, name string) int {
	n, _ := args[name].(int)
	return n
}

func stringListArg(args map[string]interface{}, name string) []string {
	raw, _ := args[name].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
