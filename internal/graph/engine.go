package graph

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// Request is a GraphQL operation as sent by clients.
type Request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// Engine executes operations against the library schema.
type Engine struct {
	schema graphql.Schema
}

func NewEngine(r *Resolver) (*Engine, error) {
	schema, err := NewSchema(r)
	if err != nil {
		return nil, err
	}
	return &Engine{schema: schema}, nil
}

// Do runs a query or mutation. The current user, if any, travels in ctx.
func (e *Engine) Do(ctx context.Context, req Request) *graphql.Result {
	if req.Query == "" {
		return &graphql.Result{Errors: []gqlerrors.FormattedError{
			gqlerrors.NewFormattedError("must provide query string"),
		}}
	}
	return graphql.Do(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

// Subscribe starts a subscription operation. Results arrive on the returned
// channel until ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context, req Request) chan *graphql.Result {
	return graphql.Subscribe(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

// operationType returns "query", "mutation" or "subscription" for the
// operation a request would run. It returns "" when the document does not
// parse or the operation cannot be selected; execution reports those errors.
func operationType(query, operationName string) string {
	if query == "" {
		return ""
	}
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return ""
	}
	var selected *ast.OperationDefinition
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if operationName == "" {
			if selected != nil {
				return ""
			}
			selected = op
			continue
		}
		if op.Name != nil && op.Name.Value == operationName {
			selected = op
			break
		}
	}
	if selected == nil {
		return ""
	}
	return selected.Operation
}
