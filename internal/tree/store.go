package tree

import "context"

// Store is the record store the tree is persisted in.
type Store interface {
	// FindAll returns every node matching p, sorted by orders.
	FindAll(ctx context.Context, p Predicate, orders ...Order) ([]*Node, error)
	// FindOne returns the first node matching p, or ErrNotFound.
	FindOne(ctx context.Context, p Predicate, orders ...Order) (*Node, error)
	// Create persists a new node and assigns its id. The returned node
	// has no path.
	Create(ctx context.Context, attrs Attributes) (*Node, error)
	// UpdateAttribute sets a single field of the node with this id.
	UpdateAttribute(ctx context.Context, id int64, f Field, value any) error
	// Transaction runs work against a transaction-bound store. Every write
	// made through it is rolled back when work returns an error. Calling
	// Transaction on a transaction-bound store joins the open transaction.
	Transaction(ctx context.Context, work func(tx Store) error) error
}
