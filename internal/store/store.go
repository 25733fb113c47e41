package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

// ErrNotFound is returned when a requested project or payment does not exist.
var ErrNotFound = errors.New("record not found")

// Reader is the read side shared by the store and an open unit of work.
type Reader interface {
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	GetProjectByKeyHash(ctx context.Context, keyHash string) (*model.Project, error)
	GetPayment(ctx context.Context, projectID uuid.UUID) (*model.Payment, error)
	GetPaymentByAddress(ctx context.Context, coin model.Coin, address string) (*model.Payment, error)
	// WatchedAddresses lists deposit addresses on the chain whose payment
	// has an issued quote.
	WatchedAddresses(ctx context.Context, ch model.Chain) ([]string, error)
}

// Tx is one atomic unit of work. Reads inside it lock the rows they return.
type Tx interface {
	Reader
	SaveProject(ctx context.Context, p *model.Project) error
	SavePayment(ctx context.Context, p *model.Payment) error
}

// Store is the durable entity store.
type Store interface {
	Reader
	ListProjects(ctx context.Context, page, perPage int) ([]*model.Project, int, error)
	CountProjects(ctx context.Context) (int, error)
	// Commit runs fn in a transaction. Nothing is persisted if fn or the
	// commit fails.
	Commit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}
