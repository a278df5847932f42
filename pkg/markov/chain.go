package markov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// Chain is the main entry point for building and walking Markov chains. It
// holds the Store every operation goes through and a logger.
type Chain struct {
	store  Store
	logger *slog.Logger
}

// NewChain creates a Chain on top of store. Logging is discarded until
// SetLogger is called.
func NewChain(store Store) *Chain {
	return &Chain{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Chain. By default, all logs are discarded.
// Providing a `log/slog.Logger` will enable logging for ingestion, generation,
// and other operations.
func (c *Chain) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Store returns the store the Chain was created with.
func (c *Chain) Store() Store {
	return c.store
}

// CreateRoot persists a new root. An empty ID is replaced with a random UUID
// and a zero StateSize with DefaultStateSize. The stored root is returned.
func (c *Chain) CreateRoot(ctx context.Context, root Root) (Root, error) {
	root, err := normalizeRoot(root)
	if err != nil {
		return Root{}, err
	}
	if err = c.store.CreateRoot(ctx, root); err != nil {
		return Root{}, err
	}

	c.logger.InfoContext(ctx, "Root created",
		slog.String("root_id", root.ID),
		slog.Int("state_size", root.StateSize),
	)
	return root, nil
}

// OpenRoot returns the root with the given id, creating it on first use. The
// state size of an existing root is immutable, so a differing stateSize
// argument is ignored in favour of the stored one.
func (c *Chain) OpenRoot(ctx context.Context, id string, stateSize int) (Root, error) {
	if id != "" {
		root, err := c.store.GetRoot(ctx, id)
		if err == nil {
			if stateSize != 0 && stateSize != root.StateSize {
				c.logger.WarnContext(ctx, "Ignoring state size for existing root",
					slog.String("root_id", root.ID),
					slog.Int("stored_state_size", root.StateSize),
					slog.Int("requested_state_size", stateSize),
				)
			}
			return root, nil
		}
		if !errors.Is(err, ErrRootNotFound) {
			return Root{}, err
		}
	}
	return c.CreateRoot(ctx, Root{ID: id, StateSize: stateSize})
}

// GetRoot retrieves a root by id, returning ErrRootNotFound if it does not exist.
func (c *Chain) GetRoot(ctx context.Context, id string) (Root, error) {
	return c.store.GetRoot(ctx, id)
}

// Roots lists every root in the store.
func (c *Chain) Roots(ctx context.Context) ([]Root, error) {
	return c.store.ListRoots(ctx)
}

// DeleteRoot removes a root and all of its entries, fragments and references.
func (c *Chain) DeleteRoot(ctx context.Context, root Root) error {
	if err := c.store.DeleteRoot(ctx, root.ID); err != nil {
		return fmt.Errorf("failed to remove root %q: %w", root.ID, err)
	}

	c.logger.InfoContext(ctx, "Root removed successfully",
		slog.String("root_id", root.ID),
	)
	return nil
}

func normalizeRoot(root Root) (Root, error) {
	if root.ID == "" {
		root.ID = uuid.NewString()
	}
	if root.StateSize == 0 {
		root.StateSize = DefaultStateSize
	}
	if root.StateSize < 0 {
		return Root{}, ErrInvalidStateSize
	}
	return root, nil
}
