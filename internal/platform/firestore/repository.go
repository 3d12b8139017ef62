package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

// Collection gives typed read and seed access to one Firestore collection.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed accessor to the named collection.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Get loads and decodes the document with the given ID.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var target T
	ref, err := c.doc(ctx, id)
	if err != nil {
		return target, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return target, WrapError(c.op("get"), err)
	}
	if err := snap.DataTo(&target); err != nil {
		return target, fmt.Errorf("%s: decode %s: %w", c.op("get"), id, err)
	}
	return target, nil
}

// Set writes value under id, replacing any existing document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection not initialised")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("firestore: document id is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, WrapError(c.op("client"), err)
	}
	return client.Collection(c.name).Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
