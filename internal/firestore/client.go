// Package firestore is the cloud ledger store, backed by Cloud Firestore.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Collection names.
const (
	accountsCollection     = "ledger-accounts"
	statementsCollection   = "ledger-statements"
	transactionsCollection = "ledger-transactions"
)

// maxTransactionWrites stays under Firestore's 500 writes per transaction,
// leaving room for the statement, account and supersession writes.
const maxTransactionWrites = 480

// Store implements ledger.Store and ledger.CategoryStore on Firestore.
type Store struct {
	client    *firestore.Client
	projectID string
}

// NewStore initializes a Firebase app for projectID and opens its Firestore
// database. Application Default Credentials are used unless credentialsFile
// is set.
func NewStore(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project ID is required")
	}
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &Store{client: client, projectID: projectID}, nil
}

// NewStoreWithClient wraps an existing client, e.g. one connected to the emulator.
func NewStoreWithClient(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Close closes the Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) accounts() *firestore.CollectionRef {
	return s.client.Collection(accountsCollection)
}

func (s *Store) statements() *firestore.CollectionRef {
	return s.client.Collection(statementsCollection)
}

func (s *Store) transactions() *firestore.CollectionRef {
	return s.client.Collection(transactionsCollection)
}

// collect drains a document iterator into typed records.
func collect[T any](iter *firestore.DocumentIterator, what string) ([]*T, error) {
	defer iter.Stop()
	var out []*T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", what, err)
		}
		var rec T
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to parse %s %s: %w", what, doc.Ref.ID, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}
