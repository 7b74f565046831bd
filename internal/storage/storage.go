// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"hetzner_bot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// SyncOffers merges a normalized offer batch into the persisted offer
	// set: creates unknown offers, refreshes attributes, resets the
	// notification flags of every match relation whose offer changed its
	// price, and deactivates offers absent from the batch.
	SyncOffers(ctx context.Context, offers []model.Offer) error
	ListActiveOffers(ctx context.Context) ([]model.Offer, error)
	GetOffer(ctx context.Context, id int64) (*model.Offer, error)

	GetOrCreateSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error)
	UpdateSubscriber(ctx context.Context, sub *model.Subscriber) error
	DeleteSubscriber(ctx context.Context, chatID int64) error
	ListNotifiableSubscribers(ctx context.Context) ([]model.Subscriber, error)

	// SyncSubscriberMatches brings the match relation of one subscriber in
	// line with the given offer id set: missing pairs are created as
	// unnotified new matches, pairs outside the set are deleted.
	SyncSubscriberMatches(ctx context.Context, chatID int64, offerIDs []int64) error
	ListSubscriberMatches(ctx context.Context, chatID int64) ([]model.MatchedOffer, error)
	MarkNotified(ctx context.Context, chatID int64, offerIDs []int64) error

	UpsertCPU(ctx context.Context, cpu model.CPU) error
	ListCPUs(ctx context.Context) (map[string]model.CPU, error)
	ListUnknownCPUNames(ctx context.Context) ([]string, error)

	Close() error
}
