// Package scheduler drives the recurring poll cycle: fetch the market
// listing, reconcile offers, match every subscriber, and deliver.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hetzner_bot/internal/bot"
	"hetzner_bot/internal/fetcher"
	"hetzner_bot/internal/matcher"
	"hetzner_bot/internal/metrics"
	"hetzner_bot/internal/model"
	"hetzner_bot/internal/storage"
)

// Sender is the interface for delivering Telegram messages. A permanent
// delivery failure is reported as bot.ErrRecipientGone.
type Sender interface {
	SendMessage(chatID int64, text string) error
	SendMarkdown(chatID int64, text string) error
}

// Scheduler periodically polls the server market and notifies subscribers.
type Scheduler struct {
	store       storage.Storage
	fetcher     *fetcher.Fetcher
	sender      Sender
	log         *slog.Logger
	metrics     *metrics.Metrics
	adminChatID int64
	interval    time.Duration

	// Processor names the admin was already asked to provide data for.
	// Only touched by the cycle goroutine.
	announcedCPUs map[string]struct{}
}

// New creates a Scheduler with the default HTTP client.
func New(store storage.Storage, sender Sender, log *slog.Logger, m *metrics.Metrics, adminChatID int64) *Scheduler {
	return NewWithFetcher(store, fetcher.New(http.DefaultClient), sender, log, m, adminChatID)
}

// NewWithFetcher creates a Scheduler with a custom fetcher (useful for testing).
func NewWithFetcher(store storage.Storage, f *fetcher.Fetcher, sender Sender, log *slog.Logger, m *metrics.Metrics, adminChatID int64) *Scheduler {
	return &Scheduler{
		store:         store,
		fetcher:       f,
		sender:        sender,
		log:           log,
		metrics:       m,
		adminChatID:   adminChatID,
		interval:      2 * time.Minute,
		announcedCPUs: make(map[string]struct{}),
	}
}

// SetInterval overrides the default 2-minute poll interval.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.interval = d
}

// Run starts the poll loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one poll cycle. A failed fetch aborts the cycle with
// no side effects; the previous offer set stays authoritative and no
// subscriber is contacted.
func (s *Scheduler) RunCycle(ctx context.Context) {
	offers, err := s.fetcher.FetchOffers(ctx, s.log)
	if err != nil {
		s.log.Warn("fetch offers", "error", err)
		s.metrics.CyclesTotal.WithLabelValues(metrics.CycleFetchFailed).Inc()
		return
	}

	if err := s.store.SyncOffers(ctx, offers); err != nil {
		s.log.Error("sync offers", "error", err)
		s.metrics.CyclesTotal.WithLabelValues(metrics.CycleSyncFailed).Inc()
		return
	}
	s.metrics.OffersSynced.Add(float64(len(offers)))

	if err := s.notifyNewCPUs(ctx); err != nil {
		s.log.Error("notify new cpus", "error", err)
	}

	s.notifySubscribers(ctx)
	s.metrics.CyclesTotal.WithLabelValues(metrics.CycleOK).Inc()
}

func (s *Scheduler) notifySubscribers(ctx context.Context) {
	subs, err := s.store.ListNotifiableSubscribers(ctx)
	if err != nil {
		s.log.Error("list subscribers", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	activeOffers, err := s.store.ListActiveOffers(ctx)
	if err != nil {
		s.log.Error("list active offers", "error", err)
		return
	}
	cpus, err := s.store.ListCPUs(ctx)
	if err != nil {
		s.log.Error("list cpus", "error", err)
		return
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		// One subscriber failing must not abort the others.
		if err := s.processSubscriber(ctx, sub, activeOffers, cpus); err != nil {
			s.log.Error("process subscriber", "chat_id", sub.ChatID, "error", err)
		}
	}
}

func (s *Scheduler) processSubscriber(ctx context.Context, sub model.Subscriber, offers []model.Offer, cpus map[string]model.CPU) error {
	ids := matcher.MatchingOfferIDs(offers, sub, cpus)
	if err := s.store.SyncSubscriberMatches(ctx, sub.ChatID, ids); err != nil {
		return fmt.Errorf("sync matches: %w", err)
	}

	matches, err := s.store.ListSubscriberMatches(ctx, sub.ChatID)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}

	chunks, includedIDs, overflow := bot.FormatOffers(&sub, matches, cpus, false)
	if len(chunks) == 0 {
		return nil
	}

	for _, chunk := range chunks {
		if err := s.sender.SendMarkdown(sub.ChatID, chunk); err != nil {
			if errors.Is(err, bot.ErrRecipientGone) {
				s.log.Info("removing unreachable subscriber", "chat_id", sub.ChatID)
				s.metrics.SubscribersRemoved.Inc()
				return s.store.DeleteSubscriber(ctx, sub.ChatID)
			}
			// Transient failure: notification flags stay uncommitted, the
			// same content goes out again next cycle.
			return fmt.Errorf("send chunk: %w", err)
		}

		// Rate limit: ~20 messages/sec max for Telegram
		time.Sleep(50 * time.Millisecond)
	}

	if err := s.store.MarkNotified(ctx, sub.ChatID, includedIDs); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	s.metrics.NotificationsSent.Add(float64(len(includedIDs)))

	if overflow {
		if err := s.sender.SendMessage(sub.ChatID, "Too many results, please narrow down your search a little."); err != nil {
			s.log.Error("send overflow notice", "chat_id", sub.ChatID, "error", err)
		}
	}
	return nil
}

// notifyNewCPUs asks the admin for benchmark data on processors that
// showed up in the listing without a reference row. Every name is
// announced once per process lifetime.
func (s *Scheduler) notifyNewCPUs(ctx context.Context) error {
	if s.adminChatID == 0 {
		return nil
	}

	names, err := s.store.ListUnknownCPUNames(ctx)
	if err != nil {
		return fmt.Errorf("list unknown cpus: %w", err)
	}

	var fresh []string
	for _, name := range names {
		if _, ok := s.announcedCPUs[name]; ok {
			continue
		}
		fresh = append(fresh, name)
	}
	if len(fresh) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Please add info about these cpus:\n")
	for _, name := range fresh {
		fmt.Fprintf(&b, "%q\n", name)
	}

	if err := s.sender.SendMessage(s.adminChatID, b.String()); err != nil {
		return fmt.Errorf("send cpu notice: %w", err)
	}
	for _, name := range fresh {
		s.announcedCPUs[name] = struct{}{}
	}
	return nil
}
