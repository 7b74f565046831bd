package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"hetzner_bot/internal/bot"
	"hetzner_bot/internal/fetcher"
	"hetzner_bot/internal/metrics"
	"hetzner_bot/internal/storage"
)

const subscriberChatID = int64(100)

// A listing with one offer that satisfies the default search attributes:
// three 4 TB drives, 64 GB ram, 38.50 euros.
const listingOK = `{"server": [{
	"key": 1602566,
	"cpu": "Intel Core i7-8700",
	"ram_size": 64,
	"datacenter": "FSN1-DC15",
	"price": 38.5,
	"specials": [],
	"serverDiskData": {"hdd": [4000, 4000, 4000]}
}]}`

const listingPriceDrop = `{"server": [{
	"key": 1602566,
	"cpu": "Intel Core i7-8700",
	"ram_size": 64,
	"datacenter": "FSN1-DC15",
	"price": 33,
	"specials": [],
	"serverDiskData": {"hdd": [4000, 4000, 4000]}
}]}`

type stubClient struct {
	body string
	err  error
}

func (c *stubClient) Do(*http.Request) (*http.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(c.body)),
	}, nil
}

type sentMsg struct {
	chatID   int64
	text     string
	markdown bool
}

type mockSender struct {
	sent []sentMsg
	err  error
}

func (m *mockSender) SendMessage(chatID int64, text string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMsg{chatID: chatID, text: text})
	return nil
}

func (m *mockSender) SendMarkdown(chatID int64, text string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMsg{chatID: chatID, text: text, markdown: true})
	return nil
}

func newTestScheduler(t *testing.T, client *stubClient, adminChatID int64) (*Scheduler, *mockSender, *storage.SQLite, *metrics.Metrics) {
	t.Helper()
	st, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sender := &mockSender{}
	m := metrics.New(prometheus.NewRegistry())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewWithFetcher(st, fetcher.New(client), sender, log, m, adminChatID)
	return s, sender, st, m
}

func seedSubscriber(t *testing.T, st *storage.SQLite) {
	t.Helper()
	sub, err := st.GetOrCreateSubscriber(context.Background(), subscriberChatID)
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	sub.Authorized = true
	if err := st.UpdateSubscriber(context.Background(), sub); err != nil {
		t.Fatalf("update subscriber: %v", err)
	}
}

func TestRunCycleDeliversNewOffer(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{body: listingOK}
	s, sender, st, m := newTestScheduler(t, client, 0)
	seedSubscriber(t, st)

	s.RunCycle(ctx)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %+v", sender.sent)
	}
	msg := sender.sent[0]
	if msg.chatID != subscriberChatID || !msg.markdown {
		t.Errorf("unexpected delivery: %+v", msg)
	}
	if !strings.Contains(msg.text, "*Offer 1602566 (New):*") {
		t.Errorf("unexpected message text:\n%s", msg.text)
	}

	matches, err := st.ListSubscriberMatches(ctx, subscriberChatID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != 1 || !matches[0].Notified {
		t.Fatalf("relation not flagged after delivery: %+v", matches)
	}

	if got := testutil.ToFloat64(m.OffersSynced); got != 1 {
		t.Errorf("offers synced counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.NotificationsSent); got != 1 {
		t.Errorf("notifications counter = %v, want 1", got)
	}
}

func TestRunCycleDoesNotRenotify(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{body: listingOK}
	s, sender, st, _ := newTestScheduler(t, client, 0)
	seedSubscriber(t, st)

	s.RunCycle(ctx)
	s.RunCycle(ctx)

	if len(sender.sent) != 1 {
		t.Errorf("unchanged listing triggered a second delivery: %+v", sender.sent)
	}
}

func TestRunCyclePriceChange(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{body: listingOK}
	s, sender, st, _ := newTestScheduler(t, client, 0)
	seedSubscriber(t, st)

	s.RunCycle(ctx)
	client.body = listingPriceDrop
	s.RunCycle(ctx)

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 messages, got %+v", sender.sent)
	}
	if !strings.Contains(sender.sent[1].text, "*Offer 1602566 (Price change):*") {
		t.Errorf("unexpected second message:\n%s", sender.sent[1].text)
	}
	if !strings.Contains(sender.sent[1].text, "33.00€") {
		t.Errorf("new price missing from message:\n%s", sender.sent[1].text)
	}
}

func TestRunCycleFetchFailureAborts(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{body: listingOK}
	s, sender, st, m := newTestScheduler(t, client, 0)
	seedSubscriber(t, st)

	s.RunCycle(ctx)
	sender.sent = nil

	// The endpoint goes away. The previous offer set must stay
	// authoritative: nothing deactivated, nobody contacted.
	client.err = io.ErrUnexpectedEOF
	s.RunCycle(ctx)

	if len(sender.sent) != 0 {
		t.Errorf("failed fetch still produced messages: %+v", sender.sent)
	}
	offers, err := st.ListActiveOffers(ctx)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 1 {
		t.Errorf("offer set changed on failed fetch: %+v", offers)
	}
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues(metrics.CycleFetchFailed)); got != 1 {
		t.Errorf("fetch failure counter = %v, want 1", got)
	}
}

func TestRunCycleShapelessPayloadAborts(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{body: listingOK}
	s, sender, st, m := newTestScheduler(t, client, 0)
	seedSubscriber(t, st)

	s.RunCycle(ctx)
	sender.sent = nil

	// The endpoint answers with valid JSON that is not a listing. This
	// must abort like a network failure; treating it as an empty batch
	// would deactivate everything and re-announce it next cycle as new.
	client.body = `{"error": "maintenance"}`
	s.RunCycle(ctx)

	offers, err := st.ListActiveOffers(ctx)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("maintenance payload deactivated offers, %d active", len(offers))
	}
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues(metrics.CycleFetchFailed)); got != 1 {
		t.Errorf("fetch failure counter = %v, want 1", got)
	}

	// The next good cycle must not re-notify the untouched match.
	client.body = listingOK
	s.RunCycle(ctx)
	if len(sender.sent) != 0 {
		t.Errorf("unexpected re-notification after recovery: %+v", sender.sent)
	}
}

func TestRunCycleRemovesGoneSubscriber(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{body: listingOK}
	s, sender, st, m := newTestScheduler(t, client, 0)
	seedSubscriber(t, st)

	sender.err = fmt.Errorf("%w: Forbidden: bot was blocked by the user", bot.ErrRecipientGone)
	s.RunCycle(ctx)

	subs, err := st.ListNotifiableSubscribers(ctx)
	if err != nil {
		t.Fatalf("list subscribers: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("unreachable subscriber not removed: %+v", subs)
	}
	if got := testutil.ToFloat64(m.SubscribersRemoved); got != 1 {
		t.Errorf("removed counter = %v, want 1", got)
	}
}

func TestRunCycleTransientFailureRetries(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{body: listingOK}
	s, sender, st, _ := newTestScheduler(t, client, 0)
	seedSubscriber(t, st)

	sender.err = fmt.Errorf("Too Many Requests: retry after 5")
	s.RunCycle(ctx)

	// Flags stay uncommitted, the next cycle delivers.
	sender.err = nil
	s.RunCycle(ctx)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message after recovery, got %+v", sender.sent)
	}
	matches, err := st.ListSubscriberMatches(ctx, subscriberChatID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != 1 || !matches[0].Notified {
		t.Errorf("relation not flagged after recovery: %+v", matches)
	}
}

func TestNotifyNewCPUs(t *testing.T) {
	ctx := context.Background()
	adminChatID := int64(999)
	client := &stubClient{body: listingOK}
	s, sender, _, _ := newTestScheduler(t, client, adminChatID)

	s.RunCycle(ctx)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 admin notice, got %+v", sender.sent)
	}
	notice := sender.sent[0]
	if notice.chatID != adminChatID {
		t.Errorf("notice went to chat %d, want %d", notice.chatID, adminChatID)
	}
	if !strings.Contains(notice.text, "Please add info about these cpus:") ||
		!strings.Contains(notice.text, `"Intel Core i7-8700"`) {
		t.Errorf("unexpected notice text:\n%s", notice.text)
	}

	// Each name is announced once per process lifetime.
	s.RunCycle(ctx)
	if len(sender.sent) != 1 {
		t.Errorf("cpu announced twice: %+v", sender.sent)
	}
}
