package deliver_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"secwire/deliver"
	"secwire/models"
	"secwire/telegram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	items  []models.Item
	marked []int64
}

func (s *fakeStore) UnsentItems(_ context.Context, limit int) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unsent []models.Item
	for _, item := range s.items {
		if !s.isMarked(item.ID) {
			unsent = append(unsent, item)
		}
		if len(unsent) == limit {
			break
		}
	}
	return unsent, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isMarked(id) {
		s.marked = append(s.marked, id)
	}
	return nil
}

func (s *fakeStore) isMarked(id int64) bool {
	for _, m := range s.marked {
		if m == id {
			return true
		}
	}
	return false
}

func (s *fakeStore) markedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64{}, s.marked...)
}

type sendCall struct {
	itemID int64
	image  bool
	at     time.Time
}

// fakeSender pops one scripted outcome per call for each item id, repeating
// the last outcome when the script runs out.
type fakeSender struct {
	mu       sync.Mutex
	scripts  map[int64][]telegram.Outcome
	calls    []sendCall
	itemByID func(chatID, payload string) int64
}

func newFakeSender() *fakeSender {
	return &fakeSender{scripts: map[int64][]telegram.Outcome{}}
}

func (f *fakeSender) script(id int64, outcomes ...telegram.Outcome) {
	f.scripts[id] = outcomes
}

func (f *fakeSender) pop(id int64, image bool) telegram.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, sendCall{itemID: id, image: image, at: time.Now()})

	script := f.scripts[id]
	if len(script) == 0 {
		return telegram.Outcome{Kind: telegram.Sent}
	}
	outcome := script[0]
	if len(script) > 1 {
		f.scripts[id] = script[1:]
	}
	return outcome
}

func (f *fakeSender) callsFor(id int64) []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sendCall
	for _, c := range f.calls {
		if c.itemID == id {
			out = append(out, c)
		}
	}
	return out
}

func item(id int64, link string) models.Item {
	return models.Item{
		ID:       id,
		FeedName: "Test",
		Title:    "Item",
		Link:     link,
		Category: "news",
		Priority: "medium",
	}
}

// The drainer embeds the item id nowhere in the payload, so the fake sender
// keys outcomes off the order of store items instead. To keep tests simple
// each test stores items whose ids match their drain order.
type scriptedSender struct {
	*fakeSender
	next  int
	order []int64
}

func (s *scriptedSender) SendText(_ context.Context, _ string, _ string) telegram.Outcome {
	return s.advance(false)
}

func (s *scriptedSender) SendImage(_ context.Context, _ string, _ string, _ string) telegram.Outcome {
	return s.advance(true)
}

func (s *scriptedSender) advance(image bool) telegram.Outcome {
	id := s.order[s.next]
	outcome := s.pop(id, image)
	// Stay on the same item while it is being retried
	if outcome.Kind == telegram.Sent || outcome.Kind == telegram.Failed {
		if s.next < len(s.order)-1 {
			s.next++
		}
	}
	return outcome
}

func newDrainer(store deliver.Store, sender deliver.Sender) *deliver.Drainer {
	return deliver.New(store, sender, deliver.Options{
		ChatID:            "@secwire",
		MessageDelay:      time.Millisecond,
		RateLimitRetries:  3,
		DefaultRetryAfter: 5 * time.Millisecond,
	})
}

func TestDrainDeliversAndMarks(t *testing.T) {
	store := &fakeStore{items: []models.Item{item(1, "https://a"), item(2, "https://b")}}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{1, 2}}

	drainer := newDrainer(store, sender)
	sent, err := drainer.Drain(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 2}, store.markedIDs())
}

func TestDrainRespectsLimit(t *testing.T) {
	store := &fakeStore{items: []models.Item{item(1, "https://a"), item(2, "https://b"), item(3, "https://c")}}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{1, 2, 3}}

	drainer := newDrainer(store, sender)
	sent, err := drainer.Drain(context.Background(), 2)

	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, store.markedIDs(), 2)
}

func TestDrainRateLimitedThenSucceeds(t *testing.T) {
	store := &fakeStore{items: []models.Item{item(1, "https://a")}}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{1}}
	sender.script(1,
		telegram.Outcome{Kind: telegram.RateLimited, RetryAfter: 20 * time.Millisecond},
		telegram.Outcome{Kind: telegram.Sent},
	)

	drainer := newDrainer(store, sender)

	start := time.Now()
	sent, err := drainer.Drain(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{1}, store.markedIDs())

	calls := sender.callsFor(1)
	require.Len(t, calls, 2)
	// The retry waited at least the channel-specified duration
	assert.GreaterOrEqual(t, calls[1].at.Sub(start), 20*time.Millisecond)
}

func TestDrainRateLimitExhausted(t *testing.T) {
	store := &fakeStore{items: []models.Item{item(1, "https://a")}}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{1}}
	sender.script(1, telegram.Outcome{Kind: telegram.RateLimited, RetryAfter: time.Millisecond})

	drainer := newDrainer(store, sender)
	sent, err := drainer.Drain(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	// The item stays unsent for the next cycle
	assert.Empty(t, store.markedIDs())
	// Exactly the configured number of attempts were made
	assert.Len(t, sender.callsFor(1), 3)
}

func TestDrainOtherFailureSkipsWithoutRetry(t *testing.T) {
	store := &fakeStore{items: []models.Item{item(1, "https://a"), item(2, "https://b")}}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{1, 2}}
	sender.script(1, telegram.Outcome{Kind: telegram.Failed, Err: assert.AnError})

	drainer := newDrainer(store, sender)
	sent, err := drainer.Drain(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	// Failed item not marked, not retried; the cycle moved on
	assert.Equal(t, []int64{2}, store.markedIDs())
	assert.Len(t, sender.callsFor(1), 1)
}

func TestDrainUsesImageSendWhenAvailable(t *testing.T) {
	withImage := item(1, "https://a")
	withImage.ImageURL = "https://img.example/a.png"
	store := &fakeStore{items: []models.Item{withImage, item(2, "https://b")}}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{1, 2}}

	drainer := newDrainer(store, sender)
	sent, err := drainer.Drain(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	imageCalls := sender.callsFor(1)
	require.Len(t, imageCalls, 1)
	assert.True(t, imageCalls[0].image)

	textCalls := sender.callsFor(2)
	require.Len(t, textCalls, 1)
	assert.False(t, textCalls[0].image)
}

func TestDrainEmptyBacklog(t *testing.T) {
	store := &fakeStore{}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{0}}

	drainer := newDrainer(store, sender)
	sent, err := drainer.Drain(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestDrainCancelledContext(t *testing.T) {
	store := &fakeStore{items: []models.Item{item(1, "https://a"), item(2, "https://b")}}
	sender := &scriptedSender{fakeSender: newFakeSender(), order: []int64{1, 2}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	drainer := newDrainer(store, sender)
	sent, err := drainer.Drain(ctx, 10)

	assert.Error(t, err)
	assert.Equal(t, 0, sent)
	assert.Empty(t, store.markedIDs())
}
