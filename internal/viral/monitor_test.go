package viral

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
	"github.com/jonesrussell/amplify/internal/scheduler"
	"github.com/jonesrussell/amplify/internal/telemetry"
)

type fakeSampleStore struct {
	samples map[string][]domain.MetricSample
}

func (f *fakeSampleStore) ListSamplesSince(_ context.Context, postID string, since time.Time) ([]domain.MetricSample, error) {
	var out []domain.MetricSample
	for _, s := range f.samples[postID] {
		if !s.CollectedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeCommentCounter struct {
	counts map[string]int64
}

func (f *fakeCommentCounter) CountEventsSince(_ context.Context, postID string, _ time.Time) (int64, error) {
	return f.counts[postID], nil
}

type fakePostSource struct {
	posts []domain.ContentItem
}

func (f *fakePostSource) ListPublishedSince(_ context.Context, _ time.Time, _ int) ([]domain.ContentItem, error) {
	return f.posts, nil
}

func (f *fakePostSource) GetByID(_ context.Context, id string) (*domain.ContentItem, error) {
	for i := range f.posts {
		if f.posts[i].ID == id {
			return &f.posts[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

type recordingAmplifier struct {
	enqueued []scheduler.EnqueueRequest
	boosts   map[string]int
}

func (a *recordingAmplifier) Enqueue(_ context.Context, req scheduler.EnqueueRequest) (*domain.ContentItem, error) {
	a.enqueued = append(a.enqueued, req)
	return &domain.ContentItem{ID: "cross-post-1"}, nil
}

func (a *recordingAmplifier) Boost(_ context.Context, postID string, delta int) (int64, error) {
	if a.boosts == nil {
		a.boosts = make(map[string]int)
	}
	a.boosts[postID] += delta
	return 1, nil
}

type monitorFixture struct {
	monitor  *Monitor
	samples  *fakeSampleStore
	comments *fakeCommentCounter
	posts    *fakePostSource
	amp      *recordingAmplifier
	clock    *clock.Fake
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	samples := &fakeSampleStore{samples: make(map[string][]domain.MetricSample)}
	comments := &fakeCommentCounter{counts: make(map[string]int64)}
	posts := &fakePostSource{}
	amp := &recordingAmplifier{}
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	monitor := NewMonitor(samples, comments, posts, amp, client, Config{
		TrailingWindow: 30 * time.Minute,
		Cooldown:       6 * time.Hour,
		Thresholds: Thresholds{
			ReachGrowthRate:   0.5,
			EngagementSpike:   2.0,
			CommentsPerMinute: 1.0,
		},
	}, clk, logger.NewNopLogger(), telemetry.NewMetrics())

	return &monitorFixture{
		monitor:  monitor,
		samples:  samples,
		comments: comments,
		posts:    posts,
		amp:      amp,
		clock:    clk,
	}
}

func (fx *monitorFixture) seedSpikingPost(id string) {
	now := fx.clock.Now()
	fx.posts.posts = append(fx.posts.posts, domain.ContentItem{
		ID:      id,
		Channel: "mastodon",
		Body:    "original post body",
		Status:  domain.ContentStatusPublished,
	})
	fx.samples.samples[id] = []domain.MetricSample{
		{PostID: id, CollectedAt: now.Add(-25 * time.Minute), Reach: 1000, Reactions: 20},
		{PostID: id, CollectedAt: now.Add(-2 * time.Minute), Reach: 2000, Reactions: 120},
	}
	fx.comments.counts[id] = 90
}

func TestEvaluatePostAmplifiesOnThresholdCrossing(t *testing.T) {
	fx := newMonitorFixture(t)
	fx.seedSpikingPost("post-1")

	fx.monitor.Pass(context.Background())

	require.Len(t, fx.amp.enqueued, 1)
	crossPost := fx.amp.enqueued[0]
	assert.Equal(t, "mastodon", crossPost.Channel)
	assert.Equal(t, domain.ContentTypeCrossPost, crossPost.ContentType)
	assert.Equal(t, scheduler.MaxPriority, crossPost.Priority)
	require.NotNil(t, crossPost.OriginPostID)
	assert.Equal(t, "post-1", *crossPost.OriginPostID)
	assert.Contains(t, crossPost.Body, "original post body")

	assert.Equal(t, 25, fx.amp.boosts["post-1"], "remaining items get the default boost")
}

func TestEvaluatePostDebouncesWithinCooldown(t *testing.T) {
	fx := newMonitorFixture(t)
	fx.seedSpikingPost("post-1")
	ctx := context.Background()

	fx.monitor.Pass(ctx)
	require.Len(t, fx.amp.enqueued, 1)

	// The spike is still live five minutes later; the cooldown holds.
	fx.clock.Advance(5 * time.Minute)
	fx.monitor.Pass(ctx)
	assert.Len(t, fx.amp.enqueued, 1, "one sustained spike amplifies once")
}

func TestEvaluatePostBelowThresholds(t *testing.T) {
	fx := newMonitorFixture(t)
	now := fx.clock.Now()
	fx.posts.posts = append(fx.posts.posts, domain.ContentItem{
		ID: "post-1", Channel: "mastodon", Status: domain.ContentStatusPublished,
	})
	// Reach creeping up 10%, no comment velocity
	fx.samples.samples["post-1"] = []domain.MetricSample{
		{PostID: "post-1", CollectedAt: now.Add(-20 * time.Minute), Reach: 1000, Reactions: 20},
		{PostID: "post-1", CollectedAt: now.Add(-2 * time.Minute), Reach: 1100, Reactions: 22},
	}

	fx.monitor.Pass(context.Background())

	assert.Empty(t, fx.amp.enqueued)
	assert.Empty(t, fx.amp.boosts)
}

func TestEvaluatePostThinHistoryNeverTriggers(t *testing.T) {
	fx := newMonitorFixture(t)
	now := fx.clock.Now()
	fx.posts.posts = append(fx.posts.posts, domain.ContentItem{
		ID: "post-1", Channel: "mastodon", Status: domain.ContentStatusPublished,
	})
	fx.samples.samples["post-1"] = []domain.MetricSample{
		{PostID: "post-1", CollectedAt: now.Add(-2 * time.Minute), Reach: 50000, Reactions: 9000},
	}
	fx.comments.counts["post-1"] = 500

	fx.monitor.Pass(context.Background())

	assert.Empty(t, fx.amp.enqueued, "a single sample carries no movement")
}
