package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/cache"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/generator"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/repository"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

type fakeCache struct {
	mu          sync.Mutex
	entries     map[[2]string][]domain.Message
	gets, sets  int
	invalidated [][2]string
	failGet     bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[[2]string][]domain.Message)}
}

func (c *fakeCache) Get(_ context.Context, ownerID, partnerID string) ([]domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return nil, errors.New("redis down")
	}
	msgs, ok := c.entries[[2]string{ownerID, partnerID}]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return msgs, nil
}

func (c *fakeCache) Set(_ context.Context, ownerID, partnerID string, msgs []domain.Message, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[[2]string{ownerID, partnerID}] = msgs
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, pairs ...[2]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range pairs {
		delete(c.entries, p)
		c.invalidated = append(c.invalidated, p)
	}
	return nil
}

func (c *fakeCache) Close() error { return nil }

// countingRepo counts List calls on top of the memory repository.
type countingRepo struct {
	*repository.MemoryMessageRepository
	mu    sync.Mutex
	lists int
	delay time.Duration
}

func (r *countingRepo) List(ctx context.Context, ownerID, partnerID string, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	r.lists++
	r.mu.Unlock()
	time.Sleep(r.delay)
	return r.MemoryMessageRepository.List(ctx, ownerID, partnerID, limit)
}

func (r *countingRepo) listCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

func newTestService(t *testing.T, c cache.HistoryCache) (*historyServiceImpl, *countingRepo) {
	t.Helper()
	repo := &countingRepo{MemoryMessageRepository: repository.NewMemoryMessageRepository()}
	svc := NewHistoryService(repo, c, time.Minute, generator.NewULID(), 100).(*historyServiceImpl)
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return svc, repo
}

func validRequest() domain.AppendRequest {
	return domain.AppendRequest{
		Text:      "homework is due friday",
		Sender:    protocol.RoleTeacher,
		TeacherID: "t1",
		ParentID:  "p1",
		Timestamp: 1_700_000_000_500,
	}
}

func TestAppendAssignsIDAndStoresBothSides(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	msg, created, err := svc.Append(ctx, validRequest())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, msg.MessageID)
	assert.NoError(t, generator.NewULID().Validate(msg.MessageID))
	assert.Equal(t, protocol.TypeChat, msg.Type)

	teacherSide, err := svc.History(ctx, "t1", "p1")
	require.NoError(t, err)
	require.Len(t, teacherSide, 1)
	assert.Equal(t, msg, teacherSide[0].ChatMessage)

	parentSide, err := svc.History(ctx, "p1", "t1")
	require.NoError(t, err)
	require.Len(t, parentSide, 1)
	assert.False(t, parentSide[0].Read)
}

func TestAppendIsIdempotentOnSuppliedID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	first, created, err := svc.Append(ctx, validRequest())
	require.NoError(t, err)
	require.True(t, created)

	retry := validRequest()
	retry.MessageID = first.MessageID
	again, created, err := svc.Append(ctx, retry)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)

	msgs, err := svc.History(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestAppendDefaultsTimestamp(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := validRequest()
	req.Timestamp = 0
	msg, _, err := svc.Append(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), msg.Timestamp)
}

func TestAppendValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.AppendRequest)
		field  string
	}{
		{"blank text", func(r *domain.AppendRequest) { r.Text = "   " }, "text"},
		{"unknown sender", func(r *domain.AppendRequest) { r.Sender = "principal" }, "sender"},
		{"missing teacher", func(r *domain.AppendRequest) { r.TeacherID = "" }, "teacherId"},
		{"same participants", func(r *domain.AppendRequest) { r.ParentID = "t1" }, "parentId"},
		{"negative timestamp", func(r *domain.AppendRequest) { r.Timestamp = -1 }, "timestamp"},
		{"foreign message id", func(r *domain.AppendRequest) { r.MessageID = "not-a-ulid" }, "messageId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, nil)
			req := validRequest()
			tt.mutate(&req)

			_, _, err := svc.Append(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
			assert.NotEmpty(t, verr.Fields[tt.field])
		})
	}
}

func TestHistoryUsesCacheAndInvalidates(t *testing.T) {
	c := newFakeCache()
	svc, repo := newTestService(t, c)
	ctx := context.Background()

	_, _, err := svc.Append(ctx, validRequest())
	require.NoError(t, err)
	assert.ElementsMatch(t, [][2]string{{"t1", "p1"}, {"p1", "t1"}}, c.invalidated)

	_, err = svc.History(ctx, "p1", "t1")
	require.NoError(t, err)
	_, err = svc.History(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls())
	assert.Equal(t, 1, c.sets)

	updated, err := svc.MarkRead(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	msgs, err := svc.History(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls())
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)

	// Nothing to flag: the cache is left alone.
	c.invalidated = nil
	updated, err = svc.MarkRead(ctx, "p1", "t1")
	require.NoError(t, err)
	assert.Zero(t, updated)
	assert.Empty(t, c.invalidated)
}

func TestHistoryFallsBackWhenCacheFails(t *testing.T) {
	c := newFakeCache()
	c.failGet = true
	svc, repo := newTestService(t, c)

	msgs, err := svc.History(context.Background(), "t1", "p1")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
	assert.Equal(t, 1, repo.listCalls())
}

func TestHistoryCoalescesConcurrentReads(t *testing.T) {
	svc, repo := newTestService(t, nil)
	repo.delay = 50 * time.Millisecond
	ctx := context.Background()

	_, _, err := svc.Append(ctx, validRequest())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]domain.Message, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.History(ctx, "t1", "p1")
		}(i)
	}
	wg.Wait()

	assert.Less(t, repo.listCalls(), len(results))
	for _, r := range results {
		assert.Len(t, r, 1)
	}

	// Callers get their own slices.
	results[0][0].Text = "changed"
	assert.NotEqual(t, "changed", results[1][0].Text)
}

func TestValidationErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"text": "required", "sender": "invalid"}}
	assert.Equal(t, "invalid request: sender: invalid; text: required", err.Error())
}
