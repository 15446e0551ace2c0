package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/coach-accounts/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// MockAuthEventRepository is a mock implementation of AuthEventRepository
type MockAuthEventRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.AuthEvent
}

func (m *MockAuthEventRepository) Insert(ctx context.Context, event *models.AuthEvent) error {
	args := m.Called(ctx, event)

	m.mu.Lock()
	m.inserted = append(m.inserted, event)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockAuthEventRepository) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuthEvent, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if events := args.Get(0); events != nil {
		return events.([]*models.AuthEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuthEventRepository) Inserted() []*models.AuthEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuthEvent(nil), m.inserted...)
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuthEventRepository)
	service := NewAuditService(mockRepo, zaptest.NewLogger(t), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.Error(t, service.Stop(time.Second))
}

func TestAuditService_StopDrainsQueuedEvents(t *testing.T) {
	mockRepo := new(MockAuthEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, service.Start())

	for i := 0; i < 50; i++ {
		require.NoError(t, service.LogEvent(models.NewAuthEvent(models.AuthActionLogin).WithAccount(int64(i+1))))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.Inserted(), 50)
}

func TestAuditService_ConcurrentRecord(t *testing.T) {
	mockRepo := new(MockAuthEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, service.Start())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				service.Record(models.NewAuthEvent(models.AuthActionTokenRefreshed))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.Inserted(), 100)
}

func TestAuditService_RejectsWhenNotRunning(t *testing.T) {
	mockRepo := new(MockAuthEventRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	assert.Error(t, service.LogEvent(models.NewAuthEvent(models.AuthActionLogout)))

	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	assert.Error(t, service.LogEvent(models.NewAuthEvent(models.AuthActionLogout)))
	assert.NotPanics(t, func() { service.Record(models.NewAuthEvent(models.AuthActionLogout)) })
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuthEventRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	dropped := 0
	for i := 0; i < 10; i++ {
		if err := service.LogEvent(models.NewAuthEvent(models.AuthActionLoginFailed)); err != nil {
			dropped++
		}
	}

	// one in flight in the worker, at most two buffered
	assert.GreaterOrEqual(t, dropped, 7)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_ListForAccount(t *testing.T) {
	mockRepo := new(MockAuthEventRepository)
	events := []*models.AuthEvent{models.NewAuthEvent(models.AuthActionRegister).WithAccount(3)}
	mockRepo.On("ListByAccount", mock.Anything, int64(3), 20, 0).Return(events, nil)

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	got, err := service.ListForAccount(context.Background(), 3, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, events, got)
	mockRepo.AssertExpectations(t)
}
