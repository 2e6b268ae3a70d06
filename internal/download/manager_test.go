package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
)

func collectEvents(t *testing.T, m *Manager) (func() []Event, func()) {
	t.Helper()
	ch, unsubscribe := m.Subscribe()
	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()
	snapshot := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
	stop := func() {
		unsubscribe()
		<-done
	}
	return snapshot, stop
}

func TestStartSuccess(t *testing.T) {
	m := NewManager()
	snapshot, stop := collectEvents(t, m)

	payload, err := m.Start(context.Background(), artifact.KindExcel, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		onProgress(40)
		onProgress(90)
		return []byte("xlsx"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), payload)
	assert.Equal(t, StatusIdle, m.TaskState(artifact.KindExcel).Status)

	stop()
	events := snapshot()
	require.NotEmpty(t, events)
	var sawDone bool
	for _, ev := range events {
		if ev.Status == StatusDone {
			sawDone = true
			assert.Equal(t, 100, ev.Progress)
		}
	}
	assert.True(t, sawDone)
	assert.Equal(t, StatusIdle, events[len(events)-1].Status)
}

func TestStartRejectsDuplicateKind(t *testing.T) {
	m := NewManager()
	started := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		_, err := m.Start(context.Background(), artifact.KindPDF, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
			close(started)
			<-release
			return []byte("pdf"), nil
		})
		firstDone <- err
	}()
	<-started

	_, err := m.Start(context.Background(), artifact.KindPDF, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		return []byte("pdf"), nil
	})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestKindsAreIndependent(t *testing.T) {
	m := NewManager()
	started := make(chan struct{})
	release := make(chan struct{})
	pdfDone := make(chan error, 1)

	go func() {
		_, err := m.Start(context.Background(), artifact.KindPDF, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
			close(started)
			<-release
			return []byte("pdf"), nil
		})
		pdfDone <- err
	}()
	<-started

	// Starting and cancelling an Excel task leaves the PDF task untouched.
	payload, err := m.Start(context.Background(), artifact.KindExcel, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		return []byte("xlsx"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), payload)
	assert.Equal(t, StatusRunning, m.TaskState(artifact.KindPDF).Status)

	close(release)
	require.NoError(t, <-pdfDone)
}

func TestCancelResolvesToCancelled(t *testing.T) {
	m := NewManager()
	snapshot, stop := collectEvents(t, m)
	started := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		_, err := m.Start(context.Background(), artifact.KindExcel, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
			onProgress(30)
			close(started)
			<-ctx.Done()
			// Collaborators typically surface the context error on abort.
			return nil, ctx.Err()
		})
		result <- err
	}()
	<-started

	m.Cancel(artifact.KindExcel)
	err := <-result
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusIdle, m.TaskState(artifact.KindExcel).Status)

	stop()
	var sawCancelled, sawFailed bool
	for _, ev := range snapshot() {
		if ev.Status == StatusCancelled {
			sawCancelled = true
			assert.Equal(t, 0, ev.Progress, "cancellation resets progress")
		}
		if ev.Status == StatusFailed {
			sawFailed = true
		}
	}
	assert.True(t, sawCancelled, "abort must resolve to cancelled")
	assert.False(t, sawFailed, "abort must never resolve to failed")
}

func TestCancelIdleKindIsNoop(t *testing.T) {
	m := NewManager()
	m.Cancel(artifact.KindPDF)
	assert.Equal(t, StatusIdle, m.TaskState(artifact.KindPDF).Status)
}

func TestZeroByteTransferFails(t *testing.T) {
	m := NewManager()
	_, err := m.Start(context.Background(), artifact.KindExcel, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		onProgress(100)
		return []byte{}, nil
	})
	var emptyErr *artifact.EmptyArtifactError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, artifact.KindExcel, emptyErr.Kind)
	assert.Equal(t, StatusIdle, m.TaskState(artifact.KindExcel).Status)
}

func TestFetchErrorResolvesToFailed(t *testing.T) {
	m := NewManager()
	snapshot, stop := collectEvents(t, m)

	_, err := m.Start(context.Background(), artifact.KindPDF, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		return nil, errors.New("render engine unavailable")
	})
	require.ErrorContains(t, err, "render engine unavailable")

	stop()
	var sawFailed bool
	for _, ev := range snapshot() {
		if ev.Status == StatusFailed {
			sawFailed = true
			assert.Contains(t, ev.Error, "render engine unavailable")
		}
	}
	assert.True(t, sawFailed)
}

func TestProgressIsClamped(t *testing.T) {
	m := NewManager()
	snapshot, stop := collectEvents(t, m)

	_, err := m.Start(context.Background(), artifact.KindExcel, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		onProgress(-5)
		onProgress(250)
		return []byte("xlsx"), nil
	})
	require.NoError(t, err)

	stop()
	for _, ev := range snapshot() {
		assert.GreaterOrEqual(t, ev.Progress, 0)
		assert.LessOrEqual(t, ev.Progress, 100)
	}
}

func TestRestartAfterTerminalState(t *testing.T) {
	m := NewManager()
	_, err := m.Start(context.Background(), artifact.KindExcel, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	payload, err := m.Start(context.Background(), artifact.KindExcel, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
		return []byte("xlsx"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), payload)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager()
	_, unsubscribe := m.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, _ = m.Start(context.Background(), artifact.KindJSON, func(ctx context.Context, onProgress func(int)) ([]byte, error) {
				return []byte("{}"), nil
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("downloads blocked on a slow subscriber")
	}
}
