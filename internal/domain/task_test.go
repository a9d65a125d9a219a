package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_LifecycleGraph(t *testing.T) {
	allowed := map[[2]TaskStatus]bool{
		{StatusNew, StatusPending}:          true,
		{StatusNew, StatusCancelled}:        true,
		{StatusPending, StatusInProgress}:   true,
		{StatusPending, StatusCancelled}:    true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusFailed}:    true,
		{StatusInProgress, StatusPending}:   true,
	}

	statuses := []TaskStatus{StatusNew, StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled}
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]TaskStatus{from, to}]
			assert.Equalf(t, want, CanTransition(from, to), "transition %s -> %s", from, to)
		}
	}
}

func TestCanTransition_TerminalStatesAreFinal(t *testing.T) {
	statuses := []TaskStatus{StatusNew, StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled}
	for _, terminal := range []TaskStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range statuses {
			assert.Falsef(t, CanTransition(terminal, to), "terminal %s must not transition to %s", terminal, to)
		}
	}
}

func TestTaskPriority_Weight(t *testing.T) {
	assert.Equal(t, uint8(1), PriorityLow.Weight())
	assert.Equal(t, uint8(5), PriorityMedium.Weight())
	assert.Equal(t, uint8(10), PriorityHigh.Weight())
}

func TestTaskPriority_IsValid(t *testing.T) {
	assert.True(t, PriorityLow.IsValid())
	assert.True(t, PriorityMedium.IsValid())
	assert.True(t, PriorityHigh.IsValid())
	assert.False(t, TaskPriority("URGENT").IsValid())
	assert.False(t, TaskPriority("").IsValid())
}

func TestTaskStatus_IsValid(t *testing.T) {
	for _, s := range []TaskStatus{StatusNew, StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.IsValid())
	}
	assert.False(t, TaskStatus("RUNNING").IsValid())
}

func TestDispatchMessage_RoundTrip(t *testing.T) {
	msg := DispatchMessage{Priority: 10, RetryCount: 2}
	body, err := msg.Marshal()
	assert.NoError(t, err)

	decoded, err := UnmarshalDispatchMessage(body)
	assert.NoError(t, err)
	assert.Equal(t, msg, decoded)
}
