package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShiftStatus_Transitions(t *testing.T) {
	path := []ShiftStatus{ShiftDraft, ShiftPublished, ShiftAssigned, ShiftInProgress, ShiftCompleted, ShiftApproved}
	for i := 0; i+1 < len(path); i++ {
		assert.True(t, path[i].CanTransitionTo(path[i+1]), "%s -> %s", path[i], path[i+1])
	}

	for _, s := range path[:len(path)-1] {
		assert.True(t, s.CanTransitionTo(ShiftCancelled), "%s -> cancelled", s)
		assert.False(t, s.IsTerminal())
	}

	assert.False(t, ShiftInProgress.CanTransitionTo(ShiftApproved))
	assert.False(t, ShiftApproved.CanTransitionTo(ShiftCancelled))
	assert.False(t, ShiftCancelled.CanTransitionTo(ShiftDraft))
	assert.True(t, ShiftApproved.IsTerminal())
	assert.True(t, ShiftCancelled.IsTerminal())
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewOutsideGeofenceError(320, 150))

	assert.True(t, errors.Is(err, ErrOutsideGeofence))
	assert.False(t, errors.Is(err, ErrTooEarly))

	e, ok := AsError(err)
	assert.True(t, ok)
	assert.Equal(t, 320, e.Details["distance"])
	assert.Equal(t, 150, e.Details["radius"])

	// WithDetails 不应该修改哨兵错误
	assert.Nil(t, ErrOutsideGeofence.Details)
}

func TestError_Benign(t *testing.T) {
	assert.True(t, ErrRaceCondition.Benign())
	assert.True(t, ErrAlreadyClockedIn.Benign())
	assert.False(t, ErrAlreadyClockedOut.Benign())
}

func TestAssignmentStatusFor(t *testing.T) {
	now := time.Now()
	assert.Equal(t, AssignmentActive, AssignmentStatusFor(nil, nil))
	assert.Equal(t, AssignmentInProgress, AssignmentStatusFor(&now, nil))
	assert.Equal(t, AssignmentCompleted, AssignmentStatusFor(&now, &now))
}

func TestVenue_IsGeocoded(t *testing.T) {
	lat, lon := 23.1, 113.3
	assert.False(t, (&Venue{GeofenceRadius: 100}).IsGeocoded())
	assert.False(t, (&Venue{Latitude: &lat, Longitude: &lon}).IsGeocoded())
	assert.True(t, (&Venue{Latitude: &lat, Longitude: &lon, GeofenceRadius: 100}).IsGeocoded())
}
