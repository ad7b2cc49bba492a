package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfirmatorKeepsBitAliveAcrossSweeps(t *testing.T) {
	s := NewStorage("goshm_wd_life_test")
	defer s.Close()

	a, err := s.Allocate()
	require.NoError(t, err)

	confirmator := NewConfirmator(5 * time.Millisecond)
	confirmator.Add(a.Descriptor, a.View, a.Bitpos)

	var mu sync.Mutex
	var invalidated []Descriptor
	validator := NewValidator(5*time.Millisecond, func(d Descriptor) {
		mu.Lock()
		defer mu.Unlock()
		invalidated = append(invalidated, d)
	})
	validator.Track(a.Descriptor, a.View, a.Bitpos)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go confirmator.Run(ctx)
	go validator.Run(ctx)

	time.Sleep(40 * time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, invalidated)
}

func TestValidatorFlagsAbandonedBit(t *testing.T) {
	s := NewStorage("goshm_wd_abandon_test")
	defer s.Close()

	a, err := s.Allocate()
	require.NoError(t, err)
	a.View.Confirm(a.Bitpos)

	var mu sync.Mutex
	var invalidated []Descriptor
	validator := NewValidator(5*time.Millisecond, func(d Descriptor) {
		mu.Lock()
		defer mu.Unlock()
		invalidated = append(invalidated, d)
	})
	validator.Track(a.Descriptor, a.View, a.Bitpos)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go validator.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, invalidated, a.Descriptor)
}
