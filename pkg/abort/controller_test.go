package abort_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarsy-labs/kopsy/pkg/abort"
)

func TestSignal_FireIsIdempotent(t *testing.T) {
	s := abort.NewSignal()
	assert.False(t, s.Observe())
	s.Fire()
	s.Fire() // must not panic (closing doneCh twice)
	assert.True(t, s.Observe())
}

func TestSignal_DoneChannelClosesOnFire(t *testing.T) {
	s := abort.NewSignal()
	select {
	case <-s.Done():
		t.Fatal("Done() closed before Fire()")
	default:
	}
	s.Fire()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() still open after Fire()")
	}
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := abort.NewRegistry()
	assert.Nil(t, r.Get("trace-1"))

	s := r.Create("trace-1")
	assert.Same(t, s, r.Get("trace-1"))

	r.Remove("trace-1")
	assert.Nil(t, r.Get("trace-1"))
}

func TestRegistry_FireUnknownTraceReturnsFalse(t *testing.T) {
	r := abort.NewRegistry()
	assert.False(t, r.Fire("unknown"))
}

func TestRegistry_FireKnownTraceFiresSignal(t *testing.T) {
	r := abort.NewRegistry()
	s := r.Create("trace-2")
	assert.True(t, r.Fire("trace-2"))
	assert.True(t, s.Observe())
}
