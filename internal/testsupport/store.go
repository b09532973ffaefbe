package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"mediaforge/internal/config"
	"mediaforge/internal/jobstore"
)

// MustOpenStore opens a SQLite-backed jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPersona stores an active persona with the given name and returns it.
func NewPersona(t testing.TB, store *jobstore.Store, name string) *jobstore.Persona {
	t.Helper()

	persona := &jobstore.Persona{
		ID:         uuid.NewString(),
		Name:       name,
		VoiceStyle: "neutral",
		ImageRef:   "/avatars/" + name + ".png",
		Active:     true,
	}
	if err := store.PutPersona(context.Background(), persona); err != nil {
		t.Fatalf("store.PutPersona: %v", err)
	}
	return persona
}
