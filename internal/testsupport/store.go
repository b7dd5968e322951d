package testsupport

import (
	"context"
	"testing"

	"rythmo/internal/config"
	"rythmo/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewProject creates a project for tests. An empty video leaves video_path unset.
func NewProject(t testing.TB, st *store.Store, name, video string, lines int) *store.Project {
	t.Helper()

	project, err := st.CreateProject(context.Background(), name, video, lines)
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return project
}
