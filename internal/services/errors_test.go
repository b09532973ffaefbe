package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"mediaforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrCollaborator, "render", "generate", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"render", "generate", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.ErrorKind
	}{
		{"nil", nil, ""},
		{"input", services.Input("create", "title required"), services.KindInput},
		{"state", services.State("approve", "job %s failed", "x"), services.KindState},
		{"not found", fmt.Errorf("lookup: %w", services.ErrNotFound), services.KindNotFound},
		{"resource", services.Wrap(services.ErrResource, "assembly", "stat", "missing", nil), services.KindResource},
		{"collaborator", services.Wrap(services.ErrCollaborator, "image", "", "", errors.New("503")), services.KindCollaborator},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), services.KindCollaborator},
		{"timeout marker", services.Wrap(services.ErrTimeout, "render", "", "", nil), services.KindCollaborator},
		{"plain", errors.New("disk full"), services.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Kind(tc.err); got != tc.want {
				t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected default collaborator marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}
