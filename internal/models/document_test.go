package models

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to DocumentStatus
		ok       bool
	}{
		{StatusQueued, StatusUploaded, true},
		{StatusUploaded, StatusCompleted, true},
		{StatusUploaded, StatusUploadFailed, true},
		{StatusCompleted, StatusToDelete, true},
		{StatusToDelete, StatusCompleted, true},
		{StatusToDelete, StatusDelFailed, true},
		{StatusDelFailed, StatusToDelete, true},
		{StatusCompleted, StatusUploaded, false},
		{StatusUploadFailed, StatusCompleted, false},
		{StatusQueued, StatusCompleted, false},
		{StatusCompleted, StatusDelFailed, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%q -> %q = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	got, err := StatusCompleted.Transition(StatusUploaded)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if got != StatusCompleted {
		t.Fatalf("status = %q, want unchanged", got)
	}
}

func TestScopeKeys(t *testing.T) {
	user := UserScope("a@b.com")
	if got, want := user.ChunkPrefix("doc.pdf"), "a@b.com:doc.pdf:chunk"; got != want {
		t.Errorf("ChunkPrefix = %q, want %q", got, want)
	}
	if got, want := user.BlobKey("doc.pdf"), "a@b.com/doc.pdf"; got != want {
		t.Errorf("BlobKey = %q, want %q", got, want)
	}
	if !KnowledgeBase.IsKnowledgeBase() {
		t.Fatal("KnowledgeBase scope not recognised")
	}
	if got, want := KnowledgeBase.BlobKey("law.pdf"), "knowledge_base/law.pdf"; got != want {
		t.Errorf("BlobKey = %q, want %q", got, want)
	}
	if user.Namespace() == KnowledgeBase.Namespace() {
		t.Error("user and knowledge base share a namespace")
	}
}

func TestQuotaExceededRemaining(t *testing.T) {
	err := &QuotaExceededError{Resource: "file", Limit: 5, Current: 3, Requested: 4}
	if err.Remaining() != 2 {
		t.Fatalf("Remaining = %d, want 2", err.Remaining())
	}
	over := &QuotaExceededError{Resource: "file", Limit: 5, Current: 7, Requested: 1}
	if over.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", over.Remaining())
	}
}

func TestAdminConfigPatchApply(t *testing.T) {
	cfg := DefaultAdminConfig()
	role := "legal writer"
	temp := 0.1
	n := AdminConfigPatch{LLMRole: &role, LLMTemperature: &temp}.Apply(&cfg)
	if n != 2 {
		t.Fatalf("applied = %d, want 2", n)
	}
	if cfg.LLMRole != role || cfg.LLMTemperature != temp {
		t.Fatalf("patch not applied: %+v", cfg)
	}
	if cfg.LLMModelName != "gpt-4-turbo-preview" {
		t.Fatalf("unset field changed: %q", cfg.LLMModelName)
	}
}
