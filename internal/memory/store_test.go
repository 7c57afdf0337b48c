package memory

import (
	"context"
	"path/filepath"
	"testing"
)

// fixedEmbedder maps known texts to fixed vectors so similarity ranking
// is deterministic.
type fixedEmbedder struct {
	vectors map[string][]float64
}

func (e *fixedEmbedder) Name() string         { return "fixed" }
func (e *fixedEmbedder) DefaultModel() string { return "fixed-1" }

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, ok := e.vectors[text]
		if !ok {
			vec = []float64{0, 0, 1}
		}
		out[i] = vec
	}
	return out, nil
}

func openTestStore(t *testing.T, embedder *fixedEmbedder) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	var store *Store
	var err error
	if embedder != nil {
		store, err = Open(path, embedder)
	} else {
		store, err = Open(path, nil)
	}
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRememberAndList(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	frag, err := store.Remember(ctx, "s1", "the user is named Ada")
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if frag.ID == "" {
		t.Error("fragment has no ID")
	}

	fragments, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fragments) != 1 || fragments[0].Content != "the user is named Ada" {
		t.Errorf("fragments = %+v", fragments)
	}
	if fragments[0].SessionID != "s1" {
		t.Errorf("session = %q", fragments[0].SessionID)
	}
}

func TestForget(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	frag, err := store.Remember(ctx, "", "temporary")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Forget(ctx, frag.ID); err != nil {
		t.Fatalf("forget: %v", err)
	}
	fragments, _ := store.List(ctx)
	if len(fragments) != 0 {
		t.Errorf("fragments = %+v, want none", fragments)
	}
}

func TestRecallRanksBySimilarity(t *testing.T) {
	embedder := &fixedEmbedder{vectors: map[string][]float64{
		"what editor does the user like": {1, 0, 0},
		"the user edits in neovim":       {0.9, 0.1, 0},
		"the user has a cat":             {0, 1, 0},
	}}
	store := openTestStore(t, embedder)
	ctx := context.Background()

	if _, err := store.Remember(ctx, "", "the user has a cat"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Remember(ctx, "", "the user edits in neovim"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Recall(ctx, "s1", "what editor does the user like", 1)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 1 || got[0] != "the user edits in neovim" {
		t.Errorf("recall = %v, want the editor fragment", got)
	}
}

func TestRecallWithoutEmbedderUsesRecency(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.Remember(ctx, "", "older"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Remember(ctx, "", "newer"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Recall(ctx, "s1", "anything", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recall = %v, want both fragments", got)
	}
}

func TestRecallHonorsLimit(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c", "d"} {
		if _, err := store.Remember(ctx, "", text); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.Recall(ctx, "", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("recall = %v, want 2 entries", got)
	}
}

func TestRecallEmptyStore(t *testing.T) {
	store := openTestStore(t, nil)
	got, err := store.Recall(context.Background(), "s1", "query", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if got != nil {
		t.Errorf("recall = %v, want nil", got)
	}
}

func TestPin(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	frag, err := store.Remember(ctx, "", "keep this forever")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Pin(ctx, frag.ID, true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	fragments, _ := store.List(ctx)
	if len(fragments) != 1 || !fragments[0].Pinned {
		t.Errorf("fragments = %+v, want pinned", fragments)
	}
}
