package cache

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rpattn/studyclips/internal/objectstore"
	"github.com/rpattn/studyclips/internal/repository/memory"
)

func TestHash_IgnoresKeyAndArrayOrder(t *testing.T) {
	a := map[string]any{
		"query":    "getData",
		"fieldIds": []any{"b", "a", "c"},
		"aggregation": map[string]any{
			"x": []any{map[string]any{"p": 1, "q": 2}, 3},
		},
	}
	b := map[string]any{
		"aggregation": map[string]any{
			"x": []any{3, map[string]any{"q": 2, "p": 1}},
		},
		"fieldIds": []any{"c", "a", "b"},
		"query":    "getData",
	}

	hashA, canonicalA, err := Hash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, canonicalB, err := Hash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("expected equal hashes, got %s and %s (%s vs %s)", hashA, hashB, canonicalA, canonicalB)
	}
	if len(hashA) != 64 {
		t.Fatalf("expected hex sha256, got %q", hashA)
	}
}

func TestHash_DistinguishesValues(t *testing.T) {
	hashA, _, err := Hash(map[string]any{"fieldIds": []any{"a"}})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hashB, _, err := Hash(map[string]any{"fieldIds": []any{"b"}})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("expected different hashes")
	}
}

func TestCanonicalize_SortsKeysAndArrays(t *testing.T) {
	got, err := Canonicalize(map[string]any{"b": []any{2, 1}, "a": nil})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `{"a":null,"b":[1,2]}` {
		t.Fatalf("unexpected canonical form %s", got)
	}
}

func TestCanonicalize_KeepsHTMLCharacters(t *testing.T) {
	got, err := Canonicalize(map[string]any{"q": "a<b&c>", "tags": []any{"x>y", "<z"}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `{"q":"a<b&c>","tags":["<z","x>y"]}` {
		t.Fatalf("unexpected canonical form %s", got)
	}
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	c := New(memory.NewStore().Cache(), objects, nil)

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"raw":[]}`), nil
	}
	descriptor := map[string]any{"query": "getData", "fieldIds": []string{"a", "b"}}

	first, err := c.GetOrCompute(ctx, descriptor, "alice", compute, false)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.Hit {
		t.Fatalf("expected miss on first call")
	}

	second, err := c.GetOrCompute(ctx, map[string]any{"fieldIds": []string{"b", "a"}, "query": "getData"}, "alice", compute, false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.Hit {
		t.Fatalf("expected hit on second call")
	}
	if second.Entry.ID != first.Entry.ID {
		t.Fatalf("expected same entry, got %s and %s", first.Entry.ID, second.Entry.ID)
	}
	if calls != 1 {
		t.Fatalf("expected compute once, got %d", calls)
	}

	reader, err := c.Load(ctx, second.Entry)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer reader.Close()
	body, _ := io.ReadAll(reader)
	if string(body) != `{"raw":[]}` {
		t.Fatalf("unexpected artifact %q", body)
	}
}

func TestGetOrCompute_ForceUpdateAppendsEntry(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	c := New(memory.NewStore().Cache(), objects, nil)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	compute := func(context.Context) ([]byte, error) { return []byte(`{}`), nil }
	descriptor := map[string]any{"query": "getData"}

	first, err := c.GetOrCompute(ctx, descriptor, "alice", compute, false)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	forced, err := c.GetOrCompute(ctx, descriptor, "alice", compute, true)
	if err != nil {
		t.Fatalf("forced call: %v", err)
	}
	if forced.Hit || forced.Entry.ID == first.Entry.ID {
		t.Fatalf("expected a fresh entry on forced update")
	}
	if objects.Len() != 2 {
		t.Fatalf("expected 2 stored artifacts, got %d", objects.Len())
	}

	latest, err := c.GetOrCompute(ctx, descriptor, "alice", compute, false)
	if err != nil {
		t.Fatalf("latest call: %v", err)
	}
	if latest.Entry.ID != forced.Entry.ID {
		t.Fatalf("expected newest entry to win")
	}
}

func TestGetOrCompute_ComputeErrorStoresNothing(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	c := New(memory.NewStore().Cache(), objects, nil)
	boom := errors.New("boom")

	_, err := c.GetOrCompute(ctx, "x", "alice", func(context.Context) ([]byte, error) { return nil, boom }, false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if objects.Len() != 0 {
		t.Fatalf("expected no artifacts, got %d", objects.Len())
	}
}
