package danmaku

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestServiceCreateDefaults(t *testing.T) {
	svc := NewService(NewMemoryStore())
	fixed := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	it, err := svc.Create(context.Background(), "vid", "u1", CreateRequest{Content: "  hello  ", TimeMs: 1200})
	if err != nil {
		t.Fatal(err)
	}
	if it.ID == "" || it.VideoID != "vid" || it.UserID != "u1" {
		t.Fatalf("unexpected identity fields: %+v", it)
	}
	if it.Content != "hello" || it.Type != TypeScroll || it.Color != DefaultColor || it.TimeMs != 1200 {
		t.Fatalf("unexpected defaults: %+v", it)
	}
	if !it.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected CreatedAt %v", it.CreatedAt)
	}
}

func TestServiceSanitizesMarkup(t *testing.T) {
	svc := NewService(NewMemoryStore())

	it, err := svc.Create(context.Background(), "vid", "", CreateRequest{Content: `<script>alert(1)</script><b>nice</b> & fun`})
	if err != nil {
		t.Fatal(err)
	}
	if it.Content != "nice & fun" {
		t.Fatalf("unexpected sanitized content %q", it.Content)
	}

	if _, err := svc.Create(context.Background(), "vid", "", CreateRequest{Content: "<img src=x>"}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("markup-only content should be rejected, got %v", err)
	}

	for _, encoded := range []string{
		"&lt;img src=x onerror=alert(1)&gt;",
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"&amp;lt;b&amp;gt;bold&amp;lt;/b&amp;gt;",
	} {
		it, err := svc.Create(context.Background(), "vid", "", CreateRequest{Content: encoded})
		if err == nil && strings.ContainsAny(it.Content, "<>") {
			t.Fatalf("%q came back as markup: %q", encoded, it.Content)
		}
	}
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())

	tests := []struct {
		name    string
		videoID string
		req     CreateRequest
	}{
		{"missing video", "", CreateRequest{Content: "x"}},
		{"empty content", "vid", CreateRequest{Content: "   "}},
		{"too long", "vid", CreateRequest{Content: strings.Repeat("a", MaxContentLength+1)}},
		{"negative offset", "vid", CreateRequest{Content: "x", TimeMs: -1}},
		{"unknown type", "vid", CreateRequest{Content: "x", Type: "diagonal"}},
		{"bad color", "vid", CreateRequest{Content: "x", Color: "red"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.videoID, "", tt.req); !errors.Is(err, ErrInvalidItem) {
				t.Fatalf("expected ErrInvalidItem, got %v", err)
			}
		})
	}

	it, err := svc.Create(context.Background(), "vid", "", CreateRequest{Content: "x", Type: TypeTop, Color: "#FF00AA"})
	if err != nil {
		t.Fatal(err)
	}
	if it.Color != "#ff00aa" || it.Type != TypeTop {
		t.Fatalf("unexpected item %+v", it)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, it := range []Item{
		{ID: "c", VideoID: "v1", TimeMs: 500, CreatedAt: base},
		{ID: "b", VideoID: "v1", TimeMs: 100, CreatedAt: base.Add(time.Second)},
		{ID: "a", VideoID: "v1", TimeMs: 100, CreatedAt: base},
		{ID: "z", VideoID: "v2", TimeMs: 0, CreatedAt: base},
	} {
		if _, err := store.Create(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Create(ctx, Item{ID: "a", VideoID: "v1"}); !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}

	items, _ := store.List(ctx, "v1")
	got := make([]string, len(items))
	for i, it := range items {
		got[i] = it.ID
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("unexpected order %v", got)
	}

	deleted, err := store.Delete(ctx, "b")
	if err != nil || deleted.VideoID != "v1" {
		t.Fatalf("delete: %+v %v", deleted, err)
	}
	if _, err := store.Delete(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	empty, _ := store.List(ctx, "nothing")
	if empty == nil || len(empty) != 0 {
		t.Fatalf("unknown video should list as empty, got %#v", empty)
	}
}
