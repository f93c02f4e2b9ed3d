package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
)

func TestInMemoryCache_SetGet(t *testing.T) {
	c := NewInMemoryCache(0)
	ctx := context.Background()
	want := models.ModelOutput{Crop: "rice", Fertilizer: "Urea"}

	if err := c.Set(ctx, "k", want, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v, %v), want hit", got, ok, err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("Get(missing) should miss")
	}
}

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache(0)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "k", models.ModelOutput{Crop: "maize"}, time.Minute)
	now = now.Add(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired Get", c.Len())
	}
}

func TestInMemoryCache_MaxSize(t *testing.T) {
	c := NewInMemoryCache(2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "a", models.ModelOutput{Crop: "rice"}, time.Minute)
	_ = c.Set(ctx, "b", models.ModelOutput{Crop: "maize"}, time.Hour)
	_ = c.Set(ctx, "c", models.ModelOutput{Crop: "wheat"}, time.Hour)
	if _, ok, _ := c.Get(ctx, "c"); ok {
		t.Fatal("write beyond capacity should be dropped while nothing has expired")
	}

	now = now.Add(2 * time.Minute)
	_ = c.Set(ctx, "c", models.ModelOutput{Crop: "wheat"}, time.Hour)
	if _, ok, _ := c.Get(ctx, "c"); !ok {
		t.Fatal("write should succeed once an expired entry is swept")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestInMemoryCache_Sweep(t *testing.T) {
	c := NewInMemoryCache(0)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	_ = c.Set(ctx, "short", models.ModelOutput{}, time.Second)
	_ = c.Set(ctx, "long", models.ModelOutput{}, time.Hour)

	now = now.Add(time.Minute)
	c.Sweep()
	if c.Len() != 1 {
		t.Errorf("Len() after Sweep = %d, want 1", c.Len())
	}
}

func TestInMemoryCache_Concurrent(t *testing.T) {
	c := NewInMemoryCache(0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			_ = c.Set(ctx, key, models.ModelOutput{Crop: "rice"}, time.Minute)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{10 * time.Minute, 600},
		{0, 3600},
		{-time.Second, 3600},
		{500 * time.Millisecond, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tc := range tests {
		if got := expirationSeconds(tc.ttl); got != tc.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tc.ttl, got, tc.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211, ,host2:11211 ")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs = %v", got)
	}
}
