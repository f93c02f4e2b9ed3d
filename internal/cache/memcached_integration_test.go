//go:build integration
// +build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
	"github.com/kjstillabower/crop-advisory-service/internal/testhelpers"
)

func TestMemcachedCache_Integration(t *testing.T) {
	c := testhelpers.SetupMemcached(t, testhelpers.GetIntegrationConfig(t))

	ctx := context.Background()
	key := testhelpers.UniqueKey("it")
	want := models.ModelOutput{Crop: "wheat", Fertilizer: "DAP"}
	if err := c.Set(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v, %v), want hit", got, ok, err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if _, ok, _ := c.Get(ctx, key+"-missing"); ok {
		t.Error("Get(missing) should miss")
	}
}
