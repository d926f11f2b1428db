package notes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, DefaultCap, ttl), mr, client
}

func TestRedisStoreKeepsNewestAndExpires(t *testing.T) {
	s, mr, _ := newRedisStore(t, time.Hour)
	ctx := context.Background()
	for i := 0; i < DefaultCap+1; i++ {
		if err := s.Append(ctx, models.Note{BookingID: "b1", Message: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.List(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultCap || got[0].Message != "m1" || got[len(got)-1].Message != "m50" {
		t.Fatalf("expected m1..m50, got %d notes", len(got))
	}
	if ttl := mr.TTL(redisKey("b1")); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if got, _ := s.List(ctx, "b1"); len(got) != 0 {
		t.Fatalf("expected expired list, got %d notes", len(got))
	}
}

func TestRedisStoreSkipsUndecodableEntries(t *testing.T) {
	s, _, client := newRedisStore(t, 0)
	ctx := context.Background()
	_ = s.Append(ctx, models.Note{BookingID: "b1", Message: "first"})
	client.RPush(ctx, redisKey("b1"), "not json")
	_ = s.Append(ctx, models.Note{BookingID: "b1", Message: "second"})

	got, err := s.List(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Message != "first" || got[1].Message != "second" {
		t.Fatalf("expected the two valid notes, got %+v", got)
	}
	if ttl, _ := client.TTL(ctx, redisKey("b1")).Result(); ttl >= 0 {
		t.Fatalf("expected no expiry without a ttl, got %v", ttl)
	}
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	s, mr, _ := newRedisStore(t, time.Hour)
	mr.Close()
	if err := s.Append(context.Background(), models.Note{BookingID: "b1", Message: "x"}); err == nil {
		t.Fatal("expected append to fail once redis is gone")
	}
	if _, err := s.List(context.Background(), "b1"); err == nil {
		t.Fatal("expected list to fail once redis is gone")
	}
}
