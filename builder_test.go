package authcore

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuildRequiresRedis(t *testing.T) {
	_, err := New().
		WithCredentialStore(newFakeCredStore()).
		Build()
	if err == nil {
		t.Fatal("expected error without a redis client")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := defaultConfig()
	cfg.MFA.Digits = 3
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := New().WithRedis(rdb).WithCredentialStore(newFakeCredStore())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("second build must fail")
	}
}

func TestBuildAppliesOutboundTimeoutToClone(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	shared := &http.Client{}
	engine, err := New().
		WithRedis(rdb).
		WithCredentialStore(newFakeCredStore()).
		WithHTTPClient(shared).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer engine.Close()

	if shared.Timeout != 0 {
		t.Fatal("caller's client must not be mutated")
	}
}

func TestEngineMetricsSnapshot(t *testing.T) {
	env, done := newTestEngine(t, nil)
	defer done()
	ctx := context.Background()

	setup := enrollUser(t, env, "u1")
	if _, err := env.engine.VerifyMFAChallenge(ctx, "u1", codeForSecret(t, setup.Secret, 0), ChallengeOptions{}); err != nil {
		t.Fatalf("challenge failed: %v", err)
	}
	if _, err := env.engine.VerifyMFAChallenge(ctx, "u1", "000000", ChallengeOptions{}); err == nil {
		t.Fatal("expected failed challenge")
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricMFASetupRequested] != 1 {
		t.Fatalf("setup counter = %d", snap.Counters[MetricMFASetupRequested])
	}
	if snap.Counters[MetricMFAEnabled] != 1 {
		t.Fatalf("enabled counter = %d", snap.Counters[MetricMFAEnabled])
	}
	if snap.Counters[MetricChallengeSuccess] != 1 || snap.Counters[MetricChallengeFailure] != 1 {
		t.Fatalf("challenge counters = %d/%d", snap.Counters[MetricChallengeSuccess], snap.Counters[MetricChallengeFailure])
	}
}

func TestEngineAuditEventsReachSink(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := NewChannelSink(16)
	engine, err := New().
		WithRedis(rdb).
		WithCredentialStore(newFakeCredStore()).
		WithDeviceStore(newFakeDeviceStore()).
		WithUserDirectory(&fakeDirectory{users: map[string]UserRecord{}}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer engine.Close()

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if _, err := engine.SetupMFA(ctx, "u1"); err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}

	select {
	case event := <-sink.Events():
		if event.EventType != "mfa.setup.requested" || !event.Success {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.UserID != "u1" || event.IP != "203.0.113.7" || event.ID == "" {
			t.Fatalf("event missing context fields: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event delivered")
	}
}
