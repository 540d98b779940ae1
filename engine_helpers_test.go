package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

type fakeCredStore struct {
	mu      sync.Mutex
	creds   map[string]*MfaCredential
	failAll bool
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{creds: map[string]*MfaCredential{}}
}

func (s *fakeCredStore) GetMfaCredential(_ context.Context, userID string) (*MfaCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	cred, ok := s.creds[userID]
	if !ok {
		return nil, nil
	}
	clone := *cred
	clone.BackupCodes = append([]BackupCodeRecord(nil), cred.BackupCodes...)
	return &clone, nil
}

func (s *fakeCredStore) UpsertMfaCredential(_ context.Context, cred *MfaCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	clone := *cred
	clone.BackupCodes = append([]BackupCodeRecord(nil), cred.BackupCodes...)
	s.creds[cred.UserID] = &clone
	return nil
}

func (s *fakeCredStore) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return false, errStoreDown
	}
	cred, ok := s.creds[userID]
	if !ok {
		return false, nil
	}
	for i, record := range cred.BackupCodes {
		if record.Hash == hash {
			cred.BackupCodes = append(cred.BackupCodes[:i], cred.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*TrustedDevice
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: map[string]*TrustedDevice{}}
}

func deviceKey(userID, deviceID string) string { return userID + "/" + deviceID }

func (s *fakeDeviceStore) GetTrustedDevice(_ context.Context, userID, deviceID string) (*TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceKey(userID, deviceID)]
	if !ok {
		return nil, nil
	}
	clone := *device
	return &clone, nil
}

func (s *fakeDeviceStore) UpsertTrustedDevice(_ context.Context, device *TrustedDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *device
	s.devices[deviceKey(device.UserID, device.DeviceID)] = &clone
	return nil
}

func (s *fakeDeviceStore) UpdateTrustedDevice(_ context.Context, device *TrustedDevice) error {
	return s.UpsertTrustedDevice(context.Background(), device)
}

func (s *fakeDeviceStore) ListTrustedDevices(_ context.Context, userID string) ([]TrustedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TrustedDevice
	for _, device := range s.devices {
		if device.UserID == userID {
			out = append(out, *device)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	users map[string]UserRecord
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (UserRecord, error) {
	user, ok := d.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

var errStoreDown = errTestStoreDown{}

type errTestStoreDown struct{}

func (errTestStoreDown) Error() string { return "store down" }

type testEnv struct {
	engine  *Engine
	creds   *fakeCredStore
	devices *fakeDeviceStore
	users   *fakeDirectory
	redis   *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*testEnv, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := defaultConfig()
	cfg.Audit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	creds := newFakeCredStore()
	devices := newFakeDeviceStore()
	users := &fakeDirectory{users: map[string]UserRecord{}}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(creds).
		WithDeviceStore(devices).
		WithUserDirectory(users).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	env := &testEnv{
		engine:  engine,
		creds:   creds,
		devices: devices,
		users:   users,
		redis:   mr,
	}
	return env, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func codeForSecret(t *testing.T, secretBase32 string, offset int64) string {
	t.Helper()
	secret, err := decodeSecret(secretBase32)
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := time.Now().Unix()/30 + offset
	code, err := hotpCode(secret, counter, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

func signedToken(t *testing.T, jti, sub string, iat, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub}
	if jti != "" {
		claims.ID = jti
	}
	if !iat.IsZero() {
		claims.IssuedAt = jwt.NewNumericDate(iat)
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return raw
}

func enrollUser(t *testing.T, env *testEnv, userID string) *MFASetup {
	t.Helper()
	setup, err := env.engine.SetupMFA(context.Background(), userID)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	if err := env.engine.ConfirmMFASetup(context.Background(), userID, codeForSecret(t, setup.Secret, 0)); err != nil {
		t.Fatalf("ConfirmMFASetup failed: %v", err)
	}
	return setup
}
