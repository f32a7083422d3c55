// ABOUTME: Tests for install token issuance and service registration
// ABOUTME: Covers exactly-once consumption, expiry, heartbeats, and listing

package install

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeatlas/atlas-gateway/internal/store"
)

func testService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store.NewMemoryStore(), logger)
}

// testCertPEM generates a self-signed certificate with the given serial.
func testCertPEM(t *testing.T, serial int64) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "test-service"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestIssueToken_Properties(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	resp, err := svc.IssueToken(ctx, IssueRequest{
		ServiceName: "ctrl-1",
		ServiceKind: store.ServiceKindController,
	}, "admin")
	require.NoError(t, err)

	// 32 bytes of entropy, URL-safe without padding.
	raw, err := base64.RawURLEncoding.DecodeString(resp.InstallToken)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	// Default TTL is 24 hours.
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), resp.ExpiresAt, time.Minute)
}

func TestIssueToken_Validation(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	_, err := svc.IssueToken(ctx, IssueRequest{ServiceName: "x", ServiceKind: "database"}, "admin")
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = svc.IssueToken(ctx, IssueRequest{ServiceKind: store.ServiceKindAgent}, "admin")
	require.ErrorIs(t, err, ErrInvalidRequest)

	// A negative expiry would yield a token that is already dead.
	_, err = svc.IssueToken(ctx, IssueRequest{
		ServiceName:    "agent-1",
		ServiceKind:    store.ServiceKindAgent,
		ExpiresInHours: -1,
	}, "admin")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRegister_Scenario(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, IssueRequest{
		ServiceName:    "agent-1",
		ServiceKind:    store.ServiceKindAgent,
		ControllerName: "ctrl-1",
		ExpiresInHours: 1,
	}, "admin")
	require.NoError(t, err)

	resp, err := svc.Register(ctx, RegisterRequest{
		InstallToken:  issued.InstallToken,
		ClientCertPEM: testCertPEM(t, 4242),
		Metadata:      map[string]any{"version": "1.2.3"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ServiceID)
	assert.Equal(t, "agent 'agent-1' successfully registered", resp.Message)

	list, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "agent-1", list[0].ServiceName)
	assert.Equal(t, "active", list[0].Status)
	assert.Equal(t, "4242", list[0].CertSerial)
	assert.Len(t, list[0].CertFingerprint, 64) // hex-encoded SHA-256
	assert.Equal(t, "ctrl-1", list[0].ControllerName)

	// Same token again: exactly-once.
	_, err = svc.Register(ctx, RegisterRequest{
		InstallToken:  issued.InstallToken,
		ClientCertPEM: testCertPEM(t, 4243),
	})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegister_ConcurrentConsumers(t *testing.T) {
	const workers = 16

	svc := testService()
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, IssueRequest{
		ServiceName: "agent-races",
		ServiceKind: store.ServiceKindAgent,
	}, "admin")
	require.NoError(t, err)

	certPEM := testCertPEM(t, 99)

	var successes, invalid atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Register(ctx, RegisterRequest{
				InstallToken:  issued.InstallToken,
				ClientCertPEM: certPEM,
			})
			switch {
			case err == nil:
				successes.Add(1)
			case err == ErrInvalidToken:
				invalid.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), invalid.Load())
}

func TestRegister_ExpiredToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	svc := NewService(st, logger)
	ctx := context.Background()

	// Plant a record that is already past expiry but not yet evicted.
	rec := &store.InstallToken{
		ServiceName: "agent-1",
		ServiceKind: store.ServiceKindAgent,
		CreatedAt:   time.Now().Add(-2 * time.Hour),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	require.NoError(t, st.PutInstallToken(ctx, "stale", rec, time.Hour))

	_, err := svc.Register(ctx, RegisterRequest{
		InstallToken:  "stale",
		ClientCertPEM: testCertPEM(t, 1),
	})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegister_BadCertificate(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, IssueRequest{
		ServiceName: "agent-1",
		ServiceKind: store.ServiceKindAgent,
	}, "admin")
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{
		InstallToken:  issued.InstallToken,
		ClientCertPEM: "not a certificate",
	})
	require.ErrorIs(t, err, ErrCertParse)

	// The bad-cert attempt consumed the token; registration is burned.
	_, err = svc.Register(ctx, RegisterRequest{
		InstallToken:  issued.InstallToken,
		ClientCertPEM: testCertPEM(t, 2),
	})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegister_UnknownToken(t *testing.T) {
	svc := testService()

	_, err := svc.Register(context.Background(), RegisterRequest{
		InstallToken:  "never-issued",
		ClientCertPEM: testCertPEM(t, 1),
	})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestHeartbeat(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	issued, err := svc.IssueToken(ctx, IssueRequest{
		ServiceName: "ctrl-1",
		ServiceKind: store.ServiceKindController,
	}, "admin")
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{
		InstallToken:  issued.InstallToken,
		ClientCertPEM: testCertPEM(t, 777),
	})
	require.NoError(t, err)

	list, err := svc.List(ctx, "")
	require.NoError(t, err)
	before := list[0].LastSeen

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, svc.Heartbeat(ctx, "777"))

	list, err = svc.List(ctx, "")
	require.NoError(t, err)
	assert.True(t, list[0].LastSeen.After(before), "last_seen should advance")

	err = svc.Heartbeat(ctx, "000")
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestList_FilterAndOrder(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	register := func(name, kind string, serial int64) {
		issued, err := svc.IssueToken(ctx, IssueRequest{ServiceName: name, ServiceKind: kind}, "admin")
		require.NoError(t, err)
		_, err = svc.Register(ctx, RegisterRequest{
			InstallToken:  issued.InstallToken,
			ClientCertPEM: testCertPEM(t, serial),
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond) // distinct connection times
	}

	register("ctrl-1", store.ServiceKindController, 1)
	register("agent-1", store.ServiceKindAgent, 2)
	register("agent-2", store.ServiceKindAgent, 3)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest-first ordering.
	assert.Equal(t, "agent-2", all[0].ServiceName)
	assert.Equal(t, "ctrl-1", all[2].ServiceName)

	agents, err := svc.List(ctx, store.ServiceKindAgent)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, a := range agents {
		assert.Equal(t, store.ServiceKindAgent, a.ServiceKind)
	}

	_, err = svc.List(ctx, "database")
	require.ErrorIs(t, err, ErrUnknownKind)
}
