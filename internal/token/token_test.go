package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewIssuer_RequiresCredentials(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ key, secret string }{{"", "s"}, {"k", ""}, {"", ""}} {
		if _, err := NewIssuer(tc.key, tc.secret, 0); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("NewIssuer(%q, %q) err = %v, want ErrNotConfigured", tc.key, tc.secret, err)
		}
	}
}

func TestNewIssuer_DefaultTTL(t *testing.T) {
	t.Parallel()
	i, err := NewIssuer("devkey", "secret", 0)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	if i.TTL() != DefaultTTL {
		t.Errorf("TTL = %s, want %s", i.TTL(), DefaultTTL)
	}
}

func TestIssue_Claims(t *testing.T) {
	t.Parallel()
	i, err := NewIssuer("devkey", "devsecret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	i.now = func() time.Time { return fixed }

	signed, err := i.Issue(Request{Room: "support-42", Participant: "caller-7", Metadata: "user-123"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := i.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Issuer != "devkey" {
		t.Errorf("iss = %q, want devkey", claims.Issuer)
	}
	if claims.Subject != "caller-7" || claims.Name != "caller-7" {
		t.Errorf("sub/name = %q/%q, want caller-7", claims.Subject, claims.Name)
	}
	if claims.Metadata != "user-123" {
		t.Errorf("metadata = %q, want user-123", claims.Metadata)
	}
	if !claims.ExpiresAt.Time.Equal(fixed.Add(time.Hour)) {
		t.Errorf("exp = %s, want %s", claims.ExpiresAt.Time, fixed.Add(time.Hour))
	}

	v := claims.Video
	if v == nil {
		t.Fatal("video grant missing")
	}
	if !v.RoomJoin || v.Room != "support-42" {
		t.Errorf("grant = %+v", v)
	}
	for name, p := range map[string]*bool{"canPublish": v.CanPublish, "canSubscribe": v.CanSubscribe, "canPublishData": v.CanPublishData} {
		if p == nil || !*p {
			t.Errorf("%s not granted", name)
		}
	}
}

func TestIssue_MissingFields(t *testing.T) {
	t.Parallel()
	i, _ := NewIssuer("k", "s", 0)
	if _, err := i.Issue(Request{Participant: "p"}); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing room: err = %v", err)
	}
	if _, err := i.Issue(Request{Room: "r"}); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing participant: err = %v", err)
	}
}

func TestVerify_RejectsForeignSecret(t *testing.T) {
	t.Parallel()
	a, _ := NewIssuer("k", "secret-a", 0)
	b, _ := NewIssuer("k", "secret-b", 0)

	signed, err := a.Issue(Request{Room: "r", Participant: "p"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()
	i, _ := NewIssuer("k", "s", time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	i.now = func() time.Time { return issuedAt }
	signed, err := i.Issue(Request{Room: "r", Participant: "p"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	i.now = time.Now
	_, err = i.Verify(signed)
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("err = %v, want jwt.ErrTokenExpired", err)
	}
}
