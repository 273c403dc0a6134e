package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/types"
)

const secret = "test-secret-0123456789"

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(secret, DefaultTTLs())
	require.NoError(t, err)
	return s
}

func TestNewSigner_ShortSecret(t *testing.T) {
	_, err := NewSigner("short", DefaultTTLs())
	assert.Error(t, err)
}

func TestIssueVerify(t *testing.T) {
	s := newSigner(t)
	sess, err := s.Issue(types.Profile{ID: "u1", Email: "ada@example.com", Role: "customer"})
	require.NoError(t, err)

	c, err := s.Verify(sess.AccessToken, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, Claims{UserID: "u1", Email: "ada@example.com", Role: "customer", Kind: KindAccess}, c)

	_, err = s.Verify(sess.RefreshToken, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Verify(sess.AccessToken+"x", KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewSigner("another-secret-9876543210", DefaultTTLs())
	require.NoError(t, err)
	_, err = other.Verify(sess.AccessToken, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	s := newSigner(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	sess, err := s.Issue(types.Profile{ID: "u1", Email: "ada@example.com"})
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = s.Verify(sess.AccessToken, KindAccess)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = s.Verify(sess.RefreshToken, KindRefresh)
	assert.NoError(t, err)
}

func TestService_PortalLogin(t *testing.T) {
	ctx := context.Background()
	ds := dataservice.NewMemoryService(0)
	p, err := ds.Profiles().Create(ctx, types.Profile{Email: "ada@example.com", Role: "customer"})
	require.NoError(t, err)
	svc := NewService(newSigner(t), ds)

	tok := svc.Signer().PortalToken("Ada@Example.com")
	require.NotEmpty(t, tok)

	sess, err := svc.PortalLogin(ctx, "ada@example.com", tok)
	require.NoError(t, err)
	assert.Equal(t, p.ID, sess.UserID)

	_, err = svc.PortalLogin(ctx, "eve@example.com", tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.PortalLogin(ctx, "nobody@example.com", svc.Signer().PortalToken("nobody@example.com"))
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestService_ResumeRefreshes(t *testing.T) {
	ctx := context.Background()
	ds := dataservice.NewMemoryService(0)
	p, err := ds.Profiles().Create(ctx, types.Profile{Email: "ada@example.com", Role: "customer"})
	require.NoError(t, err)
	signer := newSigner(t)
	svc := NewService(signer, ds)

	base := time.Now()
	signer.now = func() time.Time { return base }
	sess, err := signer.Issue(p)
	require.NoError(t, err)

	got, err := svc.Resume(ctx, sess.AccessToken, sess.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, got.AccessToken)

	signer.now = func() time.Time { return base.Add(3 * time.Hour) }
	got, err = svc.Resume(ctx, sess.AccessToken, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.AccessToken, got.AccessToken)
	assert.Equal(t, p.ID, got.UserID)

	_, err = svc.Resume(ctx, sess.AccessToken, "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestClaimsContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	ctx := WithClaims(context.Background(), Claims{UserID: "u1"})
	c, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", c.UserID)
}
