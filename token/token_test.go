package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/buntdb"
)

func testIssuer(t *testing.T) *Issuer {
	bdb, err := buntdb.Open(":memory:")
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() { bdb.Close() })
	return NewIssuer([]byte("wieczorne klikanie"), bdb)
}

func Test_IssueAndVerify(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)

	access, err := issuer.IssueAccess(21)
	if !assert.NoError(err) {
		return
	}
	claims, err := issuer.Verify(access, TypeAccess)
	if !assert.NoError(err) {
		return
	}
	userId, err := claims.UserId()
	assert.NoError(err)
	assert.Equal(int64(21), userId)
	assert.Equal(TypeAccess, claims.Type)
}

func Test_VerifyTypeMismatch(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)

	refresh, err := issuer.IssueRefresh(21)
	if !assert.NoError(err) {
		return
	}
	_, err = issuer.Verify(refresh, TypeAccess)
	assert.Equal(ErrMalformed, err)

	access, err := issuer.IssueAccess(21)
	if !assert.NoError(err) {
		return
	}
	_, err = issuer.Verify(access, TypeRefresh)
	assert.Equal(ErrMalformed, err)
}

func Test_VerifyExpired(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)
	issuer.AccessTTL = -time.Minute

	access, err := issuer.IssueAccess(21)
	if !assert.NoError(err) {
		return
	}
	_, err = issuer.Verify(access, TypeAccess)
	assert.Equal(ErrExpired, err)
}

func Test_VerifyMalformed(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)

	_, err := issuer.Verify("definitely not a jwt", TypeAccess)
	assert.Equal(ErrMalformed, err)

	// valid structure, wrong secret
	other := testIssuer(t)
	other.Secret = []byte("poranne klikanie")
	foreign, err := other.IssueAccess(21)
	if !assert.NoError(err) {
		return
	}
	_, err = issuer.Verify(foreign, TypeAccess)
	assert.Equal(ErrMalformed, err)
}

func Test_RevokedTokenRejected(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)

	refresh, err := issuer.IssueRefresh(3)
	if !assert.NoError(err) {
		return
	}
	_, err = issuer.Verify(refresh, TypeRefresh)
	assert.NoError(err)

	err = issuer.Revoke(refresh)
	if !assert.NoError(err) {
		return
	}
	_, err = issuer.Verify(refresh, TypeRefresh)
	assert.Equal(ErrRevoked, err)
}

func Test_RevokeExpiredTokenSucceeds(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)
	issuer.RefreshTTL = -time.Minute

	refresh, err := issuer.IssueRefresh(3)
	if !assert.NoError(err) {
		return
	}
	assert.NoError(issuer.Revoke(refresh))
}

func Test_RevokeMalformed(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)

	assert.Equal(ErrMalformed, issuer.Revoke("not a token"))
}

func Test_RevocationIsPerToken(t *testing.T) {
	assert := assert.New(t)
	issuer := testIssuer(t)

	first, err := issuer.IssueRefresh(7)
	if !assert.NoError(err) {
		return
	}
	second, err := issuer.IssueRefresh(7)
	if !assert.NoError(err) {
		return
	}

	assert.NoError(issuer.Revoke(first))
	_, err = issuer.Verify(first, TypeRefresh)
	assert.Equal(ErrRevoked, err)
	_, err = issuer.Verify(second, TypeRefresh)
	assert.NoError(err)
}
