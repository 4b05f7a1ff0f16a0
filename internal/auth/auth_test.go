package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueParse(t *testing.T) {
	v := &Verifier{Secret: []byte("s3cret"), Issuer: "storefront"}

	tok, err := v.Issue(Staff{ID: "u1", Email: "ops@shop.no", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	s, err := v.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, Staff{ID: "u1", Email: "ops@shop.no", Role: RoleAdmin}, s)
}

func TestVerifier_Rejects(t *testing.T) {
	v := &Verifier{Secret: []byte("s3cret")}

	expired, err := v.Issue(Staff{ID: "u1", Role: RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	customer, err := v.Issue(Staff{ID: "u2", Role: "customer"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(customer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := &Verifier{Secret: []byte("other")}
	forged, err := other.Issue(Staff{ID: "u1", Role: RoleSuperAdmin}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "role": "admin"})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaff_Roles(t *testing.T) {
	assert.True(t, Staff{Role: RoleSuperAdmin}.HasRole(RoleAdmin))
	assert.True(t, Staff{Role: RoleAdmin}.HasRole(RoleAdmin))
	assert.False(t, Staff{Role: RoleAdmin}.HasRole(RoleSuperAdmin))
	assert.False(t, Staff{Role: "customer"}.IsStaff())
}

func TestStaffContext(t *testing.T) {
	_, ok := StaffFrom(context.Background())
	assert.False(t, ok)

	ctx := WithStaff(context.Background(), Staff{ID: "u1", Role: RoleAdmin})
	s, ok := StaffFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", s.ID)
}
