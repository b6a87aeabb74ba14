package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestFromHeader(t *testing.T) {
	raw, err := FromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", raw)

	_, err = FromHeader("")
	assert.ErrorIs(t, err, ErrNoCredential)
	_, err = FromHeader("Basic Zm9vOmJhcg==")
	assert.ErrorIs(t, err, ErrNoCredential)
	_, err = FromHeader("Bearer ")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestParse(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name    string
		secret  string
		token   string
		want    int64
		wantErr bool
	}{
		{name: "numericSub", secret: "s3cret", token: sign(t, "s3cret", jwt.MapClaims{"sub": 42, "exp": exp}), want: 42},
		{name: "stringUserID", secret: "s3cret", token: sign(t, "s3cret", jwt.MapClaims{"user_id": "7", "exp": exp}), want: 7},
		{name: "unverifiedWithoutSecret", secret: "", token: sign(t, "other", jwt.MapClaims{"id": 9}), want: 9},
		{name: "wrongSecret", secret: "s3cret", token: sign(t, "other", jwt.MapClaims{"sub": 42}), wantErr: true},
		{name: "expired", secret: "s3cret", token: sign(t, "s3cret", jwt.MapClaims{"sub": 42, "exp": time.Now().Add(-time.Hour).Unix()}), wantErr: true},
		{name: "noUserClaim", secret: "s3cret", token: sign(t, "s3cret", jwt.MapClaims{"role": "CUSTOMER"}), wantErr: true},
		{name: "garbage", secret: "", token: "not-a-jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.token, tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadCredential)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHolder_OnResolvedFiresOnConcreteChange(t *testing.T) {
	h := NewHolder()
	var got []int64
	h.OnResolved(func(id int64) { got = append(got, id) })

	id42, id7 := int64(42), int64(7)
	h.Set(nil, "")
	h.Set(&id42, "t1")
	h.Set(&id42, "t2") // same identity, token refresh only
	h.Set(nil, "")
	h.Set(&id7, "t3")

	assert.Equal(t, []int64{42, 7}, got)
	assert.Equal(t, "t3", h.Token())
	require.NotNil(t, h.Active())
	assert.Equal(t, int64(7), *h.Active())
}

func TestHolder_ActiveIsCopy(t *testing.T) {
	h := NewHolder()
	id := int64(1)
	h.Set(&id, "")
	a := h.Active()
	*a = 99
	assert.Equal(t, int64(1), *h.Active())
}
