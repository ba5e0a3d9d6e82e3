package natsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/natsutil/natstest"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func userCreds(t *testing.T, expires time.Time) []byte {
	t.Helper()

	accountKP, err := nkeys.CreateAccount()
	require.NoError(t, err)

	userKP, err := nkeys.CreateUser()
	require.NoError(t, err)

	userPub, err := userKP.PublicKey()
	require.NoError(t, err)

	claims := jwt.NewUserClaims(userPub)
	if !expires.IsZero() {
		claims.Expires = expires.Unix()
	}

	token, err := claims.Encode(accountKP)
	require.NoError(t, err)

	seed, err := userKP.Seed()
	require.NoError(t, err)

	creds, err := jwt.FormatUserConfig(token, seed)
	require.NoError(t, err)

	return creds
}

func TestConnect(t *testing.T) {
	log := logger.NewTestLogger()

	t.Run("plain", func(t *testing.T) {
		srv := natstest.RunServer(t)

		nc, err := Connect(&models.NATSConfig{URL: srv.ClientURL()}, "scanrelay-test", log)
		require.NoError(t, err)
		defer nc.Close()

		assert.True(t, nc.IsConnected())
	})

	t.Run("nkey_seed", func(t *testing.T) {
		userKP, err := nkeys.CreateUser()
		require.NoError(t, err)

		pub, err := userKP.PublicKey()
		require.NoError(t, err)

		seed, err := userKP.Seed()
		require.NoError(t, err)

		srv := natstest.RunServer(t, func(o *server.Options) {
			o.Nkeys = []*server.NkeyUser{{Nkey: pub}}
		})

		cfg := &models.NATSConfig{URL: srv.ClientURL(), NKeySeedFile: writeTemp(t, "user.nk", seed)}

		nc, err := Connect(cfg, "scanrelay-test", log)
		require.NoError(t, err)
		defer nc.Close()

		assert.True(t, nc.IsConnected())
	})

	t.Run("account_seed_rejected", func(t *testing.T) {
		accountKP, err := nkeys.CreateAccount()
		require.NoError(t, err)

		seed, err := accountKP.Seed()
		require.NoError(t, err)

		_, err = Options(&models.NATSConfig{NKeySeedFile: writeTemp(t, "account.nk", seed)}, "x", log)
		require.ErrorIs(t, err, ErrNotUserSeed)
	})

	t.Run("missing_url", func(t *testing.T) {
		_, err := Connect(&models.NATSConfig{}, "x", log)
		require.ErrorIs(t, err, ErrNATSURLRequired)
	})
}

func TestCredsExpiry(t *testing.T) {
	t.Run("no_expiry", func(t *testing.T) {
		expires, err := CredsExpiry(writeTemp(t, "user.creds", userCreds(t, time.Time{})))
		require.NoError(t, err)
		assert.True(t, expires.IsZero())
	})

	t.Run("future_expiry", func(t *testing.T) {
		want := time.Now().Add(time.Hour).Truncate(time.Second)

		expires, err := CredsExpiry(writeTemp(t, "user.creds", userCreds(t, want)))
		require.NoError(t, err)
		assert.True(t, want.Equal(expires))
	})

	t.Run("expired", func(t *testing.T) {
		_, err := CredsExpiry(writeTemp(t, "user.creds", userCreds(t, time.Now().Add(-time.Hour))))
		require.ErrorIs(t, err, ErrCredsExpired)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := CredsExpiry(writeTemp(t, "user.creds", []byte("not a creds file")))
		require.Error(t, err)
	})
}
