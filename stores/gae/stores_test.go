//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ra "github.com/panyam/reelauth"
	"github.com/panyam/reelauth/stores/storetest"
)

// Requires the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	export DATASTORE_EMULATOR_HOST=localhost:8081
func newTestClient(t *testing.T) *datastore.Client {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "reelauth-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAccountStore(t *testing.T) {
	client := newTestClient(t)
	storetest.Run(t, func(t *testing.T) ra.AccountStore {
		// a fresh namespace per subtest keeps them isolated
		return NewAccountStore(client, "t"+uuid.NewString()[:8])
	})
}

func TestAccountStoreConcurrentCreate(t *testing.T) {
	client := newTestClient(t)
	storetest.RunConcurrentCreate(t, NewAccountStore(client, "race"+uuid.NewString()[:8]), 4)
}
