package oxia

import (
	"os"
	"testing"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// testServer is an Oxia endpoint for tests: an embedded standalone data
// server, or the external one named by OXIA_SERVICE_ADDRESS.
type testServer struct {
	standalone *dataserver.Standalone
	addr       string
}

// startTestServer returns an Oxia endpoint closed through t.Cleanup.
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	if addr := os.Getenv("OXIA_SERVICE_ADDRESS"); addr != "" {
		t.Logf("using external oxia at %s", addr)
		return &testServer{addr: addr}
	}

	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("start embedded oxia: %v", err)
	}
	srv := &testServer{standalone: standalone, addr: standalone.ServiceAddr()}
	t.Cleanup(func() {
		if err := standalone.Close(); err != nil {
			t.Logf("close embedded oxia: %v", err)
		}
	})
	return srv
}
