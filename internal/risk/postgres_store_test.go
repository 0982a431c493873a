package risk

import (
	"testing"

	"github.com/mbd888/riskgate/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	runStoreContract(t, func(t *testing.T) Store { return NewPostgresStore(db) })
}
