package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/baharkarakas/payflow/internal/docstore"
	repo "github.com/baharkarakas/payflow/internal/repository"
	"github.com/baharkarakas/payflow/internal/repository/repotest"
	"github.com/stretchr/testify/require"
)

func TestContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.Repositories {
		store, err := docstore.Open(filepath.Join(t.TempDir(), "payflow.db"))
		require.NoError(t, err)
		r, err := NewRepositories(context.Background(), store)
		require.NoError(t, err)
		t.Cleanup(r.Close)
		return r
	})
}
