package plaintable

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"plainkv/pkg/clock"
	"plainkv/pkg/dberrors"
	"plainkv/pkg/memtable"
)

// Every prefix lands in the same bucket here, so lookups must tell the
// colliding runs apart by their actual prefix bytes.
func TestGetResolvesPrefixBucketCollisions(t *testing.T) {
	orig := hashPrefix
	hashPrefix = func([]byte) uint64 { return 0 }
	t.Cleanup(func() { hashPrefix = orig })

	mt := memtable.New()
	require.NoError(t, mt.Set([]byte("fruit:aaaa:lime"), []byte("Lime Smoothie"), 1))
	require.NoError(t, mt.Set([]byte("fruit:bbbb:pear"), []byte("Pear Smoothie"), 2))
	require.NoError(t, mt.Delete([]byte("fruit:cccc:plum"), 3))

	path := filepath.Join(t.TempDir(), "1.plain")
	_, err := Write(mt, path, clock.NewSequence(0))
	require.NoError(t, err)

	tbl, err := Open(path)
	require.NoError(t, err)
	defer tbl.Close()

	row, err := tbl.Get([]byte("fruit:aaaa:lime"))
	require.NoError(t, err)
	require.Equal(t, []byte("Lime Smoothie"), row.Value)

	row, err = tbl.Get([]byte("fruit:bbbb:pear"))
	require.NoError(t, err)
	require.Equal(t, []byte("Pear Smoothie"), row.Value)

	row, err = tbl.Get([]byte("fruit:cccc:plum"))
	require.NoError(t, err)
	require.Equal(t, RowTypeDeletion, row.Type)

	_, err = tbl.Get([]byte("fruit:dddd:none"))
	require.ErrorIs(t, err, dberrors.ErrNotFound)
}
