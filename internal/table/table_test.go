package table

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"geoweaver/internal/geoerr"
)

const pools = `LUCODE, C_above ,c_below,LULC_name
1,10,2.5,forest
2,20,,grass

3,30.0,1,urban
`

func TestParseLookup(t *testing.T) {
	tbl, err := ParseLookup(strings.NewReader(pools), "pools.csv", "lucode", "c_above", "C_BELOW")
	require.NoError(t, err)
	require.Equal(t, []string{"lucode", "c_above", "c_below", "lulc_name"}, tbl.Columns)
	require.Equal(t, []string{"1", "2", "3"}, tbl.Keys())

	rec, ok := tbl.Get("2")
	require.True(t, ok)
	require.True(t, rec["c_below"].Empty())
	require.Equal(t, "grass", rec["lulc_name"].String())

	v, err := tbl.Float("1", "C_Below")
	require.NoError(t, err)
	require.Equal(t, 2.5, v)

	m, err := tbl.IntFloatMap("c_above")
	require.NoError(t, err)
	require.Equal(t, map[int64]float64{1: 10, 2: 20, 3: 30}, m)

	_, err = tbl.IntFloatMap("c_below")
	require.ErrorIs(t, err, geoerr.ErrInput)
}

func TestParseLookupErrors(t *testing.T) {
	cases := map[string]struct {
		body string
		key  string
		req  []string
	}{
		"empty":           {body: "", key: "id"},
		"no key column":   {body: "a,b\n1,2\n", key: "id"},
		"missing column":  {body: "id,a\n1,2\n", key: "id", req: []string{"b"}},
		"duplicate key":   {body: "id,a\n1,2\n1,3\n", key: "id"},
		"empty key value": {body: "id,a\n,2\n", key: "id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLookup(strings.NewReader(tc.body), name, tc.key, tc.req...)
			require.ErrorIs(t, err, geoerr.ErrInput)
		})
	}
}

func TestValueInt(t *testing.T) {
	i, err := Value(" 4.0 ").Int()
	require.NoError(t, err)
	require.Equal(t, int64(4), i)
	_, err = Value("4.5").Int()
	require.Error(t, err)
}

func TestReadLookupMissingFile(t *testing.T) {
	_, err := ReadLookup(filepath.Join(t.TempDir(), "x.csv"), "id")
	require.ErrorIs(t, err, geoerr.ErrIO)

	p := filepath.Join(t.TempDir(), "ok.csv")
	require.NoError(t, os.WriteFile(p, []byte("id,v\n7,1\n"), 0o644))
	tbl, err := ReadLookup(p, "ID")
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
}
