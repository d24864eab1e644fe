package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdsys/isoimage/option"
	"github.com/kdsys/isoimage/tree"
)

func buildSimpleTree(t *testing.T) *tree.Tree {
	tr := tree.New()
	docs, err := tr.AddChild(tr.Root(), tree.Node{Kind: tree.KindDirectory, Name: "docs"})
	require.NoError(t, err)
	_, err = tr.AddChild(docs, tree.Node{Kind: tree.KindFile, Name: "a.txt"})
	require.NoError(t, err)
	_, err = tr.AddChild(docs, tree.Node{Kind: tree.KindFile, Name: "A.TXT"})
	require.NoError(t, err)
	return tr
}

func TestBuilderMangleDuplicateNames(t *testing.T) {
	tr := buildSimpleTree(t)
	opts := option.Default()
	b := New(ProfileECMA119, tr, opts)
	require.NoError(t, b.Build())

	docsIdx := b.Planned[b.Root].Children[0]
	names := map[string]bool{}
	for _, ci := range b.Planned[docsIdx].Children {
		names[b.Planned[ci].Name] = true
	}
	assert.Len(t, names, 2)
}

func TestBuilderDirectorySizingAndLBA(t *testing.T) {
	tr := buildSimpleTree(t)
	opts := option.Default()
	b := New(ProfileECMA119, tr, opts)
	require.NoError(t, b.Build())
	b.ComputeDRSizes()
	b.ComputeDirectorySizes()

	next := b.AssignDirectoryLBAs(100)
	assert.Greater(t, next, uint32(100))
	assert.Equal(t, uint32(100), b.Planned[b.Root].ExtentLBA)
	for _, p := range b.Planned {
		if p.IsDir {
			assert.EqualValues(t, 0, p.ExtentSize%SectorSize)
		}
	}
}

func TestPathTableEntriesParentBeforeChild(t *testing.T) {
	tr := buildSimpleTree(t)
	opts := option.Default()
	b := New(ProfileECMA119, tr, opts)
	require.NoError(t, b.Build())
	b.ComputeDRSizes()
	b.ComputeDirectorySizes()
	b.AssignDirectoryLBAs(20)

	entries := b.PathTableEntries()
	require.Len(t, entries, 2) // root + docs
	assert.EqualValues(t, 1, entries[0].ParentNum)
}

func TestDeepDirectoriesAreRelocated(t *testing.T) {
	tr := tree.New()
	cur := tr.Root()
	for i := 0; i < 12; i++ {
		var err error
		cur, err = tr.AddChild(cur, tree.Node{Kind: tree.KindDirectory, Name: "d" + string(rune('a'+i))})
		require.NoError(t, err)
	}
	opts := option.Default()
	b := New(ProfileECMA119, tr, opts)
	require.NoError(t, b.Build())

	assert.GreaterOrEqual(t, b.RelocationDir, 0)
	foundStub := false
	for _, p := range b.Planned {
		if p.RelocationStub {
			foundStub = true
		}
	}
	assert.True(t, foundStub)
}

func TestJolietNameLengthCap(t *testing.T) {
	long := ""
	for i := 0; i < 120; i++ {
		long += "x"
	}
	opts := option.Default()
	got := translateJolietName(long, opts)
	assert.LessOrEqual(t, len([]rune(got)), 64)

	opts.JolietLongNames = true
	got = translateJolietName(long, opts)
	assert.LessOrEqual(t, len([]rune(got)), 103)
}
