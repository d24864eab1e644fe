package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdsys/isoimage/stream"
)

func TestAddChildRejectsDuplicateName(t *testing.T) {
	tr := New()
	_, err := tr.AddChild(tr.Root(), Node{Kind: KindDirectory, Name: "DOCS"})
	require.NoError(t, err)
	_, err = tr.AddChild(tr.Root(), Node{Kind: KindFile, Name: "DOCS"})
	assert.Error(t, err)
}

func TestWalkVisitsAllNodes(t *testing.T) {
	tr := New()
	docs, err := tr.AddChild(tr.Root(), Node{Kind: KindDirectory, Name: "DOCS"})
	require.NoError(t, err)
	_, err = tr.AddChild(docs, Node{Kind: KindFile, Name: "A.TXT"})
	require.NoError(t, err)
	_, err = tr.AddChild(docs, Node{Kind: KindFile, Name: "B.TXT"})
	require.NoError(t, err)

	var names []string
	err = tr.Walk(tr.Root(), func(idx int) error {
		names = append(names, tr.Node(idx).Name)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"", "DOCS", "A.TXT", "B.TXT"}, names)
}

func TestPathAndDepth(t *testing.T) {
	tr := New()
	docs, err := tr.AddChild(tr.Root(), Node{Kind: KindDirectory, Name: "DOCS"})
	require.NoError(t, err)
	file, err := tr.AddChild(docs, Node{Kind: KindFile, Name: "A.TXT"})
	require.NoError(t, err)

	assert.Equal(t, []string{"DOCS", "A.TXT"}, tr.Path(file))
	assert.Equal(t, 2, tr.Depth(file))
	assert.Equal(t, 0, tr.Depth(tr.Root()))
}

type fakeExtInfo struct{ v int }

func (f fakeExtInfo) Clone() (ExtendedInfo, error) { return fakeExtInfo{v: f.v}, nil }

func TestCloneDeepCopiesStreamsAndExtendedInfo(t *testing.T) {
	tr := New()
	idx, err := tr.AddChild(tr.Root(), Node{
		Kind:    KindFile,
		Name:    "A.TXT",
		Content: stream.NewMemory([]byte("hello")),
	})
	require.NoError(t, err)
	tr.SetExtendedInfo(idx, "isofs.cx", fakeExtInfo{v: 7})

	clone, err := tr.Clone()
	require.NoError(t, err)

	orig := tr.Node(idx)
	cp := clone.Node(idx)
	assert.NotSame(t, orig.Content, cp.Content)

	v, ok := clone.ExtendedInfo(idx, "isofs.cx")
	require.True(t, ok)
	assert.Equal(t, 7, v.(fakeExtInfo).v)

	// mutating the clone's children slice must not alias the original's
	cp.Children = append(cp.Children, 99)
	assert.NotEqual(t, orig.Children, cp.Children)
}

func TestHideFlagsAreIndependentBits(t *testing.T) {
	var h HideFlag
	h |= HideJoliet
	assert.True(t, h&HideJoliet != 0)
	assert.False(t, h&HideECMA119 != 0)
}
