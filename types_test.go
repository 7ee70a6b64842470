package railreader2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassNameRoundTrip(t *testing.T) {
	for id := ClassID(0); int(id) < classCount; id++ {
		name := ClassName(id)
		require.NotEmpty(t, name)
		got, ok := ClassByName(name)
		require.True(t, ok)
		require.Equal(t, id, got)
	}
}

func TestClassNameOutOfRange(t *testing.T) {
	require.Equal(t, "", ClassName(ClassID(-1)))
	require.Equal(t, "", ClassName(ClassID(classCount)))

	_, ok := ClassByName("not_a_class")
	require.False(t, ok)
}

func TestBBoxGeometry(t *testing.T) {
	b := BBox{X: 10, Y: 20, W: 30, H: 40}
	require.Equal(t, 40.0, b.Right())
	require.Equal(t, 60.0, b.Bottom())
	require.Equal(t, 25.0, b.CenterX())
	require.Equal(t, 40.0, b.CenterY())
}

func TestBBoxIoUIdenticalIsOne(t *testing.T) {
	b := BBox{X: 0, Y: 0, W: 10, H: 10}
	require.InDelta(t, 1.0, b.IoU(b), 1e-9)
}

func TestBBoxIoUDisjointIsZero(t *testing.T) {
	a := BBox{X: 0, Y: 0, W: 10, H: 10}
	b := BBox{X: 100, Y: 100, W: 10, H: 10}
	require.Equal(t, 0.0, a.IoU(b))
}

func TestBBoxClampInsideUnchanged(t *testing.T) {
	b := BBox{X: 10, Y: 10, W: 20, H: 20}
	require.Equal(t, b, b.Clamp(100, 100))
}

func TestBBoxClampOutsideIsEmpty(t *testing.T) {
	b := BBox{X: 200, Y: 200, W: 20, H: 20}
	c := b.Clamp(100, 100)
	require.Equal(t, 0.0, c.W)
	require.Equal(t, 0.0, c.H)
}

func TestPageAnalysisNavigableIndicesPreservesOrder(t *testing.T) {
	pa := PageAnalysis{
		Blocks: []LayoutBlock{
			{ClassID: ClassFooter},
			{ClassID: ClassText},
			{ClassID: ClassHeader},
			{ClassID: ClassText},
		},
	}
	navigable := map[ClassID]bool{ClassText: true}
	require.Equal(t, []int{1, 3}, pa.NavigableIndices(navigable))
}

func TestDefaultNavigableClassesResolve(t *testing.T) {
	set := DefaultNavigableClasses()
	require.True(t, set[ClassText])
	require.True(t, set[ClassDocTitle])
	require.True(t, set[ClassReference])
	require.False(t, set[ClassFooter])
}
