package symbol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOrigin string

func (f fakeOrigin) InputPath() string { return string(f) }
func (f fakeOrigin) Ordinal() int      { return 0 }

func defSym(name string, binding Binding, src Source, origin Origin) *ResolveInfo {
	info := NewResolveInfo(name, binding, DescDefined, VisDefault, TypeFunction, src)
	info.Origin = origin
	return info
}

func TestWeakOverride(t *testing.T) {
	np := NewNamePool(false)

	weak := defSym("f", BindWeak, SourceRegular, fakeOrigin("a.o"))
	res, d := np.InsertNonLocal(weak, &LDSymbol{Info: weak}, false)
	require.Nil(t, d)
	require.False(t, res.Existed)

	strong := defSym("f", BindGlobal, SourceRegular, fakeOrigin("b.o"))
	res, d = np.InsertNonLocal(strong, &LDSymbol{Info: strong}, false)
	require.Nil(t, d)
	require.True(t, res.Overrode)
	require.Same(t, strong, np.FindInfo("f"))
}

func TestTwoWeaksFirstWins(t *testing.T) {
	np := NewNamePool(false)
	w1 := defSym("f", BindWeak, SourceRegular, fakeOrigin("a.o"))
	np.InsertNonLocal(w1, &LDSymbol{Info: w1}, false)
	w2 := defSym("f", BindWeak, SourceRegular, fakeOrigin("b.o"))
	res, _ := np.InsertNonLocal(w2, &LDSymbol{Info: w2}, false)
	require.False(t, res.Overrode)
	require.Same(t, w1, np.FindInfo("f"))
}

func TestMultipleDefinitionIsFatal(t *testing.T) {
	np := NewNamePool(false)
	a := defSym("f", BindGlobal, SourceRegular, fakeOrigin("a.o"))
	np.InsertNonLocal(a, &LDSymbol{Info: a}, false)
	b := defSym("f", BindGlobal, SourceRegular, fakeOrigin("b.o"))
	_, d := np.InsertNonLocal(b, &LDSymbol{Info: b}, false)
	require.NotNil(t, d)
	require.Equal(t, "multiple-definition", string(d.ID))
}

func TestCommonMergeKeepsLargerSize(t *testing.T) {
	np := NewNamePool(false)
	small := NewResolveInfo("x", BindGlobal, DescCommon, VisDefault, TypeObject, SourceRegular)
	small.Size, small.Value = 4, 4
	small.Origin = fakeOrigin("a.o")
	np.InsertNonLocal(small, &LDSymbol{Info: small}, false)

	big := NewResolveInfo("x", BindGlobal, DescCommon, VisDefault, TypeObject, SourceRegular)
	big.Size, big.Value = 16, 16
	big.Origin = fakeOrigin("b.o")
	res, d := np.InsertNonLocal(big, &LDSymbol{Info: big}, false)
	require.Nil(t, d)
	require.True(t, res.Overrode)
	require.Equal(t, uint64(16), np.FindInfo("x").Size)
}

func TestCommonThenDefinedWins(t *testing.T) {
	np := NewNamePool(false)
	common := NewResolveInfo("x", BindGlobal, DescCommon, VisDefault, TypeObject, SourceRegular)
	common.Size = 4
	np.InsertNonLocal(common, &LDSymbol{Info: common}, false)

	def := defSym("x", BindGlobal, SourceRegular, fakeOrigin("b.o"))
	res, _ := np.InsertNonLocal(def, &LDSymbol{Info: def}, false)
	require.True(t, res.Overrode)
	require.True(t, common.Flags.Has(FlagReferencedByCommon))
}

func TestVisibilityAlwaysCombinesToMostConstrained(t *testing.T) {
	np := NewNamePool(false)
	weak := defSym("f", BindWeak, SourceRegular, fakeOrigin("a.o"))
	weak.Vis = VisDefault
	np.InsertNonLocal(weak, &LDSymbol{Info: weak}, false)

	strong := defSym("f", BindGlobal, SourceRegular, fakeOrigin("b.o"))
	strong.Vis = VisHidden
	np.InsertNonLocal(strong, &LDSymbol{Info: strong}, false)

	require.Equal(t, VisHidden, np.FindInfo("f").Vis)
}

func TestRegularOverridesDynamicAtEqualRank(t *testing.T) {
	np := NewNamePool(false)
	dyn := defSym("f", BindGlobal, SourceDynamic, fakeOrigin("libc.so"))
	np.InsertNonLocal(dyn, &LDSymbol{Info: dyn}, false)

	reg := defSym("f", BindGlobal, SourceRegular, fakeOrigin("a.o"))
	res, d := np.InsertNonLocal(reg, &LDSymbol{Info: reg}, false)
	require.Nil(t, d)
	require.True(t, res.Overrode)
}

func TestWrapRedirectsReferences(t *testing.T) {
	np := NewNamePool(false)
	np.SetWrap("malloc")
	require.Equal(t, "__wrap_malloc", np.Redirect("malloc"))
	require.Equal(t, "malloc", np.Redirect("__real_malloc"))
	require.Equal(t, "other", np.Redirect("other"))
}
