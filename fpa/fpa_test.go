package fpa_test

import (
	"math/big"
	"testing"

	"github.com/symbmc/symbmc/fpa"
	"github.com/symbmc/symbmc/smt"
)

func bvSort(w uint) smt.Sort { return smt.BVSort{Width: w} }

func TestFormatWidth(t *testing.T) {
	cases := []struct {
		name string
		f    fpa.Format
		want uint
	}{
		{"Float16", fpa.Float16, 16},
		{"Float32", fpa.Float32, 32},
		{"Float64", fpa.Float64, 64},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.f.Width(); got != c.want {
				t.Fatalf("Width() = %d, want %d", got, c.want)
			}
		})
	}
}

func symbolOfWidth(b *smt.MockBuilder, name string, w uint) smt.Term {
	return b.MkSMTSymbol(name, bvSort(w))
}

func TestClassifiersReturnBool(t *testing.T) {
	b := smt.NewMockBuilder()
	e := fpa.New(b)
	x := symbolOfWidth(b, "x", fpa.Float32.Width())

	checks := map[string]smt.Term{
		"IsNaN":      e.IsNaN(fpa.Float32, x),
		"IsInf":      e.IsInf(fpa.Float32, x),
		"IsZero":     e.IsZero(fpa.Float32, x),
		"IsDenormal": e.IsDenormal(fpa.Float32, x),
		"IsNormal":   e.IsNormal(fpa.Float32, x),
		"IsPositive": e.IsPositive(fpa.Float32, x),
		"IsNegative": e.IsNegative(fpa.Float32, x),
	}
	for name, term := range checks {
		if _, ok := term.Sort().(smt.BoolSort); !ok {
			t.Errorf("%s: sort = %v, want BoolSort", name, term.Sort())
		}
	}
}

func TestUnpackWidthContract(t *testing.T) {
	b := smt.NewMockBuilder()
	e := fpa.New(b)
	x := symbolOfWidth(b, "x", fpa.Float64.Width())

	u := e.Unpack(fpa.Float64, x, true)
	if w := u.Sign.Sort().(smt.BVSort).Width; w != 1 {
		t.Errorf("Sign width = %d, want 1", w)
	}
	if w := u.Sig.Sort().(smt.BVSort).Width; w != fpa.Float64.Sbits {
		t.Errorf("Sig width = %d, want %d", w, fpa.Float64.Sbits)
	}
	if w := u.Exp.Sort().(smt.BVSort).Width; w != fpa.Float64.Ebits {
		t.Errorf("Exp width = %d, want %d", w, fpa.Float64.Ebits)
	}
	if w := u.LZ.Sort().(smt.BVSort).Width; w != fpa.Float64.Ebits {
		t.Errorf("LZ width = %d, want %d", w, fpa.Float64.Ebits)
	}
}

func TestArithmeticOpsProduceFormatWidth(t *testing.T) {
	b := smt.NewMockBuilder()
	e := fpa.New(b)
	x := symbolOfWidth(b, "x", fpa.Float32.Width())
	y := symbolOfWidth(b, "y", fpa.Float32.Width())

	ops := map[string]smt.Term{
		"Add":  e.Add(fpa.Float32, fpa.RNE, x, y),
		"Sub":  e.Sub(fpa.Float32, fpa.RNE, x, y),
		"Mul":  e.Mul(fpa.Float32, fpa.RNE, x, y),
		"Div":  e.Div(fpa.Float32, fpa.RNE, x, y),
		"Sqrt": e.Sqrt(fpa.Float32, fpa.RNE, x),
		"Neg":  e.Neg(fpa.Float32, x),
		"Abs":  e.Abs(fpa.Float32, x),
	}
	for name, term := range ops {
		if w := term.Sort().(smt.BVSort).Width; w != fpa.Float32.Width() {
			t.Errorf("%s: width = %d, want %d", name, w, fpa.Float32.Width())
		}
	}
}

func TestFPToFPWidenNarrow(t *testing.T) {
	b := smt.NewMockBuilder()
	e := fpa.New(b)
	x32 := symbolOfWidth(b, "x32", fpa.Float32.Width())
	x64 := symbolOfWidth(b, "x64", fpa.Float64.Width())

	widened := e.FPToFP(fpa.Float32, fpa.Float64, fpa.RNE, x32)
	if w := widened.Sort().(smt.BVSort).Width; w != fpa.Float64.Width() {
		t.Errorf("widen: width = %d, want %d", w, fpa.Float64.Width())
	}

	narrowed := e.FPToFP(fpa.Float64, fpa.Float32, fpa.RNE, x64)
	if w := narrowed.Sort().(smt.BVSort).Width; w != fpa.Float32.Width() {
		t.Errorf("narrow: width = %d, want %d", w, fpa.Float32.Width())
	}
}

func TestBVConversions(t *testing.T) {
	b := smt.NewMockBuilder()
	e := fpa.New(b)
	i32 := symbolOfWidth(b, "i", 32)
	x := symbolOfWidth(b, "x", fpa.Float64.Width())

	if w := e.SBVToFP(fpa.Float64, fpa.RNE, i32).Sort().(smt.BVSort).Width; w != fpa.Float64.Width() {
		t.Errorf("SBVToFP width = %d, want %d", w, fpa.Float64.Width())
	}
	if w := e.UBVToFP(fpa.Float64, fpa.RNE, i32).Sort().(smt.BVSort).Width; w != fpa.Float64.Width() {
		t.Errorf("UBVToFP width = %d, want %d", w, fpa.Float64.Width())
	}
	if w := e.FPToSBV(fpa.Float64, fpa.RNE, x, 32).Sort().(smt.BVSort).Width; w != 32 {
		t.Errorf("FPToSBV width = %d, want 32", w)
	}
	if w := e.FPToUBV(fpa.Float64, fpa.RNE, x, 32).Sort().(smt.BVSort).Width; w != 32 {
		t.Errorf("FPToUBV width = %d, want 32", w)
	}
}

func TestComparisonsReturnBool(t *testing.T) {
	b := smt.NewMockBuilder()
	e := fpa.New(b)
	x := symbolOfWidth(b, "x", fpa.Float32.Width())
	y := symbolOfWidth(b, "y", fpa.Float32.Width())

	for name, term := range map[string]smt.Term{
		"Eq": e.Eq(fpa.Float32, x, y),
		"Lt": e.Lt(fpa.Float32, x, y),
		"Gt": e.Gt(fpa.Float32, x, y),
		"Le": e.Le(fpa.Float32, x, y),
		"Ge": e.Ge(fpa.Float32, x, y),
	} {
		if _, ok := term.Sort().(smt.BoolSort); !ok {
			t.Errorf("%s: sort = %v, want BoolSort", name, term.Sort())
		}
	}
}

func TestCanonicalNaNPattern(t *testing.T) {
	b := smt.NewMockBuilder()
	e := fpa.New(b)
	zero := b.MkSMTBV(bvSort(fpa.Float32.Width()), big.NewInt(0))
	// zero is not NaN by construction; exercised only to confirm IsNaN
	// builds without panicking on a concrete-looking term.
	if term := e.IsNaN(fpa.Float32, zero); term == nil {
		t.Fatal("IsNaN returned nil")
	}
}
