package symbmc_test

import (
	"testing"

	"github.com/symbmc/symbmc"
)

func ident(name string, width uint) symbmc.Expr {
	return symbmc.NewIdentExpr(symbmc.Ident{L0: name}, width)
}

func TestGuard(t *testing.T) {
	t.Run("NewGuard", func(t *testing.T) {
		g := symbmc.NewGuard()
		if !g.IsTrue() {
			t.Fatal("expected trivially true guard")
		} else if g.IsFalse() {
			t.Fatal("expected non-false guard")
		} else if s := g.AsExpr(); !symbmc.IsConstantTrue(s) {
			t.Fatal("expected AsExpr() to fold to true")
		}
	})

	t.Run("FalseGuard", func(t *testing.T) {
		g := symbmc.FalseGuard()
		if !g.IsFalse() {
			t.Fatal("expected false guard")
		} else if g.IsTrue() {
			t.Fatal("false guard cannot also be trivially true")
		} else if s := g.AsExpr(); !symbmc.IsConstantFalse(s) {
			t.Fatal("expected AsExpr() to fold to false")
		}
	})

	t.Run("And", func(t *testing.T) {
		t.Run("AbsorbsConstantTrue", func(t *testing.T) {
			g := symbmc.NewGuard().And(symbmc.NewBoolConstantExpr(true))
			if !g.IsTrue() {
				t.Fatal("expected and(true, true) to stay trivially true")
			}
		})

		t.Run("CollapsesOnConstantFalse", func(t *testing.T) {
			g := symbmc.NewGuard().And(symbmc.NewBoolConstantExpr(false))
			if !g.IsFalse() {
				t.Fatal("expected and(true, false) to collapse to false")
			}
		})

		t.Run("DedupesRepeatedAtom", func(t *testing.T) {
			x := ident("x", 1)
			g := symbmc.NewGuard().And(x).And(x)
			if diff := g.AsExpr().String(); diff != x.String() {
				t.Fatalf("expected repeated atom to be absorbed, got %q", diff)
			}
		})

		t.Run("CollapsesOnNegation", func(t *testing.T) {
			x := ident("x", 1)
			g := symbmc.NewGuard().And(x).And(symbmc.NewNotExpr(x))
			if !g.IsFalse() {
				t.Fatal("expected and(x, not(x)) to collapse to false")
			}
		})

		t.Run("FalseGuardStaysFalse", func(t *testing.T) {
			g := symbmc.FalseGuard().And(symbmc.NewBoolConstantExpr(true))
			if !g.IsFalse() {
				t.Fatal("expected false guard to absorb further conjuncts")
			}
		})
	})

	t.Run("Or", func(t *testing.T) {
		t.Run("FalseIsIdentity", func(t *testing.T) {
			x := ident("x", 1)
			g := symbmc.NewGuard().And(x)
			if got := symbmc.FalseGuard().Or(g); got.AsExpr().String() != g.AsExpr().String() {
				t.Fatal("expected false to be the identity of Or")
			}
			if got := g.Or(symbmc.FalseGuard()); got.AsExpr().String() != g.AsExpr().String() {
				t.Fatal("expected false to be the identity of Or")
			}
		})

		t.Run("EitherTrueYieldsTrue", func(t *testing.T) {
			x := ident("x", 1)
			g := symbmc.NewGuard().And(x)
			if got := g.Or(symbmc.NewGuard()); !got.IsTrue() {
				t.Fatal("expected or(g, true) to collapse to true")
			}
		})

		t.Run("SameGuardIsIdempotent", func(t *testing.T) {
			x := ident("x", 1)
			g := symbmc.NewGuard().And(x)
			got := g.Or(symbmc.NewGuard().And(x))
			if got.AsExpr().String() != g.AsExpr().String() {
				t.Fatal("expected or(g, g) == g")
			}
		})
	})

	t.Run("Implies", func(t *testing.T) {
		t.Run("TrivialGuardElidesImplication", func(t *testing.T) {
			x := ident("x", 1)
			if got := symbmc.NewGuard().Implies(x); got.String() != x.String() {
				t.Fatal("expected true guard to imply its consequent bare")
			}
		})

		t.Run("FalseGuardImpliesAnything", func(t *testing.T) {
			x := ident("x", 1)
			got := symbmc.FalseGuard().Implies(x)
			if !symbmc.IsConstantTrue(got) {
				t.Fatal("expected false guard to imply anything")
			}
		})
	})

	t.Run("String", func(t *testing.T) {
		if symbmc.FalseGuard().String() != "false" {
			t.Fatal("expected false guard to print as false")
		}
		if symbmc.NewGuard().String() != "true" {
			t.Fatal("expected trivial guard to print as true")
		}
	})
}
