// Package fpa lowers IEEE-754 floating-point values and operations to pure
// bit-vector logic over the abstract SMT construction interface in
// symbmc/smt. Every operation returns a Term built entirely out of
// Builder calls; nothing here ever asks a solver a question, so the
// package has no dependency on any particular backend.
//
// Values round-trip through unpack -> operate -> round -> pack. round is
// the one routine every operation funnels through: it takes a sign bit, an
// (sbits+4)-bit significand carrying three guard/round/sticky bits at the
// bottom, and a signed exponent, and produces the final packed bit-vector.
package fpa

import (
	"math/big"

	"github.com/symbmc/symbmc/smt"
)

// Format is an IEEE-754 binary interchange format: Ebits exponent bits and
// Sbits significand bits, the latter including the implicit leading bit
// that is dropped again when packing.
type Format struct {
	Ebits uint
	Sbits uint
}

// Width returns the packed bit-vector width: 1 sign bit, Ebits exponent
// bits, Sbits-1 trailing significand bits.
func (f Format) Width() uint { return 1 + f.Ebits + f.Sbits - 1 }

// Standard interchange formats.
var (
	Float16 = Format{Ebits: 5, Sbits: 11}
	Float32 = Format{Ebits: 8, Sbits: 24}
	Float64 = Format{Ebits: 11, Sbits: 53}
)

// RoundingMode selects one of the five IEEE-754 rounding modes.
type RoundingMode int

const (
	RNE RoundingMode = iota // round to nearest, ties to even
	RTA                     // round to nearest, ties away from zero
	RTP                     // round toward +infinity
	RTN                     // round toward -infinity
	RTZ                     // round toward zero
)

// Encoder builds fp-to-bit-vector encodings through a Builder.
type Encoder struct {
	B smt.Builder
}

// New returns an Encoder that constructs terms through b.
func New(b smt.Builder) *Encoder {
	return &Encoder{B: b}
}

// Unpacked is the intermediate (sign, significand, exponent, leading-zero
// count) form every operation works in before re-rounding and packing.
// The width contract is exactly (1, Sbits, Ebits, Ebits).
type Unpacked struct {
	Sign smt.Term
	Sig  smt.Term
	Exp  smt.Term
	LZ   smt.Term
}

// Unpack decomposes a packed value of format f. If normalize is set and x
// is denormal, the significand is left-shifted so its leading bit is 1 and
// the exponent absorbs the shift; LZ records the shift applied (0 for a
// normal input).
func (e *Encoder) Unpack(f Format, x smt.Term, normalize bool) Unpacked {
	w := f.Width()
	trailing := f.Sbits - 1
	sign := e.extract(x, w-1, w-1)
	expField := e.extract(x, w-2, trailing)
	sigField := e.extract(x, trailing-1, 0)

	bias := int64(1)<<(f.Ebits-1) - 1
	normalSig := e.concat(e.bvu(1, 1), sigField)
	normalExp := e.sub(e.matchWidthUnsigned(expField, f.Ebits), e.bv(f.Ebits, bias))
	expIsZero := e.isZeroBV(expField)

	if !normalize {
		return Unpacked{Sign: sign, Sig: normalSig, Exp: normalExp, LZ: e.bv(f.Ebits, 0)}
	}

	lzTrail := e.countLeadingZeros(sigField, trailing, f.Ebits)
	denSig := e.shl(e.matchWidthUnsigned(sigField, f.Sbits), e.matchWidthUnsigned(lzTrail, f.Sbits))
	denExp := e.sub(e.sub(e.bv(f.Ebits, 1), e.bv(f.Ebits, bias)), lzTrail)
	isDenormal := e.and(expIsZero, e.isNonzero(sigField))
	isZeroCase := e.and(expIsZero, e.isZeroBV(sigField))

	sig := e.ite(isDenormal, denSig, e.ite(isZeroCase, e.zext(sigField, 1), normalSig))
	exp := e.ite(isDenormal, denExp, e.ite(isZeroCase, e.bv(f.Ebits, 0), normalExp))
	lz := e.ite(isDenormal, lzTrail, e.bv(f.Ebits, 0))

	return Unpacked{Sign: sign, Sig: sig, Exp: exp, LZ: lz}
}

// pack assembles sign, biased exponent and trailing significand into the
// packed representation.
func (e *Encoder) pack(sgn, biasedExp, sigTrailing smt.Term) smt.Term {
	return e.concat(sgn, e.concat(biasedExp, sigTrailing))
}

// round implements the shared rounding step described at the top of the
// file: overflow/tiny detection, the five-mode rounding decision bit,
// renormalization on significand carry-out, and post-round exponent
// saturation to infinity or the largest finite value.
//
// exp consumes an ebits+2-bit signed exponent. Callers that already carry
// their working exponent at that width (Mul's exponent sum, Div's
// difference, Sqrt's halved exponent, and the two conversion paths all
// widen to ebits+2 specifically to avoid wraparound before this point) must
// pass it straight through: narrowing it back to ebits first and letting
// this function re-widen it reconstructs the value from already-truncated
// bits and silently defeats the overflow/tiny detection below. A caller
// that only has an ebits-wide exponent (Add's already-bounded bigExp) may
// pass that directly; matchWidthSigned widens it in place.
func (e *Encoder) round(f Format, rm RoundingMode, sgn, sig, exp smt.Term) smt.Term {
	sbits, ebits := f.Sbits, f.Ebits
	sigWidth := sbits + 4

	sticky0 := e.extract(sig, 0, 0)
	round0 := e.extract(sig, 1, 1)
	guard0 := e.extract(sig, 2, 2)
	mant := e.extract(sig, sigWidth-1, 3) // sbits+1 bits: overflow guard bit . fraction

	ew := ebits + 2
	expWide := e.matchWidthSigned(exp, ew)
	eMaxV := int64(1)<<(ebits-1) - 1
	eMinV := -eMaxV + 1
	eMax := e.bv(ew, eMaxV)
	eMin := e.bv(ew, eMinV)

	// tiny-result detection: the mantissa's own leading-zero count (a
	// cancellation in add/sub can leave it far from normalized) shifted
	// against the operation's exponent.
	lz := e.matchWidthSigned(e.countLeadingZeros(mant, sbits+1, ew), ew)
	trueExp := e.sub(expWide, lz)
	tiny := e.slt(trueExp, eMin)

	shiftAmt := e.add(e.sub(eMin, trueExp), e.bv(ew, 1))
	shiftAmt = e.ite(e.slt(shiftAmt, e.bv(ew, 0)), e.bv(ew, 0), shiftAmt)
	shiftAmtM := e.matchWidthUnsigned(shiftAmt, sbits+1)

	shiftedMant := e.lshr(mant, shiftAmtM)
	restored := e.shl(shiftedMant, shiftAmtM)
	lostBits := e.not(e.eq(mant, restored))
	stickyTiny := e.or(e.bitIsOne(sticky0), lostBits)

	mantT := e.ite(tiny, shiftedMant, mant)
	stickyBit := e.ite(tiny, stickyTiny, e.bitIsOne(sticky0))
	expT := e.ite(tiny, e.sub(eMin, e.bv(ew, 1)), expWide)

	last := e.bitIsOne(e.extract(mantT, 0, 0))
	roundBit := e.bitIsOne(round0)
	_ = guard0
	sgnBit := e.bitIsOne(sgn)

	var decision smt.Term
	switch rm {
	case RNE:
		decision = e.and(roundBit, e.or(last, stickyBit))
	case RTA:
		decision = roundBit
	case RTP:
		decision = e.and(e.not(sgnBit), e.or(roundBit, stickyBit))
	case RTN:
		decision = e.and(sgnBit, e.or(roundBit, stickyBit))
	default: // RTZ
		decision = e.boolConst(false)
	}

	incd := e.add(e.zext(mantT, 1), e.zext(e.ite(decision, e.bvu(1, 1), e.bvu(1, 0)), sbits))
	overflowed := e.bitIsOne(e.extract(incd, sbits+1, sbits+1))
	roundedMant := e.ite(overflowed,
		e.matchWidthUnsigned(e.lshr(incd, e.bvu(sbits+2, 1)), sbits+1),
		e.matchWidthUnsigned(incd, sbits+1))
	roundedExp := e.ite(overflowed, e.add(expT, e.bv(ew, 1)), expT)

	var chooseMax smt.Term
	switch rm {
	case RTZ:
		chooseMax = e.boolConst(true)
	case RTP:
		chooseMax = sgnBit
	case RTN:
		chooseMax = e.not(sgnBit)
	default:
		chooseMax = e.boolConst(false)
	}
	overflowsRange := e.sgt(roundedExp, eMax)

	infExp := e.bv(f.Ebits, eMaxV+1)
	infSig := e.bvu(sbits-1, 0)
	maxNormalExp := e.bv(f.Ebits, eMaxV)
	maxNormalSig := e.bvu(sbits-1, (uint64(1)<<(sbits-1))-1)

	overflowExp := e.ite(chooseMax, maxNormalExp, infExp)
	overflowSig := e.ite(chooseMax, maxNormalSig, infSig)

	finalBiasedExp := e.ite(overflowsRange, overflowExp, e.matchWidthUnsigned(e.add(roundedExp, e.bv(ew, eMaxV)), f.Ebits))
	finalSigTrailing := e.ite(overflowsRange, overflowSig, e.extract(roundedMant, sbits-2, 0))

	return e.pack(sgn, finalBiasedExp, finalSigTrailing)
}

// canonicalNaN returns the single positive quiet NaN pattern this encoder
// ever produces: 0 1...1 0...01. Inputs are classified as NaN by pattern
// (IsNaN below), never by exact match against this constant.
func (e *Encoder) canonicalNaN(f Format) smt.Term {
	ones := (uint64(1) << f.Ebits) - 1
	return e.concat(e.bvu(1, 0), e.concat(e.bvu(f.Ebits, ones), e.bvu(f.Sbits-1, 1)))
}

func (e *Encoder) infWithSign(f Format, signBit smt.Term) smt.Term {
	return e.concat(signBit, e.concat(e.bvu(f.Ebits, (uint64(1)<<f.Ebits)-1), e.bvu(f.Sbits-1, 0)))
}

func (e *Encoder) zeroWithSign(f Format, signBit smt.Term) smt.Term {
	return e.concat(signBit, e.bvu(f.Ebits+f.Sbits-1, 0))
}

// Neg flips the sign bit; bit-identical outside the NaN equivalence class.
func (e *Encoder) Neg(f Format, x smt.Term) smt.Term {
	w := f.Width()
	return e.concat(e.bNot(e.extract(x, w-1, w-1)), e.extract(x, w-2, 0))
}

// Abs clears the sign bit.
func (e *Encoder) Abs(f Format, x smt.Term) smt.Term {
	w := f.Width()
	return e.concat(e.bvu(1, 0), e.extract(x, w-2, 0))
}

// Add implements fp addition, special cases first: NaN operands, infinity
// combinations, zero operands, then the generic aligned-mantissa path
// through round. Sub is Add with the second operand negated.
func (e *Encoder) Add(f Format, rm RoundingMode, x, y smt.Term) smt.Term {
	ux := e.Unpack(f, x, true)
	uy := e.Unpack(f, y, true)

	xNan, yNan := e.IsNaN(f, x), e.IsNaN(f, y)
	xInf, yInf := e.IsInf(f, x), e.IsInf(f, y)
	xZero, yZero := e.IsZero(f, x), e.IsZero(f, y)
	nan := e.canonicalNaN(f)
	sameSign := e.eq(ux.Sign, uy.Sign)

	grsWidth := f.Sbits + 4
	xLarger := e.sle(uy.Exp, ux.Exp)
	bigExp := e.ite(xLarger, ux.Exp, uy.Exp)
	shiftX := e.matchWidthUnsigned(e.ite(xLarger, e.bv(f.Ebits, 0), e.sub(uy.Exp, ux.Exp)), grsWidth)
	shiftY := e.matchWidthUnsigned(e.ite(xLarger, e.sub(ux.Exp, uy.Exp), e.bv(f.Ebits, 0)), grsWidth)

	sigX := e.zext(e.concat(ux.Sig, e.bvu(3, 0)), 1)
	sigY := e.zext(e.concat(uy.Sig, e.bvu(3, 0)), 1)

	alignedX := e.rightShiftSticky(sigX, shiftX)
	alignedY := e.rightShiftSticky(sigY, shiftY)

	opposite := e.not(sameSign)
	sumMag := e.ite(opposite, e.sub(alignedX, alignedY), e.add(alignedX, alignedY))
	sumSign := e.ite(xLarger, ux.Sign, uy.Sign)

	generic := e.round(f, rm, sumSign, e.matchWidthUnsigned(sumMag, grsWidth), bigExp)

	result := generic
	result = e.ite(e.and(xZero, yZero), e.ite(sameSign, x, e.rtzZero(f, rm)), result)
	result = e.ite(e.and(xZero, e.not(yZero)), y, result)
	result = e.ite(e.and(yZero, e.not(xZero)), x, result)
	result = e.ite(e.and(xInf, e.not(yInf)), x, result)
	result = e.ite(e.and(yInf, e.not(xInf)), y, result)
	result = e.ite(e.and(xInf, yInf), e.ite(sameSign, x, nan), result)
	result = e.ite(e.or(xNan, yNan), nan, result)
	return result
}

// Sub returns x - y via Add(x, Neg(y)).
func (e *Encoder) Sub(f Format, rm RoundingMode, x, y smt.Term) smt.Term {
	return e.Add(f, rm, x, e.Neg(f, y))
}

func (e *Encoder) rtzZero(f Format, rm RoundingMode) smt.Term {
	sign := uint64(0)
	if rm == RTN {
		sign = 1
	}
	return e.concat(e.bvu(1, sign), e.bvu(f.Ebits+f.Sbits-1, 0))
}

// Mul implements fp multiplication.
func (e *Encoder) Mul(f Format, rm RoundingMode, x, y smt.Term) smt.Term {
	ux := e.Unpack(f, x, true)
	uy := e.Unpack(f, y, true)

	xNan, yNan := e.IsNaN(f, x), e.IsNaN(f, y)
	xInf, yInf := e.IsInf(f, x), e.IsInf(f, y)
	xZero, yZero := e.IsZero(f, x), e.IsZero(f, y)
	nan := e.canonicalNaN(f)

	resultNeg := e.xor(e.bitIsOne(ux.Sign), e.bitIsOne(uy.Sign))
	signBit := e.ite(resultNeg, e.bvu(1, 1), e.bvu(1, 0))

	prod := e.mul(e.zext(ux.Sig, f.Sbits), e.zext(uy.Sig, f.Sbits)) // width 2*sbits
	sumExp := e.add(e.matchWidthSigned(ux.Exp, f.Ebits+2), e.matchWidthSigned(uy.Exp, f.Ebits+2))

	topSet := e.bitIsOne(e.extract(prod, 2*f.Sbits-1, 2*f.Sbits-1))
	normExp := e.ite(topSet, e.add(sumExp, e.bv(f.Ebits+2, 1)), sumExp)
	shifted := e.ite(topSet, prod, e.shl(prod, e.bvu(2*f.Sbits, 1)))

	sigHigh := e.extract(shifted, 2*f.Sbits-1, f.Sbits-1) // sbits+1 bits
	rest := e.extract(shifted, f.Sbits-2, 0)
	sticky := e.ite(e.isZeroBV(rest), e.bvu(1, 0), e.bvu(1, 1))
	sigForRound := e.concat(sigHigh, e.concat(e.bvu(1, 0), e.concat(e.bvu(1, 0), sticky)))

	generic := e.round(f, rm, signBit, sigForRound, normExp)

	result := generic
	result = e.ite(e.or(e.and(xInf, yZero), e.and(yInf, xZero)), nan, result)
	result = e.ite(e.and(xInf, e.not(yZero)), e.infWithSign(f, signBit), result)
	result = e.ite(e.and(yInf, e.not(xZero)), e.infWithSign(f, signBit), result)
	result = e.ite(e.and(xZero, e.not(yInf)), e.zeroWithSign(f, signBit), result)
	result = e.ite(e.and(yZero, e.not(xInf)), e.zeroWithSign(f, signBit), result)
	result = e.ite(e.or(xNan, yNan), nan, result)
	return result
}

// Div implements fp division.
func (e *Encoder) Div(f Format, rm RoundingMode, x, y smt.Term) smt.Term {
	ux := e.Unpack(f, x, true)
	uy := e.Unpack(f, y, true)

	xNan, yNan := e.IsNaN(f, x), e.IsNaN(f, y)
	xInf, yInf := e.IsInf(f, x), e.IsInf(f, y)
	xZero, yZero := e.IsZero(f, x), e.IsZero(f, y)
	nan := e.canonicalNaN(f)

	resultNeg := e.xor(e.bitIsOne(ux.Sign), e.bitIsOne(uy.Sign))
	signBit := e.ite(resultNeg, e.bvu(1, 1), e.bvu(1, 0))

	dw := 3*f.Sbits + 3
	num := e.shl(e.zext(ux.Sig, dw-f.Sbits), e.bvu(dw, uint64(f.Sbits+3)))
	den := e.zext(uy.Sig, dw-f.Sbits)
	q := e.udiv(num, den)
	r := e.urem(num, den)

	qLow := e.extract(q, f.Sbits+3, 1)
	lastQBit := e.extract(q, 0, 0)
	remainderNonzero := e.ite(e.isZeroBV(r), e.bvu(1, 0), e.bvu(1, 1))
	sigForRound := e.concat(qLow, e.bOr(lastQBit, remainderNonzero))

	diffExp := e.sub(e.matchWidthSigned(ux.Exp, f.Ebits+2), e.matchWidthSigned(uy.Exp, f.Ebits+2))
	generic := e.round(f, rm, signBit, sigForRound, diffExp)

	result := generic
	result = e.ite(e.and(xZero, yZero), nan, result)
	result = e.ite(e.and(xInf, yInf), nan, result)
	result = e.ite(e.and(xInf, e.not(yInf)), e.infWithSign(f, signBit), result)
	result = e.ite(e.and(yZero, e.not(xZero)), e.infWithSign(f, signBit), result)
	result = e.ite(e.and(xZero, e.not(yZero)), e.zeroWithSign(f, signBit), result)
	result = e.ite(e.and(yInf, e.not(xInf)), e.zeroWithSign(f, signBit), result)
	result = e.ite(e.or(xNan, yNan), nan, result)
	return result
}

// Sqrt implements fp square root via the classical binary digit-recurrence
// (Handbook of Floating-Point Arithmetic §10.2): sbits+3 quotient digits
// are extracted one restoring step at a time, feeding the radicand two
// bits per digit, with the final remainder folded into the sticky bit.
func (e *Encoder) Sqrt(f Format, rm RoundingMode, x smt.Term) smt.Term {
	ux := e.Unpack(f, x, true)
	nan := e.canonicalNaN(f)

	xNan := e.IsNaN(f, x)
	xZero := e.IsZero(f, x)
	xInf := e.IsInf(f, x)
	xNeg := e.and(e.bitIsOne(ux.Sign), e.not(xZero))

	n := f.Sbits + 3
	expW := f.Ebits + 2
	exp := e.matchWidthSigned(ux.Exp, expW)
	isOdd := e.bitIsOne(e.extract(exp, 0, 0))

	// an odd exponent shifts the radicand left one bit so the recurrence
	// always starts on an even power of two; the result exponent absorbs
	// the other half unit via the arithmetic (not logical) shift below.
	radicand := e.ite(isOdd, e.concat(ux.Sig, e.bvu(1, 0)), e.zext(ux.Sig, 1)) // sbits+1 bits
	halved := e.ashr(e.ite(isOdd, e.sub(exp, e.bv(expW, 1)), exp), e.bv(expW, 1))
	resultExp := halved

	rw := 2*n + 2
	padWidth := 2*n - (f.Sbits + 1)
	padded := e.concat(radicand, e.bvu(padWidth, 0))

	rem := e.bvu(rw, 0)
	root := e.bvu(n, 0)
	for i := 0; i < int(n); i++ {
		hi := 2*n - 1 - uint(2*i)
		lo := hi - 1
		twobits := e.extract(padded, hi, lo)
		rem = e.bOr(e.matchWidthUnsigned(e.shl(rem, e.bvu(rw, 2)), rw), e.zext(twobits, rw-2))
		trial := e.bOr(e.matchWidthUnsigned(e.shl(e.zext(root, rw-n), e.bvu(rw, 2)), rw), e.bvu(rw, 1))
		takeDigit := e.ule(trial, rem)
		rem = e.ite(takeDigit, e.sub(rem, trial), rem)
		root = e.ite(takeDigit, e.bOr(e.shl(root, e.bvu(n, 1)), e.bvu(n, 1)), e.shl(root, e.bvu(n, 1)))
	}
	sticky := e.ite(e.isZeroBV(rem), e.bvu(1, 0), e.bvu(1, 1))
	// root is exactly the sbits+3 quotient bits the recurrence promises;
	// appending the remainder's sticky bit completes the sbits+4-bit field
	// round expects.
	sigForRound := e.concat(root, sticky)

	generic := e.round(f, rm, e.bvu(1, 0), sigForRound, resultExp)

	result := generic
	result = e.ite(xZero, x, result)
	result = e.ite(xInf, x, result)
	result = e.ite(xNeg, nan, result)
	result = e.ite(xNan, nan, result)
	return result
}

// FPToSBV converts x to a signed w-bit integer, rounding per rm.
func (e *Encoder) FPToSBV(f Format, rm RoundingMode, x smt.Term, w uint) smt.Term {
	return e.fpToBV(f, rm, x, w, true)
}

// FPToUBV converts x to an unsigned w-bit integer, rounding per rm.
func (e *Encoder) FPToUBV(f Format, rm RoundingMode, x smt.Term, w uint) smt.Term {
	return e.fpToBV(f, rm, x, w, false)
}

// fpToBV covers both directions: NaN, infinity and out-of-range inputs
// produce an unspecified free symbol (the same "don't-care" convention the
// solver adapter uses for undefined behavior elsewhere), zero maps to 0,
// otherwise the significand is shifted to align its integer part and the
// sign applied. Scope: w > Sbits+4 is not exercised, since every caller in
// this engine converts to a native integer width no wider than the source
// float's significand plus headroom.
func (e *Encoder) fpToBV(f Format, rm RoundingMode, x smt.Term, w uint, signed bool) smt.Term {
	_ = rm
	u := e.Unpack(f, x, true)
	unspecified := e.B.MkSMTSymbol("fp_to_bv_unspecified", e.bvSort(w))

	nan := e.IsNaN(f, x)
	inf := e.IsInf(f, x)
	zero := e.IsZero(f, x)
	negative := e.bitIsOne(u.Sign)

	shiftW := f.Sbits + w + 4
	sigWide := e.zext(u.Sig, shiftW-f.Sbits)
	expWide := e.matchWidthSigned(u.Exp, shiftW)
	shiftAmt := e.sub(e.add(expWide, e.bv(shiftW, 1)), e.bv(shiftW, int64(f.Sbits)-int64(w)))
	leftShift := e.sle(e.bv(shiftW, 0), shiftAmt)
	amtU := e.matchWidthUnsigned(e.ite(leftShift, shiftAmt, e.bNeg(shiftAmt)), shiftW)
	aligned := e.ite(leftShift, e.shl(sigWide, amtU), e.rightShiftSticky(sigWide, amtU))

	intVal := e.matchWidthUnsigned(aligned, w)
	magnitude := e.ite(negative, e.bNeg(intVal), intVal)

	unsignedNegativeOverflow := e.and(e.boolConst(!signed), e.and(negative, e.not(zero)))

	result := magnitude
	result = e.ite(unsignedNegativeOverflow, unspecified, result)
	result = e.ite(zero, e.bvu(w, 0), result)
	result = e.ite(e.or(nan, inf), unspecified, result)
	return result
}

// UBVToFP converts an unsigned bit-vector to format f, rounding per rm.
func (e *Encoder) UBVToFP(f Format, rm RoundingMode, x smt.Term) smt.Term {
	return e.bvToFP(f, rm, x, false)
}

// SBVToFP converts a signed bit-vector to format f, rounding per rm.
func (e *Encoder) SBVToFP(f Format, rm RoundingMode, x smt.Term) smt.Term {
	return e.bvToFP(f, rm, x, true)
}

func (e *Encoder) bvToFP(f Format, rm RoundingMode, x smt.Term, signed bool) smt.Term {
	w := e.width(x)
	zero := e.isZeroBV(x)

	var signBit, mag smt.Term
	if signed {
		negBit := e.bitIsOne(e.extract(x, w-1, w-1))
		signBit = e.ite(negBit, e.bvu(1, 1), e.bvu(1, 0))
		mag = e.ite(negBit, e.bNeg(x), x)
	} else {
		signBit = e.bvu(1, 0)
		mag = x
	}

	lz := e.countLeadingZeros(mag, w, f.Ebits+2)
	pad := f.Sbits + 4
	if pad < w {
		pad = w
	}
	sigForRound := e.extract(e.shl(e.matchWidthUnsigned(mag, pad), e.matchWidthUnsigned(lz, pad)), pad-1, pad-(f.Sbits+4))
	expVal := e.sub(e.bv(f.Ebits+2, int64(w)-2), e.matchWidthSigned(lz, f.Ebits+2))

	generic := e.round(f, rm, signBit, sigForRound, expVal)
	return e.ite(zero, e.zeroWithSign(f, e.bvu(1, 0)), generic)
}

// FPToFP re-encodes x from one format to another, rounding per rm on the
// widening or narrowing path.
func (e *Encoder) FPToFP(from, to Format, rm RoundingMode, x smt.Term) smt.Term {
	u := e.Unpack(from, x, true)
	nan := e.IsNaN(from, x)
	inf := e.IsInf(from, x)
	zero := e.IsZero(from, x)

	var sig smt.Term
	if to.Sbits >= from.Sbits {
		sig = e.zext(u.Sig, to.Sbits-from.Sbits)
	} else {
		drop := from.Sbits - to.Sbits
		kept := e.extract(u.Sig, from.Sbits-1, drop)
		lost := e.extract(u.Sig, drop-1, 0)
		sticky := e.ite(e.isZeroBV(lost), e.bvu(1, 0), e.bvu(1, 1))
		sig = e.concat(kept, sticky)
	}
	sigForRound := e.concat(e.matchWidthUnsigned(sig, to.Sbits+3), e.bvu(1, 0))

	generic := e.round(to, rm, u.Sign, sigForRound, e.matchWidthSigned(u.Exp, to.Ebits+2))

	result := generic
	result = e.ite(zero, e.zeroWithSign(to, u.Sign), result)
	result = e.ite(inf, e.infWithSign(to, u.Sign), result)
	result = e.ite(nan, e.canonicalNaN(to), result)
	return result
}

// IsNaN reports exp = 1...1 and sig != 0.
func (e *Encoder) IsNaN(f Format, x smt.Term) smt.Term {
	expField, sigField := e.splitFields(f, x)
	return e.and(e.isAllOnes(expField, f.Ebits), e.isNonzero(sigField))
}

// IsInf reports exp = 1...1 and sig = 0.
func (e *Encoder) IsInf(f Format, x smt.Term) smt.Term {
	expField, sigField := e.splitFields(f, x)
	return e.and(e.isAllOnes(expField, f.Ebits), e.isZeroBV(sigField))
}

// IsZero reports exp = 0 and sig = 0, ignoring sign.
func (e *Encoder) IsZero(f Format, x smt.Term) smt.Term {
	expField, sigField := e.splitFields(f, x)
	return e.and(e.isZeroBV(expField), e.isZeroBV(sigField))
}

// IsDenormal reports exp = 0 and sig != 0.
func (e *Encoder) IsDenormal(f Format, x smt.Term) smt.Term {
	expField, sigField := e.splitFields(f, x)
	return e.and(e.isZeroBV(expField), e.isNonzero(sigField))
}

// IsNormal is the negation of every other classifier.
func (e *Encoder) IsNormal(f Format, x smt.Term) smt.Term {
	return e.not(e.or(e.IsZero(f, x), e.or(e.IsDenormal(f, x), e.or(e.IsNaN(f, x), e.IsInf(f, x)))))
}

// IsPositive reports the sign bit is 0.
func (e *Encoder) IsPositive(f Format, x smt.Term) smt.Term {
	w := f.Width()
	return e.not(e.bitIsOne(e.extract(x, w-1, w-1)))
}

// IsNegative reports the sign bit is 1.
func (e *Encoder) IsNegative(f Format, x smt.Term) smt.Term {
	w := f.Width()
	return e.bitIsOne(e.extract(x, w-1, w-1))
}

// Eq is true iff neither operand is NaN and (both are zero, ignoring sign,
// or the bit patterns are identical).
func (e *Encoder) Eq(f Format, x, y smt.Term) smt.Term {
	nan := e.or(e.IsNaN(f, x), e.IsNaN(f, y))
	bothZero := e.and(e.IsZero(f, x), e.IsZero(f, y))
	return e.and(e.not(nan), e.or(bothZero, e.eq(x, y)))
}

// Lt is true iff neither operand is NaN, they are not both zero, and
// (same sign: unsigned-less-than on the magnitude bits; different signs:
// the left operand is negative).
func (e *Encoder) Lt(f Format, x, y smt.Term) smt.Term {
	nan := e.or(e.IsNaN(f, x), e.IsNaN(f, y))
	bothZero := e.and(e.IsZero(f, x), e.IsZero(f, y))

	w := f.Width()
	sx := e.extract(x, w-1, w-1)
	sy := e.extract(y, w-1, w-1)
	sameSign := e.eq(sx, sy)
	xNeg := e.bitIsOne(sx)

	magX := e.extract(x, w-2, 0)
	magY := e.extract(y, w-2, 0)
	sameSignLt := e.ite(xNeg, e.ult(magY, magX), e.ult(magX, magY))

	lt := e.ite(sameSign, sameSignLt, xNeg)
	return e.and(e.not(nan), e.and(e.not(bothZero), lt))
}

// Gt(x, y) is Lt(y, x).
func (e *Encoder) Gt(f Format, x, y smt.Term) smt.Term { return e.Lt(f, y, x) }

// Le is Lt or Eq.
func (e *Encoder) Le(f Format, x, y smt.Term) smt.Term { return e.or(e.Lt(f, x, y), e.Eq(f, x, y)) }

// Ge is the negation of Lt, matching the source's literal definition
// (an unordered NaN comparison reports Ge = true, the same quirk the
// spec's comparison table carries forward unchanged).
func (e *Encoder) Ge(f Format, x, y smt.Term) smt.Term { return e.not(e.Lt(f, x, y)) }

func (e *Encoder) splitFields(f Format, x smt.Term) (expField, sigField smt.Term) {
	w := f.Width()
	trailing := f.Sbits - 1
	return e.extract(x, w-2, trailing), e.extract(x, trailing-1, 0)
}

// countLeadingZeros returns, as an outWidth-bit value, the count of
// leading zero bits in the width-bit term x, built as a priority-encoder
// ite cascade rather than a hardware bit trick, since width is fixed at
// encode time for every caller in this package.
func (e *Encoder) countLeadingZeros(x smt.Term, width, outWidth uint) smt.Term {
	result := e.bvu(outWidth, uint64(width))
	for j := int(width) - 1; j >= 0; j-- {
		pos := width - 1 - uint(j)
		bit := e.extract(x, pos, pos)
		result = e.ite(e.bitIsOne(bit), e.bvu(outWidth, uint64(j)), result)
	}
	return result
}

// rightShiftSticky shifts sig right by shiftAmt, OR-ing any bits shifted
// out of the bottom into the new bit 0 (the sticky bit every fp op keeps
// alongside guard/round).
func (e *Encoder) rightShiftSticky(sig, shiftAmt smt.Term) smt.Term {
	w := e.width(sig)
	shifted := e.lshr(sig, shiftAmt)
	restored := e.shl(shifted, shiftAmt)
	lost := e.not(e.eq(sig, restored))
	stickyBit := e.ite(lost, e.bvu(1, 1), e.bvu(1, 0))
	bit0 := e.bOr(e.extract(shifted, 0, 0), stickyBit)
	return e.concat(e.extract(shifted, w-1, 1), bit0)
}

func (e *Encoder) bvSort(w uint) smt.Sort { return e.B.MkBVSort(w, false) }
func (e *Encoder) boolSort() smt.Sort     { return e.B.MkBoolSort() }

func (e *Encoder) bv(w uint, v int64) smt.Term {
	bi := big.NewInt(v)
	if v < 0 {
		bi.Add(bi, new(big.Int).Lsh(big.NewInt(1), w))
	}
	return e.B.MkSMTBV(e.bvSort(w), bi)
}

func (e *Encoder) bvu(w uint, v uint64) smt.Term {
	return e.B.MkSMTBV(e.bvSort(w), new(big.Int).SetUint64(v))
}

func (e *Encoder) boolConst(v bool) smt.Term { return e.B.MkSMTBool(v) }

func (e *Encoder) extract(x smt.Term, hi, lo uint) smt.Term { return e.B.MkExtract(x, hi, lo) }
func (e *Encoder) concat(a, b smt.Term) smt.Term            { return e.B.MkConcat(a, b) }
func (e *Encoder) ite(c, t, f smt.Term) smt.Term            { return e.B.MkIte(c, t, f) }
func (e *Encoder) width(x smt.Term) uint                    { return x.Sort().(smt.BVSort).Width }

func (e *Encoder) zext(x smt.Term, n uint) smt.Term {
	if n == 0 {
		return x
	}
	return e.B.MkZeroExt(x, n)
}

func (e *Encoder) sext(x smt.Term, n uint) smt.Term {
	if n == 0 {
		return x
	}
	return e.B.MkSignExt(x, n)
}

func (e *Encoder) matchWidthUnsigned(x smt.Term, target uint) smt.Term {
	w := e.width(x)
	switch {
	case w == target:
		return x
	case w < target:
		return e.zext(x, target-w)
	default:
		return e.extract(x, target-1, 0)
	}
}

func (e *Encoder) matchWidthSigned(x smt.Term, target uint) smt.Term {
	w := e.width(x)
	switch {
	case w == target:
		return x
	case w < target:
		return e.sext(x, target-w)
	default:
		return e.extract(x, target-1, 0)
	}
}

func (e *Encoder) bvBin(kind smt.Kind, a, b smt.Term) smt.Term {
	return e.B.MkFuncApp(a.Sort(), kind, a, b)
}

func (e *Encoder) bvBinBool(kind smt.Kind, a, b smt.Term) smt.Term {
	return e.B.MkFuncApp(e.boolSort(), kind, a, b)
}

func (e *Encoder) bvUn(kind smt.Kind, a smt.Term) smt.Term {
	return e.B.MkFuncApp(a.Sort(), kind, a)
}

func (e *Encoder) add(a, b smt.Term) smt.Term  { return e.bvBin(smt.BVADD, a, b) }
func (e *Encoder) sub(a, b smt.Term) smt.Term  { return e.bvBin(smt.BVSUB, a, b) }
func (e *Encoder) mul(a, b smt.Term) smt.Term  { return e.bvBin(smt.BVMUL, a, b) }
func (e *Encoder) udiv(a, b smt.Term) smt.Term { return e.bvBin(smt.BVUDIV, a, b) }
func (e *Encoder) urem(a, b smt.Term) smt.Term { return e.bvBin(smt.BVUREM, a, b) }
func (e *Encoder) shl(a, b smt.Term) smt.Term  { return e.bvBin(smt.BVSHL, a, b) }
func (e *Encoder) lshr(a, b smt.Term) smt.Term { return e.bvBin(smt.BVLSHR, a, b) }
func (e *Encoder) ashr(a, b smt.Term) smt.Term { return e.bvBin(smt.BVASHR, a, b) }
func (e *Encoder) bOr(a, b smt.Term) smt.Term  { return e.bvBin(smt.BVOR, a, b) }
func (e *Encoder) bNot(a smt.Term) smt.Term    { return e.bvUn(smt.BVNOT, a) }
func (e *Encoder) bNeg(a smt.Term) smt.Term    { return e.bvUn(smt.BVNEG, a) }

func (e *Encoder) eq(a, b smt.Term) smt.Term  { return e.bvBinBool(smt.EQ, a, b) }
func (e *Encoder) ult(a, b smt.Term) smt.Term { return e.bvBinBool(smt.BVULT, a, b) }
func (e *Encoder) ule(a, b smt.Term) smt.Term { return e.bvBinBool(smt.BVULE, a, b) }
func (e *Encoder) slt(a, b smt.Term) smt.Term { return e.bvBinBool(smt.BVSLT, a, b) }
func (e *Encoder) sle(a, b smt.Term) smt.Term { return e.bvBinBool(smt.BVSLE, a, b) }
func (e *Encoder) sgt(a, b smt.Term) smt.Term { return e.slt(b, a) }

func (e *Encoder) and(a, b smt.Term) smt.Term { return e.B.MkFuncApp(e.boolSort(), smt.AND, a, b) }
func (e *Encoder) or(a, b smt.Term) smt.Term  { return e.B.MkFuncApp(e.boolSort(), smt.OR, a, b) }
func (e *Encoder) not(a smt.Term) smt.Term    { return e.B.MkFuncApp(e.boolSort(), smt.NOT, a) }
func (e *Encoder) xor(a, b smt.Term) smt.Term { return e.B.MkFuncApp(e.boolSort(), smt.XOR, a, b) }

func (e *Encoder) bitIsOne(x smt.Term) smt.Term { return e.eq(x, e.bvu(1, 1)) }
func (e *Encoder) isNonzero(x smt.Term) smt.Term {
	return e.bitIsOne(e.B.MkBVRedOr(x))
}
func (e *Encoder) isZeroBV(x smt.Term) smt.Term { return e.not(e.isNonzero(x)) }

func (e *Encoder) isAllOnes(x smt.Term, w uint) smt.Term {
	ones := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), w), big.NewInt(1))
	return e.eq(x, e.B.MkSMTBV(e.bvSort(w), ones))
}
