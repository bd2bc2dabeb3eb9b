package torch

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

var (
	GELUSCALEFACTOR = Sqrt(2.0 / math.Pi)
)

// LayerNormEps is added to the variance under the square root in LayernormForward.
const LayerNormEps float32 = 1e-5

// Tanh returns the hyperbolic tangent of x aka the tanh function of x.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Exp returns e**x aka the exponential function of x.
func Exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

// Inf returns positive infinity if sign >= 0, negative infinity if sign < 0.
func Inf(sign int) float32 {
	return float32(math.Inf(sign))
}

// Log returns the natural logarithm of x aka the logarithm function of x.
func Log(x float32) float32 {
	return float32(math.Log(float64(x)))
}

// IsNaN returns true if f is not a number.
func IsNaN(f float32) bool {
	return math.IsNaN(float64(f))
}

// IsInf returns true if f is positive or negative infinity.
func IsInf(f float32) bool {
	return math.IsInf(float64(f), 0)
}

// Sqrt returns the square root of x aka the square root function of x.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// AllFinite reports whether no element of data is NaN or infinite.
func AllFinite(data []float32) bool {
	for _, v := range data {
		if IsNaN(v) || IsInf(v) {
			return false
		}
	}
	return true
}

// EncoderForward iterates through the batch/sequence and combines the word token embeddings
// with the word position embeddings. This allows out vector to encode tokens and positions in one.
//
// Position t of every sequence always reads row t of wpe, so the positions are 0..T-1
// no matter where the window came from.
func EncoderForward(out []float32, inp []int32, wte []float32, wpe []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			outBT := out[b*T*C+t*C : b*T*C+t*C+C]
			// inp -> id -> wte[id]
			tok := wte[int(inp[b*T+t])*C:]
			pos := wpe[t*C:]
			for i := range outBT {
				outBT[i] = tok[i] + pos[i]
			}
		}
	}
}

// LayernormForward normalizes each of the N vectors of length C in inp.
//
// For each vector the mean and the biased (divide by C) variance are computed, then
//
//	out = weight * (x - mean) / sqrt(var + eps) + bias
//
// Reference: https://pytorch.org/docs/stable/generated/torch.nn.LayerNorm.html
// Paper: https://arxiv.org/abs/1607.06450
// Parameters:
//   - out: output activations (N,C)
//   - mean: mean values (N), may be nil
//   - rstd: reciprocal standard deviations (N), may be nil
//   - inp: input activations (N,C)
//   - weight: learnable weight (C) for scaling
//   - bias: learnable bias (C) for shifting
func LayernormForward(out, mean, rstd, inp, weight, bias []float32, N, C int) {
	for n := 0; n < N; n++ {
		x := inp[n*C : n*C+C]
		var m float32
		for _, v := range x {
			m += v
		}
		m /= float32(C)
		var v float32
		for _, xi := range x {
			xshift := xi - m
			v += xshift * xshift
		}
		v /= float32(C)
		s := 1.0 / Sqrt(v+LayerNormEps)
		outN := out[n*C : n*C+C]
		for i := range outN {
			outN[i] = s*(x[i]-m)*weight[i] + bias[i]
		}
		if mean != nil {
			mean[n] = m
		}
		if rstd != nil {
			rstd[n] = s
		}
	}
}

// MatmulForward computes out = inp @ weightᵀ + bias.
//
// Parameters:
//   - out: output matrix (N,OC)
//   - inp: input matrix (N,C)
//   - weight: weight matrix (OC,C), one row per output channel
//   - bias: bias vector (OC), may be nil
func MatmulForward(out, inp, weight, bias []float32, N, C, OC int) {
	var beta float32
	if bias != nil {
		for n := 0; n < N; n++ {
			copy(out[n*OC:n*OC+OC], bias[:OC])
		}
		beta = 1
	}
	blas32.Gemm(
		blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: N, Cols: C, Stride: C, Data: inp[:N*C]},
		blas32.General{Rows: OC, Cols: C, Stride: C, Data: weight[:OC*C]},
		beta,
		blas32.General{Rows: N, Cols: OC, Stride: OC, Data: out[:N*OC]},
	)
}

// BatchedMatmul computes batch independent products out[i] = alpha * a[i] @ b[i],
// with a[i] of shape (M,K). When transB is set b[i] is (N,K) and is used transposed,
// otherwise it is (K,N). out[i] is (M,N).
func BatchedMatmul(out, a, b []float32, batch, M, K, N int, transB bool, alpha float32) {
	tB := blas.NoTrans
	bRows, bCols := K, N
	if transB {
		tB = blas.Trans
		bRows, bCols = N, K
	}
	for i := 0; i < batch; i++ {
		blas32.Gemm(
			blas.NoTrans, tB, alpha,
			blas32.General{Rows: M, Cols: K, Stride: K, Data: a[i*M*K : (i+1)*M*K]},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b[i*K*N : (i+1)*K*N]},
			0,
			blas32.General{Rows: M, Cols: N, Stride: N, Data: out[i*M*N : (i+1)*M*N]},
		)
	}
}

// GeluForward is the Gaussian Error Linear Units activation function,
// in the tanh approximation used by GPT-2:
//
//	0.5 * x * (1 + tanh(sqrt(2/π) * (x + 0.044715 * x³)))
//
// Paper: https://arxiv.org/abs/1606.08415
func GeluForward(out, inp []float32, n int) {
	for i := 0; i < n; i++ {
		x := inp[i]
		cube := 0.044715 * x * x * x
		out[i] = 0.5 * x * (1.0 + Tanh(GELUSCALEFACTOR*(x+cube)))
	}
}

// ResidualForward performs a residual connection between two inputs.
//
// out = inp1 + inp2
func ResidualForward(out, inp1, inp2 []float32, N int) {
	for i := 0; i < N; i++ {
		out[i] = inp1[i] + inp2[i]
	}
}

// SoftmaxForward calculates the softmax of each of the N rows of length V.
//
// Entries equal to -Inf get probability exactly 0. A row whose entries are all
// -Inf is written as zeros.
func SoftmaxForward(probs, logits []float32, N, V int) {
	for n := 0; n < N; n++ {
		logitsN := logits[n*V : n*V+V]
		probsN := probs[n*V : n*V+V]
		// Numerical Stability
		maxval := Inf(-1)
		for _, l := range logitsN {
			if l > maxval {
				maxval = l
			}
		}
		if IsInf(maxval) && maxval < 0 {
			for i := range probsN {
				probsN[i] = 0
			}
			continue
		}
		var sum float32
		for i, l := range logitsN {
			probsN[i] = Exp(l - maxval)
			sum += probsN[i]
		}
		for i := range probsN {
			probsN[i] /= sum
		}
	}
}

// CausalMask returns an (n,n) tensor holding 1 where column j is visible from
// row i (j <= i) and 0 for strictly future positions.
func CausalMask(n int) *Tensor {
	mask := New(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			mask.Data[i*n+j] = 1
		}
	}
	return mask
}

// MaskedFill writes value into every (T,T) score matrix of scores wherever the
// top-left (T,T) corner of mask is 0. scores holds consecutive (T,T) matrices.
func MaskedFill(scores []float32, mask *Tensor, T int, value float32) {
	side := mask.Shape[1]
	for base := 0; base < len(scores); base += T * T {
		for i := 0; i < T; i++ {
			row := scores[base+i*T : base+i*T+T]
			maskRow := mask.Data[i*side : i*side+T]
			for j, visible := range maskRow {
				if visible == 0 {
					row[j] = value
				}
			}
		}
	}
}

// DropoutForward zeroes each element of inp with probability p and scales the
// survivors by 1/(1-p), so the expected value is unchanged.
func DropoutForward(out, inp []float32, p float32, r *rand.Rand) {
	if p <= 0 {
		copy(out, inp)
		return
	}
	scale := 1 / (1 - p)
	for i, v := range inp {
		if r.Float32() < p {
			out[i] = 0
		} else {
			out[i] = v * scale
		}
	}
}

// CrossEntropyForward calculates the cross entropy loss from raw logits.
//
// The target log-probability is taken from a log-softmax,
// logit - max - log(sum(exp(l - max))), so unlikely targets stay finite.
//
// Parameters:
//   - losses: output matrix (B,T)
//   - logits: input matrix (B,T,V)
//   - targets: target matrix (B,T)
//   - B: batch size
//   - T: sequence length (number of time steps)
//   - V: vocabulary size
func CrossEntropyForward(losses []float32, logits []float32, targets []int32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			logitsBT := logits[b*T*V+t*V : b*T*V+t*V+V]
			maxval := math.Inf(-1)
			for _, l := range logitsBT {
				maxval = math.Max(maxval, float64(l))
			}
			var sum float64
			for _, l := range logitsBT {
				sum += math.Exp(float64(l) - maxval)
			}
			target := float64(logitsBT[targets[b*T+t]])
			losses[b*T+t] = float32(maxval + math.Log(sum) - target)
		}
	}
}

// Argmax returns the index of the largest value, preferring the lowest index on ties.
func Argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
