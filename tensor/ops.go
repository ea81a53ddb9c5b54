package tensor

import (
	"fmt"
)

// Add returns the elementwise sum a + b.
func Add(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := a.Clone()
	for i, v := range b.Data {
		out.Data[i] += v
	}
	return out, nil
}

// Sub returns the elementwise difference a - b.
func Sub(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := a.Clone()
	for i, v := range b.Data {
		out.Data[i] -= v
	}
	return out, nil
}

// Mul returns the elementwise product a * b.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := a.Clone()
	for i, v := range b.Data {
		out.Data[i] *= v
	}
	return out, nil
}

// Scale returns a new tensor with every element multiplied by s.
func Scale(a *Tensor, s float32) *Tensor {
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] *= s
	}
	return out
}

// ScaleInPlace multiplies every element by s without allocating.
func ScaleInPlace(a *Tensor, s float32) {
	for i := range a.Data {
		a.Data[i] *= s
	}
}

// AddScaledInPlace computes dst += alpha * src in place.
func AddScaledInPlace(dst, src *Tensor, alpha float32) error {
	if !dst.SameShape(src) {
		return fmt.Errorf("shape mismatch: %v vs %v", dst.Shape, src.Shape)
	}
	for i, v := range src.Data {
		dst.Data[i] += alpha * v
	}
	return nil
}

// MatMul computes the matrix product of two 2D tensors
// [m, k] x [k, n] -> [m, n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}
	m, k := a.Shape[0], a.Shape[1]
	k2, n := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimension mismatch: %v x %v", a.Shape, b.Shape)
	}

	out, err := Zeros([]int{m, n})
	if err != nil {
		return nil, err
	}
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a.Data[i*k+p]
			if av == 0 {
				continue
			}
			row := b.Data[p*n : (p+1)*n]
			outRow := out.Data[i*n : (i+1)*n]
			for j, bv := range row {
				outRow[j] += av * bv
			}
		}
	}
	return out, nil
}

// Transpose returns the transpose of a 2D tensor.
func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got %v", a.Shape)
	}
	m, n := a.Shape[0], a.Shape[1]
	out, err := Zeros([]int{n, m})
	if err != nil {
		return nil, err
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.Data[j*m+i] = a.Data[i*n+j]
		}
	}
	return out, nil
}

// ArgMaxRow returns the index of the largest value in row i of a 2D tensor.
func ArgMaxRow(a *Tensor, i int) (int, error) {
	if len(a.Shape) != 2 {
		return 0, fmt.Errorf("argmax requires a 2D tensor, got %v", a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	if i < 0 || i >= rows {
		return 0, fmt.Errorf("row %d out of range [0, %d)", i, rows)
	}
	row := a.Data[i*cols : (i+1)*cols]
	maxIdx := 0
	maxVal := row[0]
	for j := 1; j < cols; j++ {
		if row[j] > maxVal {
			maxVal = row[j]
			maxIdx = j
		}
	}
	return maxIdx, nil
}
