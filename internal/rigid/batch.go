package rigid

import "fmt"

// Batch is a (batch, view) array of transforms stored batch-major in Data,
// so the transform for batch b and view v is Data[b*Views+v].
type Batch struct {
	Batches int
	Views   int
	Data    []Transform
}

// NewBatch wraps data as a (batches, views) array. It returns an error if
// the data length does not match the requested shape.
func NewBatch(batches, views int, data []Transform) (Batch, error) {
	if batches < 0 || views < 0 {
		return Batch{}, fmt.Errorf("invalid batch shape (%d, %d)", batches, views)
	}
	if len(data) != batches*views {
		return Batch{}, fmt.Errorf("batch shape (%d, %d) needs %d transforms, got %d",
			batches, views, batches*views, len(data))
	}
	return Batch{Batches: batches, Views: views, Data: data}, nil
}

// Len returns the number of transforms, Batches×Views.
func (b Batch) Len() int { return len(b.Data) }

// At returns the transform for batch i, view j.
func (b Batch) At(i, j int) Transform { return b.Data[i*b.Views+j] }

// Flatten returns the transforms as a single list of length Batches×Views.
// The returned slice is a copy.
func (b Batch) Flatten() []Transform {
	out := make([]Transform, len(b.Data))
	copy(out, b.Data)
	return out
}

// ViewSlice returns a batch restricted to the first n views of every batch
// entry.
func (b Batch) ViewSlice(n int) Batch {
	if n > b.Views {
		n = b.Views
	}
	out := Batch{Batches: b.Batches, Views: n, Data: make([]Transform, 0, b.Batches*n)}
	for i := 0; i < b.Batches; i++ {
		out.Data = append(out.Data, b.Data[i*b.Views:i*b.Views+n]...)
	}
	return out
}

// HomogeneousBatch is the 4×4 counterpart of Batch.
type HomogeneousBatch struct {
	Batches int
	Views   int
	Data    []Homogeneous
}

// At returns the 4×4 transform for batch i, view j.
func (h HomogeneousBatch) At(i, j int) Homogeneous { return h.Data[i*h.Views+j] }

// Len returns the number of transforms.
func (h HomogeneousBatch) Len() int { return len(h.Data) }

// Reshape lays a flat transform list back out as (batches, views) in
// homogeneous form.
func Reshape(batches, views int, flat []Transform) (HomogeneousBatch, error) {
	if len(flat) != batches*views {
		return HomogeneousBatch{}, fmt.Errorf("cannot reshape %d transforms to (%d, %d)", len(flat), batches, views)
	}
	out := HomogeneousBatch{Batches: batches, Views: views, Data: make([]Homogeneous, len(flat))}
	for i, t := range flat {
		out.Data[i] = t.Homogeneous()
	}
	return out, nil
}

// Truncate converts the homogeneous batch back to 3×4 transforms.
func (h HomogeneousBatch) Truncate() Batch {
	out := Batch{Batches: h.Batches, Views: h.Views, Data: make([]Transform, len(h.Data))}
	for i, m := range h.Data {
		out.Data[i] = FromHomogeneous(m)
	}
	return out
}
