package model

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"
)

// Checkpoint is the JSON-serializable state of a trained model: the
// architecture config plus every learnable tensor, the dropout-rate logits
// included. encoding/json writes float64 values in shortest round-trip form,
// so saving and loading reproduces each p_logit (and hence each rate)
// exactly.
type Checkpoint struct {
	Config   Config             `json:"config"`
	Weights  []WeightTensor     `json:"weights"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one named parameter with its data in row-major order.
type WeightTensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// CheckpointMetadata records when and by what the checkpoint was written.
type CheckpointMetadata struct {
	Framework string    `json:"framework"`
	SavedAt   time.Time `json:"saved_at"`
}

// NewCheckpoint captures the current state of the model. Weights are sorted
// by name so the serialized form is deterministic.
func NewCheckpoint(m *Heteroscedastic) (*Checkpoint, error) {
	if m == nil {
		return nil, fmt.Errorf("cannot checkpoint nil model")
	}

	params := m.Parameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		p := params[name]
		data := make([]float64, 0, p.Data.Rows*p.Data.Cols)
		for i := 0; i < p.Data.Rows; i++ {
			for j := 0; j < p.Data.Cols; j++ {
				data = append(data, p.Data.At(i, j))
			}
		}
		weights = append(weights, WeightTensor{
			Name: name,
			Rows: p.Data.Rows,
			Cols: p.Data.Cols,
			Data: data,
		})
	}

	return &Checkpoint{
		Config:  m.Config,
		Weights: weights,
		Metadata: CheckpointMetadata{
			Framework: "condrop",
			SavedAt:   time.Now().UTC(),
		},
	}, nil
}

// Restore builds a fresh model from the checkpoint's config and overwrites
// every parameter with the stored values.
func (c *Checkpoint) Restore() (*Heteroscedastic, error) {
	m, err := New(c.Config, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, fmt.Errorf("rebuilding model from checkpoint config: %w", err)
	}

	params := m.Parameters()
	for _, w := range c.Weights {
		p, ok := params[w.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint weight %q has no matching parameter", w.Name)
		}
		if p.Data.Rows != w.Rows || p.Data.Cols != w.Cols {
			return nil, fmt.Errorf("checkpoint weight %q is %dx%d, model expects %dx%d",
				w.Name, w.Rows, w.Cols, p.Data.Rows, p.Data.Cols)
		}
		if len(w.Data) != w.Rows*w.Cols {
			return nil, fmt.Errorf("checkpoint weight %q has %d values for a %dx%d tensor",
				w.Name, len(w.Data), w.Rows, w.Cols)
		}
		for i := 0; i < w.Rows; i++ {
			for j := 0; j < w.Cols; j++ {
				p.Data.Set(i, j, w.Data[i*w.Cols+j])
			}
		}
	}

	if len(c.Weights) != len(params) {
		return nil, fmt.Errorf("checkpoint has %d weights, model has %d parameters", len(c.Weights), len(params))
	}

	return m, nil
}

// SaveCheckpoint writes the model state as JSON to path.
func SaveCheckpoint(m *Heteroscedastic, path string) error {
	ckpt, err := NewCheckpoint(m)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint to %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a JSON checkpoint from path and restores the model.
func LoadCheckpoint(path string) (*Heteroscedastic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint from %s: %w", path, err)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}

	m, err := ckpt.Restore()
	if err != nil {
		return nil, fmt.Errorf("restoring checkpoint %s: %w", path, err)
	}
	return m, nil
}
