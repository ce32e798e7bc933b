package rl

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// File names written by Network.Save
const (
	ModelFile     = "trained_model.bin"
	StructureFile = "model_structure.txt"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// Predictor maps a state to one value per action
type Predictor interface {
	PredictOne(state []float64) []float64
}

// Model is the value network trained by the training simulation
type Model interface {
	Predictor
	PredictBatch(states [][]float64) [][]float64
	TrainBatch(states, targets [][]float64) float64
	InputDim() int
	OutputDim() int
	Save(dir string) error
}

type NetworkConfig struct {
	NumLayers    int
	WidthLayers  int
	InputDim     int
	OutputDim    int
	LearningRate float64
	Seed         uint64
}

type dense struct {
	w *mat.Dense
	b *mat.Dense

	// adam moments
	mw, vw *mat.Dense
	mb, vb *mat.Dense
}

func newDense(in, out int, src rand.Source) *dense {
	limit := math.Sqrt(6 / float64(in+out))
	u := distuv.Uniform{Min: -limit, Max: limit, Src: src}
	data := make([]float64, in*out)
	for i := range data {
		data[i] = u.Rand()
	}
	d := &dense{
		w: mat.NewDense(in, out, data),
		b: mat.NewDense(1, out, nil),
	}
	d.resetMoments()
	return d
}

func (d *dense) resetMoments() {
	r, c := d.w.Dims()
	d.mw = mat.NewDense(r, c, nil)
	d.vw = mat.NewDense(r, c, nil)
	d.mb = mat.NewDense(1, c, nil)
	d.vb = mat.NewDense(1, c, nil)
}

// Network is a fully connected ReLU network with a linear output layer, trained
// on mean squared error with Adam
type Network struct {
	layers       []*dense
	learningRate float64
	t            int
}

var _ Model = &Network{}

func NewNetwork(cfg NetworkConfig) (*Network, error) {
	if cfg.NumLayers <= 0 || cfg.WidthLayers <= 0 || cfg.InputDim <= 0 || cfg.OutputDim <= 0 {
		return nil, fmt.Errorf("invalid network shape %d x %d (%d -> %d)", cfg.NumLayers, cfg.WidthLayers, cfg.InputDim, cfg.OutputDim)
	}
	src := rand.NewSource(cfg.Seed)
	n := &Network{learningRate: cfg.LearningRate}
	in := cfg.InputDim
	for i := 0; i < cfg.NumLayers; i++ {
		n.layers = append(n.layers, newDense(in, cfg.WidthLayers, src))
		in = cfg.WidthLayers
	}
	n.layers = append(n.layers, newDense(in, cfg.OutputDim, src))
	return n, nil
}

func (n *Network) InputDim() int {
	r, _ := n.layers[0].w.Dims()
	return r
}

func (n *Network) OutputDim() int {
	_, c := n.layers[len(n.layers)-1].w.Dims()
	return c
}

func relu(_, _ int, v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// forward returns the activations of every layer, the input first
func (n *Network) forward(x *mat.Dense) []*mat.Dense {
	acts := []*mat.Dense{x}
	a := x
	for i, l := range n.layers {
		rows, _ := a.Dims()
		_, cols := l.w.Dims()
		z := mat.NewDense(rows, cols, nil)
		z.Mul(a, l.w)
		bias := l.b.RawRowView(0)
		z.Apply(func(_, j int, v float64) float64 { return v + bias[j] }, z)
		if i < len(n.layers)-1 {
			z.Apply(relu, z)
		}
		acts = append(acts, z)
		a = z
	}
	return acts
}

func toDense(rows [][]float64, width int) *mat.Dense {
	data := make([]float64, 0, len(rows)*width)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), width, data)
}

func fromDense(m *mat.Dense) [][]float64 {
	rows, _ := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = append([]float64(nil), m.RawRowView(i)...)
	}
	return out
}

func (n *Network) PredictOne(state []float64) []float64 {
	return n.PredictBatch([][]float64{state})[0]
}

func (n *Network) PredictBatch(states [][]float64) [][]float64 {
	if len(states) == 0 {
		return [][]float64{}
	}
	acts := n.forward(toDense(states, n.InputDim()))
	return fromDense(acts[len(acts)-1])
}

// TrainBatch runs one gradient step on states and targets and returns the loss
// before the update
func (n *Network) TrainBatch(states, targets [][]float64) float64 {
	if len(states) == 0 {
		return 0
	}
	acts := n.forward(toDense(states, n.InputDim()))
	out := acts[len(acts)-1]
	rows, cols := out.Dims()

	delta := mat.NewDense(rows, cols, nil)
	delta.Sub(out, toDense(targets, cols))
	loss := 0.0
	for _, v := range delta.RawMatrix().Data {
		loss += v * v
	}
	scale := float64(rows * cols)
	loss /= scale
	delta.Scale(2/scale, delta)

	n.t++
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		in := acts[i]

		var gw mat.Dense
		gw.Mul(in.T(), delta)
		_, bc := delta.Dims()
		gb := mat.NewDense(1, bc, nil)
		for j := 0; j < bc; j++ {
			gb.Set(0, j, mat.Sum(delta.ColView(j)))
		}

		if i > 0 {
			var prev mat.Dense
			prev.Mul(delta, l.w.T())
			prev.Apply(func(r, c int, v float64) float64 {
				if in.At(r, c) <= 0 {
					return 0
				}
				return v
			}, &prev)
			delta = &prev
		}

		n.adam(l.w, &gw, l.mw, l.vw)
		n.adam(l.b, gb, l.mb, l.vb)
	}
	return loss
}

func (n *Network) adam(p, g, m, v *mat.Dense) {
	c1 := 1 - math.Pow(adamBeta1, float64(n.t))
	c2 := 1 - math.Pow(adamBeta2, float64(n.t))
	pd, gd, md, vd := p.RawMatrix().Data, g.RawMatrix().Data, m.RawMatrix().Data, v.RawMatrix().Data
	for i := range pd {
		md[i] = adamBeta1*md[i] + (1-adamBeta1)*gd[i]
		vd[i] = adamBeta2*vd[i] + (1-adamBeta2)*gd[i]*gd[i]
		pd[i] -= n.learningRate * (md[i] / c1) / (math.Sqrt(vd[i]/c2) + adamEpsilon)
	}
}

type savedNetwork struct {
	Weights [][]byte
	Biases  [][]byte
}

// Save writes the weights to dir/trained_model.bin and a layer summary to
// dir/model_structure.txt
func (n *Network) Save(dir string) error {
	var saved savedNetwork
	for _, l := range n.layers {
		w, err := l.w.MarshalBinary()
		if err != nil {
			return err
		}
		b, err := l.b.MarshalBinary()
		if err != nil {
			return err
		}
		saved.Weights = append(saved.Weights, w)
		saved.Biases = append(saved.Biases, b)
	}

	f, err := os.Create(filepath.Join(dir, ModelFile))
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(saved); err != nil {
		f.Close()
		return fmt.Errorf("encode model: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, StructureFile), []byte(n.Summary()), 0644)
}

// Summary describes the layers and parameter counts
func (n *Network) Summary() string {
	var sb strings.Builder
	total := 0
	fmt.Fprintf(&sb, "input: %d\n", n.InputDim())
	for i, l := range n.layers {
		r, c := l.w.Dims()
		params := r*c + c
		total += params
		activation := "relu"
		if i == len(n.layers)-1 {
			activation = "linear"
		}
		fmt.Fprintf(&sb, "layer_%d: dense %d -> %d, %s, %d params\n", i, r, c, activation, params)
	}
	fmt.Fprintf(&sb, "total params: %d\n", total)
	return sb.String()
}

// LoadNetwork reads a model written by Save. The loaded network predicts; training
// it restarts the optimizer state.
func LoadNetwork(path string, learningRate float64) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var saved savedNetwork
	if err := gob.NewDecoder(f).Decode(&saved); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if len(saved.Weights) == 0 || len(saved.Weights) != len(saved.Biases) {
		return nil, errors.New("model file holds no layers")
	}

	n := &Network{learningRate: learningRate}
	for i := range saved.Weights {
		l := &dense{w: &mat.Dense{}, b: &mat.Dense{}}
		if err := l.w.UnmarshalBinary(saved.Weights[i]); err != nil {
			return nil, err
		}
		if err := l.b.UnmarshalBinary(saved.Biases[i]); err != nil {
			return nil, err
		}
		in, out := l.w.Dims()
		if br, bc := l.b.Dims(); br != 1 || bc != out {
			return nil, fmt.Errorf("model %s: layer %d has %dx%d biases for %d outputs", path, i, br, bc, out)
		}
		if i > 0 {
			if _, prev := n.layers[i-1].w.Dims(); prev != in {
				return nil, fmt.Errorf("model %s: layer %d takes %d inputs, previous layer gives %d", path, i, in, prev)
			}
		}
		l.resetMoments()
		n.layers = append(n.layers, l)
	}
	return n, nil
}
