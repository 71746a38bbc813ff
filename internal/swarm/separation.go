package swarm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
)

// Neighbor is another agent seen from self: Rel = x_j − x_i and
// RelVel = v_j − v_i.
type Neighbor struct {
	Rel    r2.Vec
	RelVel r2.Vec
}

// Attention returns softmax(β·s) with max subtraction. The weights sum to 1;
// large β concentrates them on the highest score and small β spreads them
// towards 1/N. Empty input returns nil.
func Attention(scores []float64, beta float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	w := make([]float64, len(scores))
	floats.ScaleTo(w, beta, scores)
	floats.AddConst(-floats.Max(w), w)
	for i, v := range w {
		w[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// Saliency scores a neighbour: closeness 1/(‖r‖+ε), amplified by its closing
// speed.
func Saliency(n Neighbor, eps float64) float64 {
	d := r2.Norm(n.Rel)
	closing := 0.0
	if d > 0 {
		closing = math.Max(0, -r2.Dot(n.RelVel, r2.Scale(1/d, n.Rel)))
	}
	return (1 + closing) / (d + eps)
}

// SoftSeparation returns Σ α_j · (−r_j/(‖r_j‖+ε)) with α = Attention over the
// neighbours' saliency at temperature β.
func SoftSeparation(neighbors []Neighbor, beta, eps float64) r2.Vec {
	if len(neighbors) == 0 {
		return r2.Vec{}
	}
	scores := make([]float64, len(neighbors))
	for j, n := range neighbors {
		scores[j] = Saliency(n, eps)
	}
	alpha := Attention(scores, beta)
	var a r2.Vec
	for j, n := range neighbors {
		away := r2.Scale(-1/(r2.Norm(n.Rel)+eps), n.Rel)
		a = r2.Add(a, r2.Scale(alpha[j], away))
	}
	return a
}

// Alignment steers towards the neighbours' mean velocity.
func Alignment(neighbors []Neighbor, factor float64) r2.Vec {
	if len(neighbors) == 0 {
		return r2.Vec{}
	}
	var mean r2.Vec
	for _, n := range neighbors {
		mean = r2.Add(mean, n.RelVel)
	}
	return r2.Scale(factor/float64(len(neighbors)), mean)
}

// Cohesion steers towards the neighbours' centroid.
func Cohesion(neighbors []Neighbor, factor float64) r2.Vec {
	if len(neighbors) == 0 {
		return r2.Vec{}
	}
	var centroid r2.Vec
	for _, n := range neighbors {
		centroid = r2.Add(centroid, n.Rel)
	}
	return r2.Scale(factor/float64(len(neighbors)), centroid)
}
