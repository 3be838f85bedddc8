package decompose

import (
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/ranker"
	"crossmap/internal/sparse"
)

// Request describes one decomposition.
type Request struct {
	// NTargets bounds the number of targets in the result.
	NTargets int
	// NDocs is the number of documents consulted per ranking step.
	NDocs int
	// Factors are target ids forced into the basis, in order, before any
	// search-driven step.
	Factors []string
	// Support, when set, restricts every basis vector to these features.
	Support *roaring.Bitmap
}

// Result holds targets and coefficients in discovery order.
type Result struct {
	IDs          []string
	Coefficients []float64
}

type Decomposer struct {
	targets   port.AnnIndex
	documents port.AnnIndex
	logger    *slog.Logger
}

type Option func(*Decomposer) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decomposer) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// NewDecomposer binds a decomposer to a target index and an optional
// document index.
func NewDecomposer(targets, documents port.AnnIndex, opts ...Option) (*Decomposer, error) {
	d := &Decomposer{
		targets:   targets,
		documents: documents,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// roundoff is the magnitude below which residual entries count as zero.
const roundoff = 1e-12

// MaxIterations is the hard bound on greedy steps for a request.
func MaxIterations(req Request) int {
	return 2*req.NTargets + len(req.Factors)
}

// Decompose greedily picks the target nearest to the current residual,
// refits all coefficients by least squares, and recomputes the residual,
// until NTargets are chosen or the residual mass is no longer positive.
// A target picked twice has its coefficient doubled.
func (d *Decomposer) Decompose(v sparse.Vector, req Request) (Result, error) {
	res := Result{IDs: []string{}, Coefficients: []float64{}}
	if v.IsZero() || req.NTargets <= 0 || d.targets == nil || d.targets.Len() == 0 {
		return res, nil
	}

	var basis []sparse.Vector
	chosen := make(map[string]int)
	residual := v.Clone()
	limit := MaxIterations(req)

	iter := 0
	for ; iter < limit && len(res.IDs) < req.NTargets && residual.Sum() > 0; iter++ {
		var id string
		if len(res.IDs) < len(req.Factors) {
			id = req.Factors[len(res.IDs)]
		} else {
			candidates, err := ranker.Rank(residual, d.targets, d.documents, 1, req.NDocs)
			if err != nil {
				return Result{}, err
			}
			if len(candidates) == 0 {
				break
			}
			id = candidates[0].ID
		}

		if at, ok := chosen[id]; ok {
			res.Coefficients[at] *= 2
		} else {
			vec, ok := d.targets.Vector(id)
			if !ok {
				return Result{}, fmt.Errorf("%w: target %s", domain.ErrNotFound, id)
			}
			if req.Support != nil {
				vec = sparse.DimCollapse(vec, req.Support, false)
			}
			chosen[id] = len(res.IDs)
			res.IDs = append(res.IDs, id)
			basis = append(basis, vec)
			res.Coefficients = LeastSquares(v, basis)
		}
		residual = sparse.ThresholdAbs(sparse.Residual(v, basis, res.Coefficients), roundoff)
	}

	if iter == limit && len(res.IDs) < req.NTargets && residual.Sum() > 0 {
		d.logger.Debug("decomposition hit iteration cap",
			slog.Int("limit", limit),
			slog.Int("targets", len(res.IDs)))
	}
	return res, nil
}
