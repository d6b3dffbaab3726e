package query

import (
	"fmt"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/index"
	"github.com/apache/arrow-go/v18/arrow"
)

// Side names one input of a join.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// ParseSide maps a configuration name onto a Side.
func ParseSide(name string) (Side, error) {
	switch name {
	case "left", "arrests":
		return Left, nil
	case "right", "crimes":
		return Right, nil
	default:
		return 0, fmt.Errorf("unknown join side %q", name)
	}
}

// KeyPair equates one column of the left input with one of the right.
type KeyPair struct {
	Left  string
	Right string
}

// OutputColumn names a column of the join result and where it comes from.
type OutputColumn struct {
	Name   string
	Side   Side
	Source string
}

// JoinSpec describes an equality join and its projection.
type JoinSpec struct {
	Keys   []KeyPair
	Output []OutputColumn
}

// Plan represents a join execution plan
type Plan struct {
	BuildSide  Side
	Strategy   index.Strategy
	Partitions int

	leftKeys  []int
	rightKeys []int
	encodings []keyEncoding
	output    []outputRef
}

type outputRef struct {
	field arrow.Field
	side  Side
	col   int
}

// Planner chooses build side, index strategy and partitioning for joins.
type Planner struct {
	// strategy is "auto" or the name of a fixed index strategy.
	strategy   string
	partitions int
	// bloomRatio is the probe/build size ratio above which the bloom
	// strategy is chosen automatically.
	bloomRatio float64
}

// NewPlanner creates a join planner
func NewPlanner(strategy string, partitions int) *Planner {
	if strategy == "" {
		strategy = "auto"
	}
	if partitions <= 0 {
		partitions = 1
	}
	return &Planner{strategy: strategy, partitions: partitions, bloomRatio: 8}
}

// PlanJoin validates spec against both inputs and creates an execution plan.
func (p *Planner) PlanJoin(left, right *dataset.Table, spec JoinSpec) (*Plan, error) {
	if len(spec.Keys) == 0 {
		return nil, &JoinError{Reason: "no join key columns"}
	}
	if len(spec.Output) == 0 {
		return nil, &JoinError{Reason: "no output columns"}
	}
	plan := &Plan{Partitions: p.partitions}

	for _, kp := range spec.Keys {
		lf, err := left.Field(kp.Left)
		if err != nil {
			return nil, &JoinError{Column: kp.Left, Reason: "absent from " + left.Name()}
		}
		rf, err := right.Field(kp.Right)
		if err != nil {
			return nil, &JoinError{Column: kp.Right, Reason: "absent from " + right.Name()}
		}
		lk, rk := dataset.KindOf(lf.Type), dataset.KindOf(rf.Type)
		enc, ok := encodingFor(lk, rk)
		if !ok {
			return nil, &JoinError{
				Column: kp.Left + "=" + kp.Right,
				Reason: fmt.Sprintf("cannot compare %s with %s", lk, rk),
			}
		}
		li, _ := left.ColumnIndex(kp.Left)
		ri, _ := right.ColumnIndex(kp.Right)
		plan.leftKeys = append(plan.leftKeys, li)
		plan.rightKeys = append(plan.rightKeys, ri)
		plan.encodings = append(plan.encodings, enc)
	}

	for _, oc := range spec.Output {
		src := left
		if oc.Side == Right {
			src = right
		}
		f, err := src.Field(oc.Source)
		if err != nil {
			return nil, &JoinError{Column: oc.Source, Reason: "output column absent from " + src.Name()}
		}
		ci, _ := src.ColumnIndex(oc.Source)
		name := oc.Name
		if name == "" {
			name = oc.Source
		}
		plan.output = append(plan.output, outputRef{
			field: arrow.Field{Name: name, Type: f.Type, Nullable: true},
			side:  oc.Side,
			col:   ci,
		})
	}

	// Build on the smaller input.
	build, probe := left.NumRows(), right.NumRows()
	plan.BuildSide = Left
	if probe < build {
		plan.BuildSide = Right
		build, probe = probe, build
	}

	strategy, err := p.chooseIndexStrategy(build, probe)
	if err != nil {
		return nil, err
	}
	plan.Strategy = strategy
	return plan, nil
}

func (p *Planner) chooseIndexStrategy(build, probe int64) (index.Strategy, error) {
	if p.strategy != "auto" {
		return index.ParseStrategy(p.strategy)
	}
	switch {
	case build == 0:
		return index.RoaringBitmap, nil
	case float64(probe) >= p.bloomRatio*float64(build):
		return index.Bloom, nil
	default:
		return index.HashIndex, nil
	}
}
