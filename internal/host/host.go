// Package host is a self-contained stand-in for the process-control runtime
// that owns variables: it creates them from declarations, publishes them in a
// registry for the bridge to claim, and runs local flows between them.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/pvbridge/internal/flow"
	"github.com/danmuck/pvbridge/internal/observability"
	"github.com/danmuck/pvbridge/internal/variable"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownKind      = errors.New("host: unknown variable kind")
	ErrUnknownVariable  = errors.New("host: unknown variable")
	ErrFlowDirection    = errors.New("host: flow direction")
	ErrFlowKind         = errors.New("host: flow kind mismatch")
	ErrInvalidInitial   = errors.New("host: invalid initial value")
	ErrInvalidCapacity  = errors.New("host: invalid capacity")
	ErrDuplicateVariant = errors.New("host: duplicate variable")
)

// FlowSpec mirrors From into every To. Initial, when set, is committed to
// each destination before the first mirrored value.
type FlowSpec struct {
	From    string
	To      []string
	Initial any
}

// Host keeps its own handle to every variable it created, including the ones
// the bridge has since claimed from the registry.
type Host struct {
	registry *variable.Registry
	vars     map[string]variable.Handle
	logger   zerolog.Logger
}

// New creates and registers one variable per declaration.
func New(decls []variable.Info) (*Host, error) {
	h := &Host{
		registry: variable.NewRegistry(),
		vars:     make(map[string]variable.Handle, len(decls)),
		logger:   observability.Logger("host"),
	}
	for _, info := range decls {
		if _, dup := h.vars[info.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateVariant, info.Name)
		}
		v, err := create(info)
		if err != nil {
			return nil, err
		}
		if err := h.registry.Register(v); err != nil {
			return nil, err
		}
		h.vars[info.Name] = v
		h.logger.Debug().
			Str("variable", info.Name).
			Stringer("kind", info.Kind).
			Stringer("direction", info.Direction).
			Stringer("policy", info.Policy).
			Msg("variable created")
	}
	return h, nil
}

func create(info variable.Info) (variable.Handle, error) {
	if info.Kind.Bounded() && info.MaxLen <= 0 {
		return nil, fmt.Errorf("%w: %s max_len=%d", ErrInvalidCapacity, info.Name, info.MaxLen)
	}
	switch info.Kind {
	case variable.KindF64:
		return variable.NewF64(info.Name, info.Direction, variable.WithPolicy[float64](info.Policy)), nil
	case variable.KindU16:
		return variable.NewU16(info.Name, info.Direction, variable.WithPolicy[uint16](info.Policy)), nil
	case variable.KindU32:
		return variable.NewU32(info.Name, info.Direction, variable.WithPolicy[uint32](info.Policy)), nil
	case variable.KindI32Array:
		return variable.NewI32Array(info.Name, info.Direction, info.MaxLen, variable.WithPolicy[[]int32](info.Policy)), nil
	case variable.KindBytes:
		return variable.NewBytes(info.Name, info.Direction, info.MaxLen, variable.WithPolicy[[]byte](info.Policy)), nil
	default:
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownKind, info.Name, info.Kind)
	}
}

// Registry is the lookup table the bridge claims variables from.
func (h *Host) Registry() *variable.Registry { return h.registry }

// Variables returns every host variable sorted by name.
func (h *Host) Variables() []variable.Handle {
	out := make([]variable.Handle, 0, len(h.vars))
	for _, v := range h.vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().Name < out[j].Info().Name })
	return out
}

// Lookup returns the host's own typed handle to a variable.
func Lookup[V any](h *Host, name string) (*variable.Var[V], error) {
	hd, ok := h.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	v, ok := hd.(*variable.Var[V])
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s", variable.ErrWrongType, name, hd.Info().Kind)
	}
	return v, nil
}

// Flows attaches an observer to every flow source and returns the tasks. Call
// it once, after the bridge has claimed its variables and before any value
// is committed.
func (h *Host) Flows(specs []FlowSpec) ([]flow.Task, error) {
	tasks := make([]flow.Task, 0, len(specs))
	for _, spec := range specs {
		task, err := h.flow(spec)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (h *Host) flow(spec FlowSpec) (flow.Task, error) {
	src, ok := h.vars[spec.From]
	if !ok {
		return flow.Task{}, fmt.Errorf("%w: flow source %q", ErrUnknownVariable, spec.From)
	}
	if src.Info().Direction != variable.Input {
		return flow.Task{}, fmt.Errorf("%w: source %q must be an input", ErrFlowDirection, spec.From)
	}
	if len(spec.To) == 0 {
		return flow.Task{}, fmt.Errorf("%w: %q", flow.ErrNoSinks, spec.From)
	}
	dsts := make([]variable.Handle, 0, len(spec.To))
	for _, name := range spec.To {
		dst, ok := h.vars[name]
		if !ok {
			return flow.Task{}, fmt.Errorf("%w: flow destination %q", ErrUnknownVariable, name)
		}
		if dst.Info().Direction != variable.Output {
			return flow.Task{}, fmt.Errorf("%w: destination %q must be an output", ErrFlowDirection, name)
		}
		if dst.Info().Kind != src.Info().Kind {
			return flow.Task{}, fmt.Errorf(
				"%w: %s is %s, %s is %s",
				ErrFlowKind, spec.From, src.Info().Kind, name, dst.Info().Kind,
			)
		}
		if dst.Info().MaxLen < src.Info().MaxLen {
			return flow.Task{}, fmt.Errorf(
				"%w: %s holds %d elements, %s only %d",
				ErrInvalidCapacity, spec.From, src.Info().MaxLen, name, dst.Info().MaxLen,
			)
		}
		dsts = append(dsts, dst)
	}

	name := flowName(spec)
	switch src.Info().Kind {
	case variable.KindF64:
		return link[float64](name, src, dsts, spec.Initial, initialF64)
	case variable.KindU16:
		return link[uint16](name, src, dsts, spec.Initial, initialU16)
	case variable.KindU32:
		return link[uint32](name, src, dsts, spec.Initial, initialU32)
	case variable.KindI32Array:
		return link[[]int32](name, src, dsts, spec.Initial, initialI32s)
	case variable.KindBytes:
		return link[[]byte](name, src, dsts, spec.Initial, initialBytes)
	default:
		return flow.Task{}, fmt.Errorf("%w: %s", ErrUnknownKind, src.Info().Kind)
	}
}

func link[V any](
	name string,
	src variable.Handle,
	dsts []variable.Handle,
	rawInitial any,
	convert func(any) (V, error),
) (flow.Task, error) {
	typedDsts := make([]*variable.Var[V], 0, len(dsts))
	for _, d := range dsts {
		typedDsts = append(typedDsts, d.(*variable.Var[V]))
	}
	var (
		initial V
		seeded  bool
	)
	if rawInitial != nil {
		v, err := convert(rawInitial)
		if err != nil {
			return flow.Task{}, fmt.Errorf("flow %s: %w", name, err)
		}
		if n, bounded := boundedLen(v); bounded {
			for _, d := range typedDsts {
				if n > d.Info().MaxLen {
					return flow.Task{}, fmt.Errorf("flow %s: %w: initial has %d elements, %s holds %d",
						name, ErrInvalidInitial, n, d.Name(), d.Info().MaxLen)
				}
			}
		}
		initial, seeded = v, true
	}

	obs, err := src.(*variable.Var[V]).Observe()
	if err != nil {
		return flow.Task{}, fmt.Errorf("flow %s: %w", name, err)
	}
	task := flow.FanOut(name, obs, typedDsts...)
	if seeded {
		for _, d := range typedDsts {
			task = flow.Seed(d, initial, task)
		}
	}
	return task, nil
}

func boundedLen(v any) (int, bool) {
	switch x := v.(type) {
	case []int32:
		return len(x), true
	case []byte:
		return len(x), true
	default:
		return 0, false
	}
}

func flowName(spec FlowSpec) string {
	name := spec.From + "->"
	for i, to := range spec.To {
		if i > 0 {
			name += ","
		}
		name += to
	}
	return name
}

// Run runs tasks until ctx is done or one of them fails.
func (h *Host) Run(ctx context.Context, tasks []flow.Task) error {
	h.logger.Info().Int("flows", len(tasks)).Msg("host flows running")
	return flow.Group(ctx, h.logger, tasks...)
}
