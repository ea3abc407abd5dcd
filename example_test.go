package tofu_test

import (
	"context"
	"fmt"

	"github.com/bpradana/tofu"
)

type scale struct {
	props  *tofu.PropertySet
	factor float64
}

func newScale() tofu.Task {
	s := &scale{props: tofu.NewPropertySet(), factor: 1}
	s.props.Float("factor", &s.factor)
	return s
}

func (s *scale) Properties() *tofu.PropertySet { return s.props }
func (s *scale) NumInputs() int                { return 1 }

func (s *scale) Process(ctx context.Context, inputs []tofu.Stream) (tofu.Stream, error) {
	out := make(tofu.Stream, len(inputs[0]))
	for i, f := range inputs[0] {
		g := f.Clone()
		for j := range g.Data {
			g.Data[j] *= float32(s.factor)
		}
		out[i] = g
	}
	return out, nil
}

type ones struct{ props *tofu.PropertySet }

func (o ones) Properties() *tofu.PropertySet { return o.props }
func (o ones) NumInputs() int                { return 0 }

func (o ones) Process(ctx context.Context, _ []tofu.Stream) (tofu.Stream, error) {
	f := tofu.NewFrame(2, 1)
	f.Data[0], f.Data[1] = 1, 1
	return tofu.Stream{f}, nil
}

func ExampleScheduler_Run() {
	pm := tofu.NewPluginManager()
	pm.MustRegister("ones", func() tofu.Task { return ones{props: tofu.NewPropertySet()} })
	pm.MustRegister("scale", newScale)

	src, err := pm.GetTask("ones", nil)
	if err != nil {
		panic(err)
	}
	double, err := pm.GetTask("scale", tofu.Properties{"factor": 2.5})
	if err != nil {
		panic(err)
	}

	g := tofu.NewTaskGraph()
	if err := g.ConnectNodes(src, double); err != nil {
		panic(err)
	}

	exec := tofu.NewScheduler().Start(context.Background(), g)
	results, _, err := exec.Await()
	if err != nil {
		panic(err)
	}
	out, err := results.Output(double)
	if err != nil {
		panic(err)
	}
	fmt.Println(out[0].Data)
	// Output: [2.5 2.5]
}
