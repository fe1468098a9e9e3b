package seq

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

type stageRow struct {
	Name string
	Rows [][2]string
}

// ToDot renders the resolved chain as a graphviz digraph, one node per stage.
func (p Plan) ToDot() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		return "", errors.WithStack(err)
	}
	if err := g.SetDir(true); err != nil {
		return "", errors.WithStack(err)
	}

	var stages []stageRow
	stages = append(stages, stageRow{"input", [][2]string{{"shape", fmt.Sprint(p.Input)}}})
	for i, l := range p.Conv {
		rows := [][2]string{
			{"in", fmt.Sprint(l.In)},
			{"kernel", fmt.Sprint(l.Kernel)},
			{"stride", fmt.Sprint(l.Stride)},
			{"padding", fmt.Sprint(l.Padding)},
		}
		if l.Pooling != nil {
			rows = append(rows, [2]string{"pool", fmt.Sprint(*l.Pooling)})
		}
		rows = append(rows, [2]string{"out", fmt.Sprint(l.Out)})
		stages = append(stages, stageRow{stageName(ConvStage, i), rows})
	}
	if len(p.Conv) > 0 {
		name := "flatten"
		if p.GAP {
			name = "gap"
		}
		stages = append(stages, stageRow{name, [][2]string{{"width", fmt.Sprint(p.Flattened)}}})
	}
	for i, l := range p.Recurrent {
		stages = append(stages, stageRow{stageName(RecurrentStage, i), [][2]string{
			{"in", fmt.Sprint(l.In)},
			{"hidden", fmt.Sprint(l.Hidden)},
			{"bias", fmt.Sprint(l.Bias)},
		}})
	}
	for i, l := range p.FC {
		rows := [][2]string{
			{"in", fmt.Sprint(l.In)},
			{"out", fmt.Sprint(l.Out)},
			{"bias", fmt.Sprint(l.Bias)},
		}
		if l.Activate {
			rows = append(rows, [2]string{"activation", l.Activation.String()})
		}
		if l.BatchNorm {
			rows = append(rows, [2]string{"batch norm", "true"})
		}
		if l.DropOut > 0 {
			rows = append(rows, [2]string{"drop out", fmt.Sprint(l.DropOut)})
		}
		stages = append(stages, stageRow{stageName(FCStage, i), rows})
	}
	stages = append(stages, stageRow{"quaternion", [][2]string{{"width", fmt.Sprint(p.Output)}}})

	var buf bytes.Buffer
	for i, s := range stages {
		if err := stageTmpl.Execute(&buf, s); err != nil {
			return "", errors.WithStack(err)
		}
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		buf.Reset()
		if err := g.AddNode("G", s.Name, attrs); err != nil {
			return "", errors.WithStack(err)
		}
		if i > 0 {
			if err := g.AddEdge(stages[i-1].Name, s.Name, true, nil); err != nil {
				return "", errors.WithStack(err)
			}
		}
	}
	return g.String(), nil
}

const stageTmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD COLSPAN="2"><B>{{.Name}}</B></TD></TR>
{{range .Rows}}<TR><TD>{{index . 0}}</TD><TD>{{index . 1}}</TD></TR>
{{end}}</TABLE>
>
`

var stageTmpl = template.Must(template.New("stage").Parse(stageTmplRaw))
