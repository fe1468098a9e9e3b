package dvs

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Statistics is the cost history of a training run, summarized per epoch.
type Statistics struct {
	Epochs []int
	Mean   []float64
	Min    []float64
	Max    []float64
	Steps  []int
}

func makeStatistics() Statistics {
	return Statistics{
		Epochs: make([]int, 0, 64),
		Mean:   make([]float64, 0, 64),
		Min:    make([]float64, 0, 64),
		Max:    make([]float64, 0, 64),
		Steps:  make([]int, 0, 64),
	}
}

func (s *Statistics) update(epoch int, costs []float64) {
	if len(costs) == 0 {
		return
	}
	min, max := math.Inf(1), math.Inf(-1)
	var sum float64
	for _, c := range costs {
		sum += c
		min = math.Min(min, c)
		max = math.Max(max, c)
	}
	s.Epochs = append(s.Epochs, epoch)
	s.Mean = append(s.Mean, sum/float64(len(costs)))
	s.Min = append(s.Min, min)
	s.Max = append(s.Max, max)
	s.Steps = append(s.Steps, len(costs))
}

// Dump writes the history as CSV into filename.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	return s.Encode(f)
}

// Encode writes the history as CSV, one row per epoch.
func (s *Statistics) Encode(out io.Writer) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"epoch", "steps", "mean", "min", "max"}); err != nil {
		return errors.WithStack(err)
	}
	records := make([][]string, 0, len(s.Epochs))
	for i, epoch := range s.Epochs {
		records = append(records, []string{
			strconv.Itoa(epoch),
			strconv.Itoa(s.Steps[i]),
			strconv.FormatFloat(s.Mean[i], 'f', 6, 64),
			strconv.FormatFloat(s.Min[i], 'f', 6, 64),
			strconv.FormatFloat(s.Max[i], 'f', 6, 64),
		})
	}
	// WriteAll flushes
	return errors.WithStack(w.WriteAll(records))
}
