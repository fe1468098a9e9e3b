package main

import (
	"io/ioutil"
	"net/http"
	"os"

	"github.com/gorgonia/dvs"
	"github.com/gorgonia/dvs/encoding/gif"
	"github.com/gorgonia/dvs/encoding/mjpeg"
	"github.com/gorgonia/dvs/internal/synth"
	"github.com/gorgonia/dvs/quaternion"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type dataFlags struct {
	sequences, steps int
	drift, noise     float64
	seed             int64
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.sequences, "sequences", 4, "number of synthetic sequences")
	cmd.Flags().IntVar(&f.steps, "steps", 32, "time steps per sequence")
	cmd.Flags().Float64Var(&f.drift, "drift", 0.05, "standard deviation of the orientation walk")
	cmd.Flags().Float64Var(&f.noise, "noise", 0.01, "standard deviation of the reading noise")
	cmd.Flags().Int64Var(&f.seed, "seed", 1337, "random seed")
}

func (f *dataFlags) walks(conf dvs.Config) ([]*synth.Walk, error) {
	batch := conf.Train.BatchSize
	if batch < 1 {
		batch = 1
	}
	retVal := make([]*synth.Walk, 0, f.sequences)
	for i := 0; i < f.sequences; i++ {
		w, err := synth.New(conf.NNConf, synth.Config{
			Batch:           batch,
			Length:          f.steps,
			Drift:           f.drift,
			Noise:           f.noise,
			ProjectionWidth: conf.ProjectionWidth,
			Seed:            f.seed + int64(i),
		})
		if err != nil {
			return nil, err
		}
		retVal = append(retVal, w)
	}
	return retVal, nil
}

func trainCmd() *cobra.Command {
	var (
		data                                 dataFlags
		configFile, out, dot, gifFile, stats string
		resume, serve                        string
		epochs                               int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a network on synthetic orientation walks",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := dvs.ReadConfigFile(configFile, log)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("epochs") {
				conf.Train.Epochs = epochs
			}

			var encs multiEncoder
			var g *gif.Encoder
			if gifFile != "" {
				g = gif.NewGifEncoder(600, 800)
				g.Every = data.steps
				encs = append(encs, g)
			}
			if serve != "" {
				m := mjpeg.NewEncoder(600, 800)
				encs = append(encs, m)
				go func(h http.Handler) {
					mux := http.NewServeMux()
					mux.Handle("/stream", h)
					log.WithField("addr", serve).Info("streaming training state on /stream")
					if err := http.ListenAndServe(serve, mux); err != nil {
						log.WithError(err).Error("stream server stopped")
					}
				}(m)
			}
			if len(encs) > 0 {
				conf.OutputEncoder = encs
			}

			var m *dvs.Model
			if resume != "" {
				cp, err := dvs.LoadCheckpoint(resume)
				if err != nil {
					return err
				}
				m, err = dvs.FromCheckpoint(cp, conf)
				if err != nil {
					return err
				}
			} else if m, err = dvs.New(conf); err != nil {
				return err
			}
			defer m.Close()
			m.Logger = log

			if dot != "" {
				if err := writeDot(m, dot); err != nil {
					return err
				}
			}

			walks, err := data.walks(conf)
			if err != nil {
				return err
			}
			seqs := make([]dvs.Sequence, len(walks))
			for i, w := range walks {
				seqs[i] = w
			}

			if g != nil {
				f, err := os.OpenFile(gifFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
				if err != nil {
					return errors.WithStack(err)
				}
				defer f.Close()
				g.Writer = f
			}
			if err = m.Fit(seqs); err != nil {
				return err
			}
			if stats != "" {
				if err = m.Dump(stats); err != nil {
					return err
				}
			}
			return m.SaveCheckpoint(out)
		},
	}
	data.register(cmd)
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "configuration file")
	cmd.Flags().StringVarP(&out, "out", "o", "dvs.model", "checkpoint to write")
	cmd.Flags().StringVar(&resume, "resume", "", "checkpoint to resume from")
	cmd.Flags().StringVar(&dot, "dot", "", "write the network plan as DOT into this file")
	cmd.Flags().StringVar(&gifFile, "gif", "", "write an animation of the training into this file")
	cmd.Flags().StringVar(&stats, "stats", "", "write per epoch cost statistics as CSV into this file")
	cmd.Flags().StringVar(&serve, "serve", "", "stream the training state as MJPEG on this address")
	cmd.Flags().IntVar(&epochs, "epochs", 1, "epochs to train, overrides train.epochs")
	return cmd
}

func planCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the network plan as DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := dvs.ReadConfigFile(configFile, log)
			if err != nil {
				return err
			}
			plan, err := conf.NNConf.Plan()
			if err != nil {
				return err
			}
			s, err := plan.ToDot()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write([]byte(s))
			return errors.WithStack(err)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "configuration file")
	return cmd
}

func evalCmd() *cobra.Command {
	var (
		data                 dataFlags
		configFile, modelIn string
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Report the angular error of a checkpoint on synthetic walks",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := dvs.ReadConfigFile(configFile, log)
			if err != nil {
				return err
			}
			cp, err := dvs.LoadCheckpoint(modelIn)
			if err != nil {
				return err
			}
			m, err := dvs.FromCheckpoint(cp, conf)
			if err != nil {
				return err
			}
			defer m.Close()

			// the walks must match the checkpoint's input width
			conf.NNConf.CNN, conf.NNConf.Recurrent, conf.NNConf.FC = cp.CNN, cp.RNN, cp.FC
			walks, err := data.walks(conf)
			if err != nil {
				return err
			}
			var sum float64
			var n int
			for i, w := range walks {
				outs, err := m.Infer(w.Inputs())
				if err != nil {
					return errors.Wrapf(err, "sequence %d", i)
				}
				for t, out := range outs {
					rows, err := quaternion.Rows(out)
					if err != nil {
						return err
					}
					for r, q := range rows {
						a, err := quaternion.Angle(q, w.Truth(t)[r])
						if err != nil {
							return err
						}
						sum += float64(a)
						n++
					}
				}
			}
			if n == 0 {
				return errors.New("nothing to evaluate")
			}
			log.WithFields(logrus.Fields{
				"checkpoint": modelIn,
				"samples":    n,
				"mean_angle": sum / float64(n),
			}).Info("evaluated")
			return nil
		},
	}
	data.register(cmd)
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "configuration file")
	cmd.Flags().StringVarP(&modelIn, "model", "m", "dvs.model", "checkpoint to evaluate")
	return cmd
}

func writeDot(m *dvs.Model, filename string) error {
	s, err := m.Net().Plan().ToDot()
	if err != nil {
		return err
	}
	return errors.WithStack(ioutil.WriteFile(filename, []byte(s), 0644))
}

// multiEncoder fans a training state out to several encoders.
type multiEncoder []dvs.OutputEncoder

func (encs multiEncoder) Encode(ms dvs.MetaState) error {
	for _, e := range encs {
		if err := e.Encode(ms); err != nil {
			return err
		}
	}
	return nil
}

func (encs multiEncoder) Flush() error {
	for _, e := range encs {
		if err := e.Flush(); err != nil {
			return err
		}
	}
	return nil
}
