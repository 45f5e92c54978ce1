package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"loramint/internal/config"
	"loramint/pkg/client"
	"loramint/pkg/types"
)

func (o *rootOptions) client() *client.Client {
	cfg := config.Defaults()
	cfg.Log.Level = "warn"
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return client.New(client.Options{BaseURL: o.server, Logger: newLogger(cfg.Log, os.Stderr)})
}

func newEngineCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "engine", Short: "Inspect the supervised engine"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the supervisor state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.client().EngineStatus(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	})
	return cmd
}

func newModelsCmd(root *rootOptions) *cobra.Command {
	var sel string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models, or select one with --select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := root.client()
			if sel != "" {
				if _, err := c.SelectModel(cmd.Context(), sel); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "selected %s\n", sel)
				return nil
			}
			models, err := c.Models(cmd.Context())
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), models)
		},
	}
	cmd.Flags().StringVar(&sel, "select", "", "Persist this model id as the selection")
	return cmd
}

func printModels(w io.Writer, models []types.ModelDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVRAM(min/rec)\tSIZE\tDOWNLOADED")
	for _, m := range models {
		dl := "no"
		if m.IsDownloaded {
			dl = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d GB\t%d GB\t%s\n", m.ID, m.Name, m.MinVRAMGB, m.RecommendedVRAMGB, m.EstimatedSizeGB, dl)
	}
	return tw.Flush()
}

// runOperation prints events until op ends; Ctrl-C stops the class slot.
func runOperation(ctx context.Context, c *client.Client, op *client.Operation) error {
	sig, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case <-op.Done():
	case <-sig.Done():
		c.Stop(op.Class)
	}
	err := op.Wait()
	if errors.Is(err, context.Canceled) {
		return errors.New("cancelled")
	}
	return err
}

func printEvent(w io.Writer) func(types.ProgressEvent) {
	return func(ev types.ProgressEvent) {
		var b strings.Builder
		b.WriteString(string(ev.Event))
		if ev.Step != nil && ev.TotalSteps != nil {
			fmt.Fprintf(&b, " %d/%d", *ev.Step, *ev.TotalSteps)
		}
		if ev.Percentage != nil {
			fmt.Fprintf(&b, " %.0f%%", *ev.Percentage)
		}
		if ev.DownloadedMB != nil && ev.TotalMB != nil {
			fmt.Fprintf(&b, " %.0f/%.0f MB", *ev.DownloadedMB, *ev.TotalMB)
		}
		for _, s := range []string{ev.Message, ev.ImagePath, ev.LoraPath, ev.Error} {
			if s != "" {
				b.WriteString(" ")
				b.WriteString(s)
			}
		}
		fmt.Fprintln(w, b.String())
	}
}

// parseLora reads "file[:strength]"; strength defaults to 1.
func parseLora(s string) (types.LoraSpec, error) {
	file, strength, found := strings.Cut(s, ":")
	spec := types.LoraSpec{File: file, Strength: 1}
	if file == "" {
		return spec, fmt.Errorf("invalid --lora %q", s)
	}
	if found {
		v, err := strconv.ParseFloat(strength, 64)
		if err != nil {
			return spec, fmt.Errorf("invalid --lora strength %q", strength)
		}
		spec.Strength = v
	}
	return spec, nil
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	var req types.GenerateRequest
	var loras []string
	cmd := &cobra.Command{
		Use:   "generate PROMPT",
		Short: "Generate an image and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = args[0]
			for _, l := range loras {
				spec, err := parseLora(l)
				if err != nil {
					return err
				}
				req.Loras = append(req.Loras, spec)
			}
			c := root.client()
			op, err := c.Generate(cmd.Context(), req, printEvent(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			return runOperation(cmd.Context(), c, op)
		},
	}
	cmd.Flags().StringVarP(&req.UserID, "user", "u", "default", "Owner of the generated image")
	cmd.Flags().StringArrayVar(&loras, "lora", nil, "LoRA adapter as file[:strength]; repeatable")
	return cmd
}

func newTrainCmd(root *rootOptions) *cobra.Command {
	var (
		req    types.TrainingRequest
		images []string
		fast   bool
		epochs int
		lr     float64
		rank   int
		prior  bool
	)
	cmd := &cobra.Command{
		Use:   "train NAME",
		Short: "Train a LoRA from 1 to 5 images and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.LoraName = args[0]
			for _, p := range images {
				b, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				req.Images = append(req.Images, types.ImageFile{Filename: filepath.Base(p), Content: b})
			}
			fl := cmd.Flags()
			if fl.Changed("fast") {
				req.Options.FastMode = &fast
			}
			if fl.Changed("epochs") {
				req.Options.NumTrainEpochs = &epochs
			}
			if fl.Changed("learning-rate") {
				req.Options.LearningRate = &lr
			}
			if fl.Changed("rank") {
				req.Options.LoraRank = &rank
			}
			if fl.Changed("prior-preservation") {
				req.Options.WithPriorPreservation = &prior
			}
			c := root.client()
			op, err := c.Train(cmd.Context(), req, printEvent(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			return runOperation(cmd.Context(), c, op)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&req.UserID, "user", "u", "default", "Owner of the trained adapter")
	fl.StringArrayVarP(&images, "image", "i", nil, "Reference image path; repeatable")
	fl.BoolVar(&fast, "fast", false, "Fast mode")
	fl.IntVar(&epochs, "epochs", 0, "Training epochs")
	fl.Float64Var(&lr, "learning-rate", 0, "Learning rate")
	fl.IntVar(&rank, "rank", 0, "LoRA rank")
	fl.BoolVar(&prior, "prior-preservation", false, "Train with prior preservation")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func newDownloadCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download MODEL_ID",
		Short: "Download model weights and follow progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := root.client()
			op, err := c.Download(cmd.Context(), args[0], printEvent(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			return runOperation(cmd.Context(), c, op)
		},
	}
}
