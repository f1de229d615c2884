package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/proctor/internal/annotate"
	"github.com/andresmejia3/proctor/internal/capture"
	"github.com/andresmejia3/proctor/internal/face"
	"github.com/andresmejia3/proctor/internal/objects"
	"github.com/andresmejia3/proctor/internal/utils"
	"github.com/spf13/cobra"
)

// AnalyzeOptions holds the flags of the analyze command.
type AnalyzeOptions struct {
	OutPath  string
	Redact   string
	Strength int
	NoBoxes  bool
	JSON     bool
}

var analyzeOpts AnalyzeOptions

var analyzeCmd = &cobra.Command{
	Use:         "analyze <image_path>",
	Short:       "Run the face and object checks on a single image",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationDB: dbSkip},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(args[0], analyzeOpts, os.Stdout)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.OutPath, "out", "o", "", "Write an annotated PNG snapshot to this path")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.Redact, "redact", "r", "none", "Redact detected faces in the snapshot: none, black, pixel, blur")
	analyzeCmd.Flags().IntVarP(&analyzeOpts.Strength, "strength", "s", 12, "Pixel block size or blur radius")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.NoBoxes, "no-boxes", false, "Do not draw detection boxes in the snapshot")
	analyzeCmd.Flags().BoolVar(&analyzeOpts.JSON, "json", false, "Print results as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

type analysis struct {
	Width       int                 `json:"width"`
	Height      int                 `json:"height"`
	Faces       []face.Region       `json:"faces"`
	LookingAway bool                `json:"lookingAway"`
	Objects     []objects.Detection `json:"objects"`
	Kept        []objects.Detection `json:"kept"`
	Errors      []string            `json:"errors,omitempty"`
}

func runAnalyze(imagePath string, opts AnalyzeOptions, out io.Writer) error {
	style, err := annotate.ParseStyle(opts.Redact)
	if err != nil {
		utils.ShowError("Invalid redaction style", err, nil)
		return err
	}

	f, err := capture.LoadImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to load image", err, nil)
		return err
	}

	a := analysis{Width: f.Width, Height: f.Height}
	res, err := face.Detect(f)
	if err != nil {
		a.Errors = append(a.Errors, fmt.Sprintf("face detection: %v", err))
	}
	a.Faces, a.LookingAway = res.Faces, res.LookingAway

	dets, err := objects.Detect(f)
	for _, se := range objects.ScanErrors(err) {
		a.Errors = append(a.Errors, se.Error())
	}
	a.Objects = dets
	a.Kept = objects.Keep(dets, Cfg.Objects)

	if opts.OutPath != "" {
		img, err := annotate.Render(f, res, a.Kept, annotate.Options{Redact: style, Strength: opts.Strength, Boxes: !opts.NoBoxes})
		if err != nil {
			utils.ShowError("Failed to render snapshot", err, nil)
			return err
		}
		if err := annotate.WritePNG(opts.OutPath, img); err != nil {
			utils.ShowError("Failed to write snapshot", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "💾 Wrote %s\n", opts.OutPath)
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	printAnalysis(out, a)
	return nil
}

func printAnalysis(out io.Writer, a analysis) {
	fmt.Fprintf(out, "🖼️  %dx%d frame\n", a.Width, a.Height)

	if len(a.Faces) == 0 {
		fmt.Fprintln(out, "❌ No face detected.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "\nFACE\tPOSITION\tBOX\tSKIN\tBRIGHTNESS")
		fmt.Fprintln(w, "----\t--------\t---\t----\t----------")
		for i, r := range a.Faces {
			pos := r.Corner
			if pos == "" {
				pos = "center"
			}
			fmt.Fprintf(w, "%d\t%s\t%.0f,%.0f %.0fx%.0f\t%.0f%%\t%.1f\n",
				i+1, pos, r.X, r.Y, r.Width, r.Height, r.SkinRatio*100, r.AvgBrightness)
		}
		w.Flush()
	}
	if len(a.Faces) > 1 {
		fmt.Fprintf(out, "⚠️  Multiple faces detected (%d).\n", len(a.Faces))
	}
	if a.LookingAway {
		fmt.Fprintln(out, "⚠️  Candidate appears to be looking away.")
	}

	if len(a.Objects) > 0 {
		kept := make(map[objects.Detection]bool, len(a.Kept))
		for _, d := range a.Kept {
			kept[d] = true
		}
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "\nOBJECT\tCONFIDENCE\tBOX\tREPORTED")
		fmt.Fprintln(w, "------\t----------\t---\t--------")
		for _, d := range a.Objects {
			fmt.Fprintf(w, "%s\t%.1f%%\t%d,%d %dx%d\t%v\n",
				d.Class, d.Confidence*100, d.BBox.X, d.BBox.Y, d.BBox.W, d.BBox.H, kept[d])
		}
		w.Flush()
	} else {
		fmt.Fprintln(out, "✅ No unauthorized objects.")
	}

	for _, e := range a.Errors {
		fmt.Fprintf(out, "🚨 %s\n", e)
	}
}
