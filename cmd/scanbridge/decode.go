package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"

	// Input files may be any of these formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/spf13/cobra"

	"scanbridge/internal/detect"
	scanerrors "scanbridge/internal/errors"
	"scanbridge/internal/scan"
)

// decodeResult is one detected code and whether the guide line accepts it.
type decodeResult struct {
	File   string     `json:"file"`
	Value  string     `json:"value"`
	Format string     `json:"format"`
	Frame  *scan.Rect `json:"frame,omitempty"`
	OnLine bool       `json:"onLine"`
}

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <image>...",
		Short: "Detect codes in image files and check them against the guide line",
		Long: `Runs the detector over each image and reports every code found.
The guide line sits at the vertical center of the image; --tolerance sets
the accepted band around it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			names := cfg.Scan.Symbologies
			if flagNames, _ := cmd.Flags().GetStringSlice("symbology"); len(flagNames) > 0 {
				names = flagNames
			}
			symbologies, err := detect.ParseSymbologies(names)
			if err != nil {
				return scanerrors.Wrap(err, scanerrors.ErrCodeInvalidInput, "bad --symbology")
			}
			tolerance := cfg.Scan.Tolerance
			if t, _ := cmd.Flags().GetFloat64("tolerance"); t > 0 {
				tolerance = t
			}
			tryHarder, _ := cmd.Flags().GetBool("try-harder")
			asJSON, _ := cmd.Flags().GetBool("output-json")

			detector := detect.NewDetector(symbologies, tryHarder || cfg.Scan.TryHarder)

			var results []decodeResult
			for _, file := range args {
				found, err := decodeFile(detector, file, tolerance)
				if err != nil {
					return err
				}
				results = append(results, found...)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			for _, r := range results {
				mark := " "
				if r.OnLine {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\t%s\n", mark, r.File, r.Format, r.Value)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("symbology", nil, "Symbologies to look for (default from config)")
	cmd.Flags().Float64("tolerance", 0, "Guide line tolerance in pixels (default from config)")
	cmd.Flags().Bool("try-harder", false, "Spend more time looking for codes")
	cmd.Flags().Bool("output-json", false, "Print results as JSON")
	return cmd
}

func decodeFile(detector detect.Decoder, path string, tolerance float64) ([]decodeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, scanerrors.InvalidImage(err).WithDetail("file", path)
	}

	guide := scan.GuideForViewport(float64(img.Bounds().Dy()), tolerance)
	codes := detector.Detect(img)

	results := make([]decodeResult, 0, len(codes))
	for _, code := range codes {
		results = append(results, decodeResult{
			File:   path,
			Value:  code.Value,
			Format: code.Format,
			Frame:  code.Frame,
			OnLine: code.Frame != nil && guide.Accepts(*code.Frame),
		})
	}
	return results, nil
}
