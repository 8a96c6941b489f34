package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mzyy94/ledmscan/internal/config"
	"github.com/mzyy94/ledmscan/internal/imaging"
	"github.com/mzyy94/ledmscan/internal/metadata"
	"github.com/mzyy94/ledmscan/internal/scanner"
	"github.com/mzyy94/ledmscan/internal/tui"
)

type scanFlags struct {
	dpi         int
	compression int
	out         string
	maxDim      int
	quality     int
	optimize    bool
	pdf         bool
	meta        []string
	people      []string
	plain       bool
	maxWait     time.Duration
}

func newScanCmd(a *app) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan one page from the platen",
		Long: `Waits for the scanner to become idle, starts a scan job, downloads the page
and writes a downscaled copy next to it. Unset options come from the settings
file.`,
		Example: `  # Scan at 600 dpi into the configured scan directory
  ledmscan scan

  # Scan at 300 dpi to a given file with a PDF copy and notes
  ledmscan scan --dpi 300 --out photo.jpg --pdf --meta location="Österhaninge kyrka"

  # Tag two people by their position on the photo
  ledmscan scan --person "Nina Eriksson@0.25,0.4;born=1950" --person "Sven@0.7,0.45"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, people, err := parseTags(f.meta, f.people)
			if err != nil {
				return err
			}
			sc, err := a.scanner()
			if err != nil {
				return err
			}
			opts := f.apply(cmd, scanner.OptionsFromSettings(a.store.Get()))
			opts.Metadata = pairs
			opts.People = people
			rememberPeople(a.store, people)

			optimizer := &imaging.Optimizer{Binary: envStr("LEDMSCAN_OPTIMIZER", "")}
			worker := scanner.NewWorker(sc, optimizer)
			defer worker.Wait()

			res, err := runScan(cmd, worker, opts, f.plain)
			if err != nil {
				return describeErr(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.OutputPath)
			if res.ThumbnailPath != "" {
				fmt.Fprintln(out, res.ThumbnailPath)
			}
			if res.PDFPath != "" {
				fmt.Fprintln(out, res.PDFPath)
			}
			if res.MetadataPath != "" {
				fmt.Fprintln(out, res.MetadataPath)
			}
			if opts.Optimize && optimizer.Available() {
				slog.Info("optimizing thumbnail, this can take a while", "path", res.FinalPath())
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.dpi, "dpi", 0, "scan resolution (75, 100, 200, 300, 600, 1200, 2400)")
	fl.IntVar(&f.compression, "compression", 0, "device JPEG compression factor, 0-95")
	fl.StringVarP(&f.out, "out", "o", "", "output file (default: timestamped name in the scan directory)")
	fl.IntVar(&f.maxDim, "max-dim", 0, "thumbnail longest side in pixels, 0 to skip")
	fl.IntVar(&f.quality, "quality", 0, "thumbnail JPEG quality, 1-95")
	fl.BoolVar(&f.optimize, "optimize", false, "re-encode the thumbnail with guetzli after the scan")
	fl.BoolVar(&f.pdf, "pdf", false, "also write the page as a PDF")
	fl.StringArrayVar(&f.meta, "meta", nil, "key=value written to the metadata sidecar (repeatable)")
	fl.StringArrayVar(&f.people, "person", nil, `person on the photo as "Name@x,y[;key=value...]", x and y in 0-1 (repeatable)`)
	fl.BoolVar(&f.plain, "plain", false, "log progress instead of the interactive display")
	fl.DurationVar(&f.maxWait, "max-wait", time.Duration(envInt("LEDMSCAN_MAX_WAIT", 60))*time.Second, "how long to wait for a busy scanner")
	return cmd
}

// apply overrides settings with the flags the user set explicitly.
func (f scanFlags) apply(cmd *cobra.Command, opts scanner.JobOptions) scanner.JobOptions {
	changed := cmd.Flags().Changed
	if changed("dpi") {
		opts.Resolution = f.dpi
	}
	if changed("compression") {
		opts.Compression = f.compression
	}
	if changed("out") {
		opts.OutputPath = f.out
	}
	if changed("max-dim") {
		opts.MaxDimension = f.maxDim
	}
	if changed("quality") {
		opts.Quality = f.quality
	}
	if changed("optimize") {
		opts.Optimize = f.optimize
	}
	if changed("pdf") {
		opts.ExportPDF = f.pdf
	}
	opts.MaxWait = f.maxWait
	return opts
}

func runScan(cmd *cobra.Command, w *scanner.Worker, opts scanner.JobOptions, plain bool) (*scanner.Result, error) {
	if !plain && isTerminal(os.Stdout) {
		return tui.Run(cmd.Context(), w, opts)
	}
	opts.Progress = func(s scanner.Step) {
		slog.Info("scan progress", "step", s)
	}
	done, err := w.Start(cmd.Context(), opts)
	if err != nil {
		return nil, err
	}
	out := <-done
	return out.Result, out.Err
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// parseTags parses --meta and --person arguments, keeping their order.
func parseTags(meta, people []string) ([]metadata.Pair, []metadata.Person, error) {
	pairs := make([]metadata.Pair, 0, len(meta))
	for _, arg := range meta {
		p, err := metadata.ParsePair(arg)
		if err != nil {
			return nil, nil, fmt.Errorf("--meta: %w", err)
		}
		pairs = append(pairs, p)
	}
	tagged := make([]metadata.Person, 0, len(people))
	for _, arg := range people {
		p, err := metadata.ParsePerson(arg)
		if err != nil {
			return nil, nil, fmt.Errorf("--person: %w", err)
		}
		tagged = append(tagged, p)
	}
	return pairs, tagged, nil
}

// rememberPeople records tagged names for the web UI's suggestions.
func rememberPeople(store *config.Store, people []metadata.Person) {
	for _, p := range people {
		if err := store.AddRecentPerson(p.Name()); err != nil {
			slog.Warn("could not remember person", "name", p.Name(), "err", err)
		}
	}
}

// describeErr turns a device failure into its user-facing message, keeping the
// details in the debug log.
func describeErr(err error) error {
	slog.Debug("command failed", "err", err)
	var ip *scanner.InvalidParameterError
	if errors.As(err, &ip) {
		return err
	}
	return errors.New(scanner.Describe(err))
}
