// emfi-sweep runs an electromagnetic fault-injection parameter sweep: it
// drives the pulse generator across a voltage/pulse-width grid, fires at the
// target board, classifies every response against a known-good baseline, and
// writes CSV results plus glitch-rate heatmaps.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Brosax/ChipShouter/internal/config"
	"github.com/Brosax/ChipShouter/internal/report"
	"github.com/Brosax/ChipShouter/internal/serialmux"
	"github.com/Brosax/ChipShouter/internal/shouter"
	"github.com/Brosax/ChipShouter/internal/sweep"
	"github.com/Brosax/ChipShouter/internal/target"
	"github.com/Brosax/ChipShouter/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to sweep configuration YAML")
	genPort := flag.String("generator", "", "Generator serial port (overrides config)")
	tgtPort := flag.String("target", "", "Target serial port (overrides config)")
	outputDir := flag.String("output", "", "Results directory (overrides config)")
	htmlHeatmap := flag.Bool("html", true, "Write interactive HTML heatmap")
	pngHeatmap := flag.Bool("png", false, "Write static PNG heatmap")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("emfi-sweep", version.String())
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
	}
	if *genPort != "" {
		cfg.Generator.Port = *genPort
	}
	if *tgtPort != "" {
		cfg.Target.Port = *tgtPort
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *htmlHeatmap, *pngHeatmap); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, htmlHeatmap, pngHeatmap bool) error {
	genLink, err := serialmux.Open("generator", cfg.Generator.Port, cfg.GeneratorPortOptions())
	if err != nil {
		return fmt.Errorf("open generator port: %w", err)
	}
	defer genLink.Close()

	tgtLink, err := serialmux.Open("target", cfg.Target.Port, cfg.TargetPortOptions())
	if err != nil {
		return fmt.Errorf("open target port: %w", err)
	}
	defer tgtLink.Close()

	releaseGen, err := genLink.Acquire()
	if err != nil {
		return fmt.Errorf("acquire generator link: %w", err)
	}
	defer releaseGen()

	releaseTgt, err := tgtLink.Acquire()
	if err != nil {
		return fmt.Errorf("acquire target link: %w", err)
	}
	defer releaseTgt()

	gen := shouter.NewController(shouter.NewSerialTransport(genLink), cfg.CommandTimeout.Std())
	board := target.NewAdapter(tgtLink, cfg.ResetMarker)

	params := cfg.SweepParams()

	// room for every event the full sweep can emit, so nothing is shed
	grid := sweep.BuildGrid(params.Voltage, params.PulseWidth, params.TriggerDelay)
	buffer := grid.Size()*(cfg.PulsesPerPoint+4) + 16

	reporter := report.NewReporter(report.LogSink{}, buffer)
	defer reporter.Close()

	campaign, err := sweep.New(params, gen, board, sweep.WithSink(reporter))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := campaign.Run(ctx)

	results := campaign.Results()
	if len(results) > 0 {
		if err := export(cfg, campaign, results, htmlHeatmap, pngHeatmap); err != nil {
			fmt.Fprintf(os.Stderr, "export error: %v\n", err)
		}
		printSummary(results)
	}

	if runErr != nil {
		return fmt.Errorf("campaign %s: %w", campaign.State(), runErr)
	}
	return nil
}

func export(cfg config.Config, campaign *sweep.Campaign, results []sweep.PointResult, htmlHeatmap, pngHeatmap bool) error {
	summary, attempts, err := report.SaveCSV(cfg.OutputDir, campaign.ID(), results)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", summary)
	fmt.Printf("wrote %s\n", attempts)

	title := fmt.Sprintf("EMFI glitch rate (%s tip)", cfg.Probe)
	if htmlHeatmap {
		path := filepath.Join(cfg.OutputDir, fmt.Sprintf("sweep_%s_heatmap.html", campaign.ID()))
		if err := report.SaveHeatmap(path, title, results); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
	}
	if pngHeatmap {
		path := filepath.Join(cfg.OutputDir, fmt.Sprintf("sweep_%s_heatmap.png", campaign.ID()))
		if err := report.SaveHeatmapPNG(path, title, results); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}

func printSummary(results []sweep.PointResult) {
	s := report.Summarize(results, 5)
	fmt.Printf("points=%d attempts=%d glitches=%d errors=%d resets=%d\n",
		s.Points, s.Attempts, s.Glitches, s.Errors, s.Resets)
	fmt.Printf("glitch rate: mean=%.3f stddev=%.3f max=%.3f\n",
		s.MeanGlitchRate, s.StdDevGlitchRate, s.MaxGlitchRate)
	for _, r := range s.Top {
		if r.Glitches == 0 {
			break
		}
		fmt.Printf("  V=%gV PW=%gns D=%gus: %d/%d glitches\n",
			r.Point.Voltage, r.Point.PulseWidth, r.Point.TriggerDelay,
			r.Glitches, r.Total())
	}
}
