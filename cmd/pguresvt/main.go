package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ericpre/pgure-svt/internal/logger"
	"github.com/ericpre/pgure-svt/pkg/config"
	"github.com/ericpre/pgure-svt/pkg/denoise"
	"github.com/ericpre/pgure-svt/pkg/imageio"
	"github.com/ericpre/pgure-svt/pkg/noise"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing the noisy image sequence")
	outputDir := flag.String("output", "denoised", "Directory to write the denoised sequence")
	configPath := flag.String("config", "pguresvt.yaml", "Path to the YAML parameter file")
	writeConfig := flag.Bool("write-config", false, "Write the default parameter file and exit")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: config value)")
	simulate := flag.Bool("simulate", false, "Corrupt the input with the configured noise model instead of denoising")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := logger.NewConsole(level)

	if *writeConfig {
		if err := config.CreateDefaultFile(*configPath); err != nil {
			log.Fatal().Err(err).Msg("failed to write default config")
		}
		fmt.Printf("Default parameters written to %s\n", *configPath)
		return
	}

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *numCores > 0 {
		cfg.NumCores = *numCores
	}

	log.Info().Str("input", *inputDir).Msg("loading sequence")
	seq, err := imageio.LoadSequence(*inputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load sequence")
	}
	log.Info().
		Int("width", seq.Width).
		Int("height", seq.Height).
		Int("frames", seq.Frames).
		Msg("sequence loaded")

	if *simulate {
		gen := noise.Generator{
			Alpha: cfg.NoiseAlpha,
			Mu:    cfg.NoiseMu,
			Sigma: cfg.NoiseSigma,
			Seed:  cfg.RandomSeed,
		}
		corrupted, err := gen.Corrupt(seq)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to corrupt sequence")
		}
		if err := imageio.SaveSequence(corrupted, *outputDir); err != nil {
			log.Fatal().Err(err).Msg("failed to save corrupted sequence")
		}
		fmt.Printf("Corrupted sequence saved to %s\n", *outputDir)
		return
	}

	started := time.Now()
	out, err := denoise.New(cfg, log).Process(seq)
	if err != nil {
		log.Fatal().Err(err).Msg("denoising failed")
	}
	log.Info().Dur("took", time.Since(started)).Msg("denoising complete")

	if err := imageio.SaveSequence(out, *outputDir); err != nil {
		log.Fatal().Err(err).Msg("failed to save denoised sequence")
	}
	fmt.Printf("Denoised sequence saved to %s\n", *outputDir)
}
