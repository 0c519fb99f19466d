// Command schedulecheck asks the Witty Pi scripts for the next shutdown and
// prints the recording window the recorder would use.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"pict-recorder/config"
	"pict-recorder/logging"
	"pict-recorder/schedule"
)

func main() {
	_ = godotenv.Load()
	logging.Configure(logging.Config{Level: "debug", Output: zerolog.ConsoleWriter{Out: os.Stderr}, Service: "pict-schedulecheck"})
	logger := logging.WithComponent("schedulecheck")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	oracle := schedule.NewWittyPiOracle(cfg.WittyPiDirs, logger)
	fmt.Printf("wittypi dir:   %s\n", oracle)
	fmt.Printf("schedule file: %s\n", schedule.SchedulePath(cfg.WittyPiDirs))

	src := schedule.External{Oracle: oracle, SafetyMargin: cfg.SafetyMargin(), GuardBand: cfg.GuardBand()}
	now := time.Now()
	win, err := src.Next(context.Background(), now)
	if err != nil {
		fmt.Printf("no recording window: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("next shutdown: %s\n", win.NextShutdown.Format("2006-01-02 15:04:05"))
	fmt.Printf("stop at:       %s (in %s)\n", win.StopAt.Format("2006-01-02 15:04:05"), win.StopAt.Sub(now).Round(time.Second))
}
