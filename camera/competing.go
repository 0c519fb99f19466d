package camera

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// CompetingService makes a best-effort, unprivileged attempt to stop another
// camera consumer (RPi Cam Web Interface). Nothing here guarantees the camera
// is actually free afterwards; every failure is logged and ignored.
type CompetingService struct {
	StopScripts  []string
	ProcessNames []string
	Timeout      time.Duration

	logger zerolog.Logger
	run    func(ctx context.Context, name string, args ...string) error
}

// NewCompetingService returns a stopper for the given scripts and process names.
func NewCompetingService(scripts, names []string, logger zerolog.Logger) *CompetingService {
	return &CompetingService{
		StopScripts:  scripts,
		ProcessNames: names,
		Timeout:      10 * time.Second,
		logger:       logger,
		run:          runQuiet,
	}
}

func runQuiet(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Deactivate runs every stop script that exists, then pkills each known
// process name.
func (c *CompetingService) Deactivate(ctx context.Context) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	for _, script := range c.StopScripts {
		if _, err := os.Stat(script); err != nil {
			continue
		}
		if err := c.run(ctx, script); err != nil {
			c.logger.Debug().Err(err).Str("script", script).Msg("stop script failed")
		}
	}

	pkill, err := exec.LookPath("pkill")
	if err != nil {
		pkill = "/usr/bin/pkill"
	}
	for _, name := range c.ProcessNames {
		// pkill exits 1 when nothing matched, which is the common case.
		if err := c.run(ctx, pkill, "-f", name); err != nil {
			c.logger.Debug().Err(err).Str("process", name).Msg("pkill returned error")
		}
	}
	c.logger.Info().Msg("RPi Cam Web Interface stop attempted (stop.sh/pkill)")
}
