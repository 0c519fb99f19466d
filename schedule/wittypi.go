package schedule

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"pict-recorder/metrics"
)

var nextShutdownRe = regexp.MustCompile(`Next shutdown at:\s*([0-9-]+\s+[0-9:]+)`)

// ParseNextShutdown extracts the "Next shutdown at: YYYY-MM-DD HH:MM:SS"
// timestamp from runScript.sh output, interpreted in loc.
func ParseNextShutdown(output string, loc *time.Location) (time.Time, bool) {
	m := nextShutdownRe.FindStringSubmatch(output)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(time.DateTime, m[1], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// WittyPiOracle runs the Witty Pi runScript.sh and reads the next shutdown
// from its output.
type WittyPiOracle struct {
	Dirs     []string
	Location *time.Location
	Timeout  time.Duration

	logger zerolog.Logger
	run    func(ctx context.Context, script string) ([]byte, error)
}

// NewWittyPiOracle returns an oracle searching dirs, in order, for runScript.sh.
func NewWittyPiOracle(dirs []string, logger zerolog.Logger) *WittyPiOracle {
	return &WittyPiOracle{
		Dirs:     dirs,
		Location: time.Local,
		Timeout:  30 * time.Second,
		logger:   logger,
		run:      runBash,
	}
}

func runBash(ctx context.Context, script string) ([]byte, error) {
	return exec.CommandContext(ctx, "bash", script).CombinedOutput()
}

// RunScript returns the first existing runScript.sh, or "" if none exists.
func (o *WittyPiOracle) RunScript() string {
	return findExisting(o.Dirs, "runScript.sh")
}

// Dir returns the first existing Witty Pi directory, or "".
func (o *WittyPiOracle) Dir() string {
	for _, d := range o.Dirs {
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			return d
		}
	}
	return ""
}

// NextShutdown never returns an error for a missing script, a failing
// script or unparsable output; each of those means "no schedule".
func (o *WittyPiOracle) NextShutdown(ctx context.Context) (*time.Time, error) {
	script := o.RunScript()
	if script == "" {
		metrics.SchedulePolls.WithLabelValues("no_script").Inc()
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	out, err := o.run(ctx, script)
	if err != nil {
		metrics.SchedulePolls.WithLabelValues("script_error").Inc()
		o.logger.Warn().Err(err).Str("script", script).Msg("runScript.sh error")
		return nil, nil
	}

	loc := o.Location
	if loc == nil {
		loc = time.Local
	}
	t, ok := ParseNextShutdown(string(out), loc)
	if !ok {
		metrics.SchedulePolls.WithLabelValues("no_shutdown").Inc()
		return nil, nil
	}
	metrics.SchedulePolls.WithLabelValues("ok").Inc()
	return &t, nil
}

func findExisting(dirs []string, name string) string {
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// String describes the oracle for the config page.
func (o *WittyPiOracle) String() string {
	if dir := o.Dir(); dir != "" {
		return dir
	}
	return fmt.Sprintf("(not found in %v)", o.Dirs)
}
