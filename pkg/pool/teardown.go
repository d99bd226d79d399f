package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
)

// Stage is a step of tearing a preview server down
type Stage int

const (
	// StageGraceful asks the process to exit
	StageGraceful Stage = iota
	// StageForceKill kills the process through its handle
	StageForceKill
	// StageOSKill kills the process by pid with an OS command
	StageOSKill
	// StageRemoved drops the entry from the registry
	StageRemoved
)

func (s Stage) String() string {
	switch s {
	case StageGraceful:
		return "graceful"
	case StageForceKill:
		return "force_kill"
	case StageOSKill:
		return "os_kill"
	case StageRemoved:
		return "removed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// TeardownReport records what Release had to do
type TeardownReport struct {
	Key    string  `json:"key"`
	PID    int     `json:"pid"`
	Found  bool    `json:"found"`
	Stages []Stage `json:"stages"`
	// Exited is false when the process was still alive after every stage
	Exited   bool          `json:"exited"`
	Duration time.Duration `json:"duration"`
}

// Last returns the final stage that ran
func (r TeardownReport) Last() Stage {
	if len(r.Stages) == 0 {
		return StageRemoved
	}
	return r.Stages[len(r.Stages)-1]
}

// Escalated reports whether teardown needed more than the graceful request
func (r TeardownReport) Escalated() bool {
	for _, s := range r.Stages {
		if s == StageForceKill || s == StageOSKill {
			return true
		}
	}
	return false
}

// teardown walks the stages until the process is gone. The entry must
// already be claimed. ctx cancellation skips the remaining waits but not the
// kills.
func (p *Pool) teardown(ctx context.Context, info *ServerInfo) TeardownReport {
	logger := log.WithDocument(info.Key).With().Int("pid", info.PID).Logger()
	timer := metrics.NewTimer()

	report := TeardownReport{Key: info.Key, PID: info.PID, Found: true}
	enter := func(s Stage) {
		report.Stages = append(report.Stages, s)
		metrics.TeardownStagesTotal.WithLabelValues(s.String()).Inc()
	}

	stage := StageGraceful
	if !info.Alive() {
		stage = StageRemoved
	}

	for stage != StageRemoved {
		enter(stage)
		switch stage {
		case StageGraceful:
			if err := signalGraceful(info.cmd.Process); err != nil {
				logger.Debug().Err(err).Msg("Graceful stop not delivered")
				stage = StageForceKill
				continue
			}
			if info.waitExit(p.cfg.GracefulTimeout, ctx.Done()) {
				stage = StageRemoved
				continue
			}
			stage = StageForceKill

		case StageForceKill:
			if err := info.cmd.Process.Kill(); err != nil {
				logger.Debug().Err(err).Msg("Kill through process handle failed")
			}
			if info.waitExit(p.cfg.ForceKillTimeout, ctx.Done()) {
				stage = StageRemoved
				continue
			}
			stage = StageOSKill

		case StageOSKill:
			cmd := osKillCommand(info.PID)
			if out, err := cmd.CombinedOutput(); err != nil {
				logger.Warn().Err(err).Str("output", string(out)).Msg("OS kill command failed")
			}
			info.waitExit(p.cfg.ForceKillTimeout, ctx.Done())
			stage = StageRemoved
		}
	}

	enter(StageRemoved)
	report.Exited = !info.Alive()
	report.Duration = timer.Duration()

	if !report.Exited {
		logger.Error().
			Str("stages", fmt.Sprint(report.Stages)).
			Msg("Preview server survived teardown, entry removed anyway")
	} else if report.Escalated() {
		logger.Warn().
			Stringer("last", report.Stages[len(report.Stages)-2]).
			Dur("duration", report.Duration).
			Msg("Preview server needed escalation to stop")
	} else {
		logger.Debug().Dur("duration", report.Duration).Msg("Preview server stopped")
	}

	return report
}
