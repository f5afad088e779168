package initialization

import (
	"time"

	"github.com/neurondb/NeuronGateway/internal/logging"
)

/* BootstrapMetrics tracks how long each startup step took */
type BootstrapMetrics struct {
	StartTime       time.Time
	Duration        time.Duration
	Steps           map[string]time.Duration
	TotalSteps      int
	SuccessfulSteps int
	FailedSteps     int
}

func NewBootstrapMetrics() *BootstrapMetrics {
	return &BootstrapMetrics{
		StartTime: time.Now(),
		Steps:     make(map[string]time.Duration),
	}
}

/* Finish records the total bootstrap duration */
func (bm *BootstrapMetrics) Finish() {
	bm.Duration = time.Since(bm.StartTime)
}

/* TrackStep records one step execution */
func (bm *BootstrapMetrics) TrackStep(name string, duration time.Duration, success bool) {
	bm.TotalSteps++
	if success {
		bm.SuccessfulSteps++
	} else {
		bm.FailedSteps++
	}
	bm.Steps[name] = duration
}

func (bm *BootstrapMetrics) LogMetrics(logger *logging.Logger) {
	fields := map[string]interface{}{
		"total_duration":   bm.Duration.String(),
		"total_steps":      bm.TotalSteps,
		"successful_steps": bm.SuccessfulSteps,
		"failed_steps":     bm.FailedSteps,
	}
	for name, d := range bm.Steps {
		fields[name+"_duration"] = d.String()
	}
	logger.Info("Bootstrap metrics", fields)
}
