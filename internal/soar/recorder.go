package soar

import "time"

// Recorder receives engine measurements. *metrics.Metrics implements it.
type Recorder interface {
	AlertProcessed(outcome string)
	StepFinished(action, status string, d time.Duration)
	ExecutionFinished(playbook, status string, d time.Duration)
	Escalated(playbook string)
}

type nopRecorder struct{}

func (nopRecorder) AlertProcessed(string)                           {}
func (nopRecorder) StepFinished(string, string, time.Duration)      {}
func (nopRecorder) ExecutionFinished(string, string, time.Duration) {}
func (nopRecorder) Escalated(string)                                {}
