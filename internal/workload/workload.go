// Package workload provides the demo tasks run by the ensemble executable.
//
// Each workload announces its start, waits for a fixed delay standing in for real work, and
// announces its completion. Cooperative workloads stop waiting as soon as their run is cancelled.
package workload

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sharnoff/ensemble"
)

// Kind identifies one of the demo workloads.
type Kind string

const (
	ConfigurationUpdates  Kind = "configuration-updates"
	ResourceMetricsReport Kind = "resource-metrics-report"
	ScanFiles             Kind = "scan-files"
)

// Kinds returns every Kind, in the order they are run.
func Kinds() []Kind {
	return []Kind{ConfigurationUpdates, ResourceMetricsReport, ScanFiles}
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown workload %q", s)
}

// Title is the human-readable name of the workload, as used in log messages.
func (k Kind) Title() string {
	switch k {
	case ConfigurationUpdates:
		return "Configuration updates"
	case ResourceMetricsReport:
		return "Resource metrics report"
	case ScanFiles:
		return "Scan files"
	default:
		return string(k)
	}
}

// Spec describes a single workload instance.
type Spec struct {
	Kind        Kind
	ID          int
	Delay       time.Duration
	Cooperative bool
}

// Task builds the task for s, logging to log.
func (s Spec) Task(log *slog.Logger) ensemble.Task {
	log = log.With(slog.String("workload", string(s.Kind)), slog.Int("task_id", s.ID))
	prefix := fmt.Sprintf("%s task %d", s.Kind.Title(), s.ID)

	if !s.Cooperative {
		return ensemble.Task{
			Name: string(s.Kind),
			Run: ensemble.Detached(func() error {
				log.Info(prefix + " started.")
				time.Sleep(s.Delay)
				log.Info(prefix + " completed.")
				return nil
			}),
		}
	}

	return ensemble.Task{
		Name: string(s.Kind),
		Run: func(l ensemble.Listener) error {
			log.Info(prefix + " started.")

			timer := time.NewTimer(s.Delay)
			defer timer.Stop()

			select {
			case <-l.Done():
				log.Info(prefix + " was canceled.")
			case <-timer.C:
				log.Info(prefix + " completed.")
			}
			return nil
		},
	}
}

// Tasks builds one task per Kind, numbered from 1, each waiting for delay. Kinds listed in
// cooperative observe cancellation.
func Tasks(log *slog.Logger, delay time.Duration, cooperative []Kind) []ensemble.Task {
	var tasks []ensemble.Task
	for i, k := range Kinds() {
		w := Spec{Kind: k, ID: i + 1, Delay: delay}
		for _, c := range cooperative {
			if c == k {
				w.Cooperative = true
			}
		}
		tasks = append(tasks, w.Task(log))
	}
	return tasks
}
