package policy

import "time"

// ObservationKind distinguishes the observation variants.
type ObservationKind string

const (
	// KindProcess is a process creation.
	KindProcess ObservationKind = "process"
	// KindFile is a file-system operation.
	KindFile ObservationKind = "file"
	// KindURL is a network destination.
	KindURL ObservationKind = "url"
)

// Observation is an ephemeral record emitted by a monitor.
// Observations are never persisted.
type Observation interface {
	Kind() ObservationKind
}

// ProcessObservation describes a newly created process.
type ProcessObservation struct {
	PID            int
	Name           string
	ExecutablePath string
	CommandLine    string
	User           string
	DetectedAt     time.Time

	// Optional values precomputed by the monitor. When empty the
	// Enforcer asks its FileInspector on demand.
	FileHash  string
	Publisher string
	// Signed is nil when the monitor did not check the signature.
	Signed *bool
	// IsInstaller is set by installer detection before evaluation.
	IsInstaller bool
}

// Kind implements Observation.
func (ProcessObservation) Kind() ObservationKind { return KindProcess }

// FileOperation is the kind of change a file monitor saw.
type FileOperation string

const (
	FileCreate FileOperation = "Create"
	FileModify FileOperation = "Modify"
	FileDelete FileOperation = "Delete"
	FileRename FileOperation = "Rename"
)

// FileObservation describes a file-system operation.
type FileObservation struct {
	Path       string
	Operation  FileOperation
	DetectedAt time.Time
}

// Kind implements Observation.
func (FileObservation) Kind() ObservationKind { return KindFile }

// Name returns the base name of the observed file.
func (o FileObservation) Name() string {
	return BaseName(o.Path)
}

// URLObservation is a raw network destination as seen by a monitor.
type URLObservation struct {
	Raw        string
	DetectedAt time.Time
}

// Kind implements Observation.
func (URLObservation) Kind() ObservationKind { return KindURL }
