package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-agent/internal/service"
)

// maxBodyBytes bounds request bodies on the status listener.
const maxBodyBytes = 1 << 20

var errInvalidObservation = errors.New("invalid observation")

// ObservationSink accepts observations from monitors. *service.Agent
// implements it.
type ObservationSink interface {
	Submit(obs policy.Observation) error
}

type processObservationDTO struct {
	PID            int        `json:"pid"`
	Name           string     `json:"name"`
	ExecutablePath string     `json:"executablePath"`
	CommandLine    string     `json:"commandLine"`
	User           string     `json:"user"`
	DetectedAt     *time.Time `json:"detectedAt,omitempty"`
	FileHash       string     `json:"fileHash,omitempty"`
	Publisher      string     `json:"publisher,omitempty"`
	Signed         *bool      `json:"signed,omitempty"`
	IsInstaller    bool       `json:"isInstaller,omitempty"`
}

type fileObservationDTO struct {
	Path       string     `json:"path"`
	Operation  string     `json:"operation"`
	DetectedAt *time.Time `json:"detectedAt,omitempty"`
}

type urlObservationDTO struct {
	URL        string     `json:"url"`
	DetectedAt *time.Time `json:"detectedAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (d processObservationDTO) toObservation() (policy.Observation, error) {
	if strings.TrimSpace(d.Name) == "" && strings.TrimSpace(d.ExecutablePath) == "" {
		return nil, fmt.Errorf("%w: name or executablePath is required", errInvalidObservation)
	}
	if d.PID < 0 {
		return nil, fmt.Errorf("%w: pid must not be negative", errInvalidObservation)
	}
	name := d.Name
	if name == "" {
		name = policy.BaseName(d.ExecutablePath)
	}
	return policy.ProcessObservation{
		PID:            d.PID,
		Name:           name,
		ExecutablePath: d.ExecutablePath,
		CommandLine:    d.CommandLine,
		User:           d.User,
		DetectedAt:     timeOrZero(d.DetectedAt),
		FileHash:       d.FileHash,
		Publisher:      d.Publisher,
		Signed:         d.Signed,
		IsInstaller:    d.IsInstaller,
	}, nil
}

var fileOperations = map[string]policy.FileOperation{
	"create": policy.FileCreate,
	"modify": policy.FileModify,
	"delete": policy.FileDelete,
	"rename": policy.FileRename,
}

func (d fileObservationDTO) toObservation() (policy.Observation, error) {
	if strings.TrimSpace(d.Path) == "" {
		return nil, fmt.Errorf("%w: path is required", errInvalidObservation)
	}
	op, ok := fileOperations[strings.ToLower(d.Operation)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", errInvalidObservation, d.Operation)
	}
	return policy.FileObservation{
		Path:       d.Path,
		Operation:  op,
		DetectedAt: timeOrZero(d.DetectedAt),
	}, nil
}

func (d urlObservationDTO) toObservation() (policy.Observation, error) {
	if strings.TrimSpace(d.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", errInvalidObservation)
	}
	return policy.URLObservation{
		Raw:        d.URL,
		DetectedAt: timeOrZero(d.DetectedAt),
	}, nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// observationHandler decodes a DTO of type T and submits it to sink.
func observationHandler[T interface {
	toObservation() (policy.Observation, error)
}](kind policy.ObservationKind, sink ObservationSink, metrics *Metrics) http.Handler {
	count := func(status string) {
		if metrics != nil {
			metrics.ObservationsTotal.WithLabelValues(string(kind), status).Inc()
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dto T
		if err := decodeJSON(w, r, &dto); err != nil {
			count("rejected")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		obs, err := dto.toObservation()
		if err != nil {
			count("rejected")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		if err := sink.Submit(obs); err != nil {
			if errors.Is(err, service.ErrObservationQueueFull) {
				count("queue_full")
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
				return
			}
			count("rejected")
			LoggerFromContext(r.Context()).Error("failed to submit observation", "kind", kind, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "observation not accepted"})
			return
		}

		count("accepted")
		w.WriteHeader(http.StatusAccepted)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ ObservationSink = (*service.Agent)(nil)

var (
	_ SyncStatus     = (*service.SyncCoordinator)(nil)
	_ Blocklist      = (*service.SyncCoordinator)(nil)
	_ DecisionTotals = (*service.DecisionStats)(nil)
)
