package settings

import (
	"fmt"
	"io"
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultPollBudget     = 5 * time.Minute
)

// ConfigurationError marks a fatal misconfiguration (missing endpoint or
// agent id). It is surfaced immediately and never retried.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Field)
}

// Settings is the recognized configuration surface of the chat client.
type Settings struct {
	// EndpointURL is the base URL of the agent service.
	EndpointURL string `yaml:"endpoint_url"`
	// AgentID selects the remote agent runs are created against.
	AgentID string `yaml:"agent_id"`
	// AutoCreateThread makes the session create a thread on first submit.
	AutoCreateThread bool `yaml:"auto_create_thread"`
	// Stream selects end-to-end streaming; when false the client falls back
	// to polling terminal run status at PollInterval.
	Stream bool `yaml:"stream"`
	// RequestTimeout bounds thread creation and time-to-first-event.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PollInterval is the delay between run status polls in fallback mode.
	PollInterval time.Duration `yaml:"poll_interval"`
	// PollBudget caps the total polling duration in fallback mode.
	PollBudget time.Duration `yaml:"poll_budget"`
}

func NewSettings() *Settings {
	return &Settings{
		AutoCreateThread: true,
		Stream:           true,
		RequestTimeout:   DefaultRequestTimeout,
		PollInterval:     DefaultPollInterval,
		PollBudget:       DefaultPollBudget,
	}
}

// NewSettingsFromYAML reads settings from a YAML document, applying defaults
// for anything left unset.
func NewSettingsFromYAML(r io.Reader) (*Settings, error) {
	ret := NewSettings()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not read settings")
	}
	if err := yaml.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrap(err, "could not parse settings")
	}

	if ret.RequestTimeout <= 0 {
		ret.RequestTimeout = DefaultRequestTimeout
	}
	if ret.PollInterval <= 0 {
		ret.PollInterval = DefaultPollInterval
	}
	if ret.PollBudget <= 0 {
		ret.PollBudget = DefaultPollBudget
	}

	return ret, nil
}

func (s *Settings) Validate() error {
	if s.EndpointURL == "" {
		return &ConfigurationError{Field: "endpoint_url"}
	}
	if s.AgentID == "" {
		return &ConfigurationError{Field: "agent_id"}
	}
	return nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}
