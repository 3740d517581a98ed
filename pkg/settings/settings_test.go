package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSettingsDefaults(t *testing.T) {
	s := NewSettings()

	assert.True(t, s.AutoCreateThread)
	assert.True(t, s.Stream)
	assert.Equal(t, DefaultRequestTimeout, s.RequestTimeout)
	assert.Equal(t, DefaultPollInterval, s.PollInterval)
	assert.Equal(t, DefaultPollBudget, s.PollBudget)
}

func TestNewSettingsFromYAML(t *testing.T) {
	doc := `
endpoint_url: http://agent.test
agent_id: agent-1
stream: false
request_timeout: 10s
`
	s, err := NewSettingsFromYAML(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "http://agent.test", s.EndpointURL)
	assert.Equal(t, "agent-1", s.AgentID)
	assert.False(t, s.Stream)
	assert.Equal(t, 10*time.Second, s.RequestTimeout)
	// unset durations keep their defaults
	assert.Equal(t, DefaultPollInterval, s.PollInterval)
	assert.Equal(t, DefaultPollBudget, s.PollBudget)
	require.NoError(t, s.Validate())
}

func TestNewSettingsFromYAMLRejectsGarbage(t *testing.T) {
	_, err := NewSettingsFromYAML(strings.NewReader("{not yaml"))
	require.Error(t, err)
}

func TestValidateRequiresEndpointAndAgent(t *testing.T) {
	s := NewSettings()

	err := s.Validate()
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "endpoint_url", cerr.Field)

	s.EndpointURL = "http://agent.test"
	err = s.Validate()
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "agent_id", cerr.Field)

	s.AgentID = "agent-1"
	require.NoError(t, s.Validate())
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSettings()
	s.EndpointURL = "http://agent.test"

	clone := s.Clone()
	clone.EndpointURL = "http://other.test"

	assert.Equal(t, "http://agent.test", s.EndpointURL)
}
