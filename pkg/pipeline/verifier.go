package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/sealpost/sealpost-cli/agent"
	"github.com/sealpost/sealpost-cli/pkg/logging"
)

// credentialDescriptor is the decoded form of the agent's transport payload.
type credentialDescriptor struct {
	Serial  string `json:"serial"`
	Subject string `json:"subject,omitempty"`
	Issuer  string `json:"issuer,omitempty"`
}

// TokenVerifier checks that the active hardware credential belongs to the
// authenticated operator.
type TokenVerifier struct {
	agent  agent.Client
	group  singleflight.Group
	logger logging.Logger
}

// NewTokenVerifier creates a verifier over the given agent client.
func NewTokenVerifier(agentClient agent.Client, logger logging.Logger) *TokenVerifier {
	return &TokenVerifier{
		agent:  agentClient,
		logger: logger.With(logging.F("component", "token_verifier")),
	}
}

// Verify retrieves the credential descriptor from the local agent, decodes it
// and compares its serial number (case-sensitively) to expectedSerial.
//
// Concurrent calls are deduplicated: a second call while a descriptor request
// is outstanding waits on the first request's result instead of issuing a
// duplicate. Every failure is terminal for the current submission.
func (v *TokenVerifier) Verify(ctx context.Context, expectedSerial string) error {
	raw, err, shared := v.group.Do("credential-descriptor", func() (interface{}, error) {
		return v.agent.Descriptor(ctx)
	})
	if shared {
		v.logger.Debug("descriptor request coalesced with an in-flight call")
	}
	if err != nil {
		return &IdentityError{Code: IdentityAgentUnreachable, Cause: err}
	}

	payload := raw.([]byte)
	if len(payload) == 0 {
		return &IdentityError{Code: IdentityNoAgent}
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(payload)))
	if err != nil {
		return &IdentityError{Code: IdentityAgentUnreachable, Cause: err}
	}

	var desc credentialDescriptor
	if err := json.Unmarshal(decoded, &desc); err != nil {
		return &IdentityError{Code: IdentityAgentUnreachable, Cause: err}
	}
	if desc.Serial == "" {
		return &IdentityError{Code: IdentityNoAgent}
	}

	if desc.Serial != expectedSerial {
		v.logger.Warn("token serial mismatch",
			logging.F("expected", expectedSerial),
			logging.F("actual", desc.Serial))
		return &IdentityError{
			Code:     IdentitySerialMismatch,
			Expected: expectedSerial,
			Actual:   desc.Serial,
		}
	}

	v.logger.Debug("token identity verified", logging.F("serial", desc.Serial))
	return nil
}
