package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/af-corp/wall-e/internal/providers"
)

// ErrBodyTooLarge is wrapped in a GatewayError when the relay body exceeds the
// read limit. A truncated stream is never folded.
var ErrBodyTooLarge = errors.New("relay body too large")

// GatewayError reports a relay call that failed at the transport level,
// returned a non-2xx status, or returned a body with no decodable events.
// Params holds the candidate requests with credentials removed.
type GatewayError struct {
	Status int
	Body   string
	Params []providers.Request
	Err    error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("relay request failed: %v", e.Err)
	case e.Status >= 200 && e.Status < 300:
		return fmt.Sprintf("relay returned no decodable events (status %d): %s", e.Status, truncate(e.Body, 500))
	default:
		return fmt.Sprintf("relay returned status %d: %s", e.Status, truncate(e.Body, 500))
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ParamsJSON renders the redacted candidate list for debug output.
func (e *GatewayError) ParamsJSON() string {
	data, err := json.MarshalIndent(e.Params, "", "  ")
	if err != nil {
		return fmt.Sprintf("<unrenderable params: %v>", err)
	}
	return string(data)
}
