// File: internal/bridge/codec.go
package bridge

import (
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/domrelay/api/schemas"
)

// ErrUnsupportedVersion is returned when a message carries a protocol version
// this build does not speak.
var ErrUnsupportedVersion = errors.New("bridge: unsupported protocol version")

var codec = json.ConfigCompatibleWithStandardLibrary

// Encode serializes a message for a wire that carries JSON text.
func Encode(msg schemas.BridgeMessage) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = schemas.ProtocolVersion
	}
	data, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode %s message: %w", msg.Kind, err)
	}
	return data, nil
}

// Decode parses a message and checks its protocol version.
func Decode(data []byte) (schemas.BridgeMessage, error) {
	var msg schemas.BridgeMessage
	if err := codec.Unmarshal(data, &msg); err != nil {
		return schemas.BridgeMessage{}, fmt.Errorf("bridge: decode message: %w", err)
	}
	if msg.Version != schemas.ProtocolVersion {
		return msg, fmt.Errorf("%w: %d", ErrUnsupportedVersion, msg.Version)
	}
	return msg, nil
}
