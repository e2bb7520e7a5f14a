package protocol

import (
	"encoding/json"
	"fmt"
)

// StatusReport is the periodic robot -> controller status message.
type StatusReport struct {
	Mode      string `json:"mode"`
	RoamState string `json:"roam_state"`
	UptimeS   int64  `json:"uptime_s"`
}

// Encode marshals the report in the instruction envelope shape.
func (r StatusReport) Encode() ([]byte, error) {
	return json.Marshal(wireMessage{Command: CommandStatus, Metadata: r})
}

// DecodeReport parses a status message.
func DecodeReport(data []byte) (StatusReport, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return StatusReport{}, err
	}
	if hdr.Command != CommandStatus {
		return StatusReport{}, fmt.Errorf("%w: %q", ErrUnknownCommand, hdr.Command)
	}
	return decodeMetadata[StatusReport](hdr)
}
