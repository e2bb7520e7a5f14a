package protocol

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// Ingestor decodes raw control-channel payloads and hands valid
// instructions to a handler. Bad input is logged and dropped.
type Ingestor struct {
	handler func(Instruction)
	filter  func(Instruction) bool
}

// NewIngestor creates an ingestor. filter may be nil.
func NewIngestor(handler func(Instruction), filter func(Instruction) bool) *Ingestor {
	return &Ingestor{handler: handler, filter: filter}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	inst, err := Decode(data)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			log.Info().Str("component", "protocol").Err(err).Msg("ignoring instruction")
		} else {
			log.Debug().Str("component", "protocol").Err(err).Bytes("payload", data).Msg("dropping message")
		}
		return
	}
	if ing.filter != nil && !ing.filter(inst) {
		return
	}
	ing.handler(inst)
}
