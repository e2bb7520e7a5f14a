package protocol

import (
	"fmt"
	"strings"
)

// Handshake message tags on the connection topic.
const (
	TagInit  = "init_con"
	TagOK    = "con_ok"
	TagClose = "close_con"
)

// HandshakeKind identifies a connection-topic message.
type HandshakeKind int

const (
	HandshakeInit HandshakeKind = iota + 1
	HandshakeOK
	HandshakeClose
)

func (k HandshakeKind) String() string {
	switch k {
	case HandshakeInit:
		return TagInit
	case HandshakeOK:
		return TagOK
	case HandshakeClose:
		return TagClose
	}
	return "unknown"
}

// Handshake is a parsed connection-topic message. For init and close, ID is
// the sender. For con_ok, Target is the id being answered and ID the sender.
type Handshake struct {
	Kind   HandshakeKind
	ID     string
	Target string
}

// InitMessage announces id as looking for a peer.
func InitMessage(id string) string { return TagInit + ":" + id }

// OKMessage answers target on behalf of sender.
func OKMessage(target, sender string) string { return TagOK + ":" + target + ":" + sender }

// CloseMessage announces that id is leaving.
func CloseMessage(id string) string { return TagClose + ":" + id }

// ParseHandshake parses a connection-topic payload.
func ParseHandshake(payload string) (Handshake, error) {
	tag, rest, ok := strings.Cut(payload, ":")
	if !ok {
		return Handshake{}, fmt.Errorf("%w: handshake %q", ErrMalformed, payload)
	}
	switch tag {
	case TagInit, TagClose:
		if !validID(rest) {
			return Handshake{}, fmt.Errorf("%w: handshake %q", ErrMalformed, payload)
		}
		kind := HandshakeInit
		if tag == TagClose {
			kind = HandshakeClose
		}
		return Handshake{Kind: kind, ID: rest}, nil
	case TagOK:
		target, sender, ok := strings.Cut(rest, ":")
		if !ok || !validID(target) || !validID(sender) {
			return Handshake{}, fmt.Errorf("%w: handshake %q", ErrMalformed, payload)
		}
		return Handshake{Kind: HandshakeOK, ID: sender, Target: target}, nil
	}
	return Handshake{}, fmt.Errorf("%w: handshake tag %q", ErrUnknownCommand, tag)
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ": \t\r\n")
}
