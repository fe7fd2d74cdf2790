package sockio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

//engine.io (protocol 3) packet types
const (
	EngineOpen    = '0'
	EngineClose   = '1'
	EnginePing    = '2'
	EnginePong    = '3'
	EngineMessage = '4'
	EngineUpgrade = '5'
	EngineNoop    = '6'
)

//socket.io (protocol 4) packet types, carried in engine.io messages
const (
	SocketConnect = iota
	SocketDisconnect
	SocketEvent
	SocketAck
	SocketError
	SocketBinaryEvent
	SocketBinaryAck
)

var (
	ErrEmptyPacket   = errors.New("empty packet")
	ErrUnknownPacket = errors.New("unknown packet type")
	ErrNotAnEvent    = errors.New("packet is not an event")
)

//OpenPayload is the handshake sent by the server in the engine.io open packet
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
}

//Packet is a socket.io packet
type Packet struct {
	Type      int
	Namespace string
	ID        int //ack id, -1 when absent
	Data      json.RawMessage
}

//DecodeEngine splits an engine.io text frame into its type and payload
func DecodeEngine(frame string) (byte, string, error) {
	if frame == "" {
		return 0, "", ErrEmptyPacket
	}
	t := frame[0]
	if t < EngineOpen || t > EngineNoop {
		return 0, "", fmt.Errorf("%w: %q", ErrUnknownPacket, t)
	}
	return t, frame[1:], nil
}

//DecodePacket parses the payload of an engine.io message into a socket.io packet
func DecodePacket(payload string) (Packet, error) {
	p := Packet{ID: -1}
	if payload == "" {
		return p, ErrEmptyPacket
	}
	t := int(payload[0] - '0')
	if t < SocketConnect || t > SocketBinaryAck {
		return p, fmt.Errorf("%w: %q", ErrUnknownPacket, payload[0])
	}
	p.Type = t
	rest := payload[1:]

	//binary packets carry an attachment count followed by '-'
	if t == SocketBinaryEvent || t == SocketBinaryAck {
		if i := strings.IndexByte(rest, '-'); i >= 0 {
			rest = rest[i+1:]
		}
	}

	if strings.HasPrefix(rest, "/") {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			p.Namespace = rest[:i]
			rest = rest[i+1:]
		} else {
			p.Namespace = rest
			rest = ""
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return p, err
		}
		p.ID = id
		rest = rest[i:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return p, fmt.Errorf("invalid packet data: %s", rest)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

//Event returns the event name and arguments of an event packet
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != SocketEvent && p.Type != SocketBinaryEvent {
		return "", nil, ErrNotAnEvent
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(p.Data, &arr); err != nil {
		return "", nil, err
	}
	if len(arr) == 0 {
		return "", nil, ErrNotAnEvent
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return "", nil, err
	}
	return name, arr[1:], nil
}

//EncodeEvent builds the engine.io frame emitting event with args
func EncodeEvent(namespace, event string, args ...interface{}) (string, error) {
	arr := make([]interface{}, 0, len(args)+1)
	arr = append(arr, event)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte(EngineMessage)
	b.WriteByte(byte('0' + SocketEvent))
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
	b.Write(data)
	return b.String(), nil
}
