package domain

import (
	"fmt"
	"slices"
	"strings"
)

// ChannelMode tells whether a channel accepts connections or opens them.
type ChannelMode string

const (
	ModeServer ChannelMode = "SERVER"
	ModeClient ChannelMode = "CLIENT"
)

// ParseChannelMode accepts the mode in any letter case.
func ParseChannelMode(s string) (ChannelMode, error) {
	m := ChannelMode(strings.ToUpper(s))
	if m != ModeServer && m != ModeClient {
		return "", fmt.Errorf("unknown channel mode %q", s)
	}
	return m, nil
}

// ChannelProtocol identifies a channel implementation.
type ChannelProtocol string

const (
	ChannelHTTP  ChannelProtocol = "http"
	ChannelSIP   ChannelProtocol = "sip"
	ChannelESL   ChannelProtocol = "esl"
	ChannelKafka ChannelProtocol = "kafka"
)

// ChannelProtocols lists every channel implementation.
var ChannelProtocols = []ChannelProtocol{ChannelHTTP, ChannelSIP, ChannelESL, ChannelKafka}

// ParseChannelProtocol returns the channel protocol named s.
func ParseChannelProtocol(s string) (ChannelProtocol, error) {
	p := ChannelProtocol(strings.ToLower(s))
	if !slices.Contains(ChannelProtocols, p) {
		return "", &UnknownProtocolError{Protocol: s}
	}
	return p, nil
}

// ChannelStatus is the lifecycle state of a channel.
type ChannelStatus string

const (
	ChannelStopped  ChannelStatus = "STOPPED"
	ChannelStarting ChannelStatus = "STARTING"
	ChannelRunning  ChannelStatus = "RUNNING"
	ChannelStopping ChannelStatus = "STOPPING"
	ChannelError    ChannelStatus = "ERROR"
)

// ChannelStatuses lists every channel status.
var ChannelStatuses = []ChannelStatus{ChannelStopped, ChannelStarting, ChannelRunning, ChannelStopping, ChannelError}

// ChannelEvent drives a channel status transition.
type ChannelEvent string

const (
	ChannelEventStart   ChannelEvent = "start"
	ChannelEventStarted ChannelEvent = "started"
	ChannelEventFail    ChannelEvent = "fail"
	ChannelEventStop    ChannelEvent = "stop"
	ChannelEventStopped ChannelEvent = "stopped"
)

// ChannelTransitions defines the legal channel lifecycle. A channel in
// ERROR can only be replaced, never restarted in place.
var ChannelTransitions = []Transition[ChannelStatus, ChannelEvent]{
	{Event: ChannelEventStart, Src: ChannelStopped, Dst: ChannelStarting},
	{Event: ChannelEventStarted, Src: ChannelStarting, Dst: ChannelRunning},
	{Event: ChannelEventFail, Src: ChannelStarting, Dst: ChannelError},
	{Event: ChannelEventFail, Src: ChannelRunning, Dst: ChannelError},
	{Event: ChannelEventFail, Src: ChannelStopping, Dst: ChannelError},
	{Event: ChannelEventStop, Src: ChannelRunning, Dst: ChannelStopping},
	{Event: ChannelEventStopped, Src: ChannelStopping, Dst: ChannelStopped},
}

// ChannelConfig describes one channel owned by a tenant profile.
type ChannelConfig struct {
	Name             string
	Tenant           string
	Profile          string
	Mode             ChannelMode
	Protocol         ChannelProtocol
	Enabled          bool
	PipelineName     string
	Async            bool
	Connection       map[string]any
	ProtocolSpecific map[string]any
}

// NewChannelConfig returns a config with the documented defaults: enabled,
// asynchronous, and empty connection settings.
func NewChannelConfig(name string, mode ChannelMode, protocol ChannelProtocol) ChannelConfig {
	return ChannelConfig{
		Name:             name,
		Mode:             mode,
		Protocol:         protocol,
		Enabled:          true,
		Async:            true,
		Connection:       make(map[string]any),
		ProtocolSpecific: make(map[string]any),
	}
}
