package channel

import (
	"fmt"
	"net"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Decode copies a loosely typed settings map into out. Numbers given as
// strings and "true"/"false" strings are accepted. Fields of out absent
// from in keep their current values, so callers pre-fill defaults.
func Decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("creating settings decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decoding channel settings: %w", err)
	}
	return nil
}

// Endpoint is a host and port pair from the connection settings.
type Endpoint struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ClientSettings are the connection settings of a client channel.
type ClientSettings struct {
	Endpoint       `mapstructure:",squash"`
	Reconnect      bool `mapstructure:"reconnect"`
	ReconnectDelay int  `mapstructure:"reconnect-delay"`
}

// Client defaults.
const (
	DefaultReconnect      = true
	DefaultReconnectDelay = 5000
)

// ServerSettings are the connection settings of a server channel.
type ServerSettings struct {
	Endpoint `mapstructure:",squash"`
}

// DefaultServerHost is the bind address used when none is configured.
const DefaultServerHost = "0.0.0.0"
