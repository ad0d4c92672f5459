// Package telemetry decodes the boat's binary telemetry, frames it for the
// serial link and converts it to estimator observations.
package telemetry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrBadFrame is returned for a link line that is not a well-formed frame.
var ErrBadFrame = errors.New("bad frame")

// Channel names one logical stream on the link.
type Channel string

const (
	ChannelDebug     Channel = "debug"
	ChannelStatus    Channel = "status"
	ChannelCmd       Channel = "cmd"
	ChannelCoords    Channel = "coords"
	ChannelTelemetry Channel = "telemetry"
	ChannelKalman    Channel = "kalman"
)

// channelUUIDs are the GATT characteristic UUIDs the firmware exposes for
// each channel over BLE. Bridges that forward BLE notifications onto the
// serial link may prefix frames with the UUID instead of the name.
var channelUUIDs = map[Channel]uuid.UUID{
	ChannelDebug:     uuid.MustParse("45c1eda2-4473-42a3-8143-dc79c30a64bf"),
	ChannelStatus:    uuid.MustParse("6f04c0a3-f201-4091-a13d-5ecafc3dc54b"),
	ChannelCmd:       uuid.MustParse("05c6cc87-7888-4588-b794-92bdf9a29330"),
	ChannelCoords:    uuid.MustParse("3794c841-1b53-4029-aebb-12319386fd28"),
	ChannelTelemetry: uuid.MustParse("ccc03716-4f66-4cb8-b6fd-9b2278587add"),
	ChannelKalman:    uuid.MustParse("933963ae-cc8e-4704-bd3c-dc53721ba956"),
}

// UUID returns the BLE characteristic UUID for c, or uuid.Nil.
func (c Channel) UUID() uuid.UUID {
	return channelUUIDs[c]
}

// Binary reports whether the channel carries hex-encoded binary payloads.
func (c Channel) Binary() bool {
	switch c {
	case ChannelStatus, ChannelCoords, ChannelTelemetry, ChannelKalman:
		return true
	}
	return false
}

// ParseChannel accepts a channel name or its characteristic UUID.
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	for c := range channelUUIDs {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	if id, err := uuid.Parse(s); err == nil {
		for c, cid := range channelUUIDs {
			if cid == id {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("%w: unknown channel %q", ErrBadFrame, s)
}

// Frame is one line on the link: `<channel>:<payload>`.
type Frame struct {
	Channel Channel
	Payload []byte
}

// ParseFrame splits and decodes a link line. Binary channels carry hex;
// text channels carry the payload verbatim.
func ParseFrame(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	name, payload, ok := strings.Cut(line, ":")
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing channel separator in %q", ErrBadFrame, line)
	}
	// UUIDs contain no colons, so the first ':' always ends the channel.
	ch, err := ParseChannel(name)
	if err != nil {
		return Frame{}, err
	}
	if !ch.Binary() {
		return Frame{Channel: ch, Payload: []byte(payload)}, nil
	}
	data, err := hex.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %s payload: %v", ErrBadFrame, ch, err)
	}
	return Frame{Channel: ch, Payload: data}, nil
}

// EncodeFrame renders f as a link line without the trailing newline.
func EncodeFrame(f Frame) string {
	if f.Channel.Binary() {
		return string(f.Channel) + ":" + hex.EncodeToString(f.Payload)
	}
	return string(f.Channel) + ":" + string(f.Payload)
}
