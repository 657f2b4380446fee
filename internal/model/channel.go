package model

// Channel is a delivery transport.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	// ChannelBoth is only valid on a campaign; every message carries a concrete channel.
	ChannelBoth Channel = "both"
	// ChannelAll is only valid on an opt-out and blocks every channel.
	ChannelAll Channel = "all"
)

// Expand returns the concrete channels a campaign channel stands for.
func (c Channel) Expand() []Channel {
	switch c {
	case ChannelBoth:
		return []Channel{ChannelSMS, ChannelEmail}
	case ChannelSMS, ChannelEmail:
		return []Channel{c}
	}
	return nil
}

func (c Channel) Includes(other Channel) bool {
	for _, ch := range c.Expand() {
		if ch == other {
			return true
		}
	}
	return false
}
