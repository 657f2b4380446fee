package model

// SequenceStep is one drip step, due OffsetDays after the recipient registered.
type SequenceStep struct {
	OffsetDays int
	Name       string
	// Templates maps a concrete channel to the template sent on it.
	Templates map[Channel]string
}

// SequenceDefinition is an ordered list of steps, compiled into the binary.
type SequenceDefinition struct {
	Name  string
	Steps []SequenceStep
}

// DueStep is a step that is due for one recipient on one channel and has
// no message yet.
type DueStep struct {
	Step       SequenceStep
	Channel    Channel
	TemplateID string
}
