package channels

const defaultBufferSize = 64

// EventChannelsConfig configures buffer sizes for event channels
type EventChannelsConfig struct {
	PollingStateBufferSize int `yaml:"polling_state_buffer_size" validate:"min=0"`
	OutcomeBufferSize      int `yaml:"outcome_buffer_size" validate:"min=0"`
	CredentialBufferSize   int `yaml:"credential_buffer_size" validate:"min=0"`
	StatusBufferSize       int `yaml:"status_buffer_size" validate:"min=0"`
}

// ApplyDefaults fills unset buffer sizes
func (c *EventChannelsConfig) ApplyDefaults() {
	for _, size := range []*int{
		&c.PollingStateBufferSize,
		&c.OutcomeBufferSize,
		&c.CredentialBufferSize,
		&c.StatusBufferSize,
	} {
		if *size <= 0 {
			*size = defaultBufferSize
		}
	}
}
