// Package channels implements typed notification channels for the polling
// engine.
//
// Each event type has its own buffered channel. Producers publish through the
// Publish* methods, which never block the polling loop:
//
//	events := channels.NewEventChannels(channels.EventChannelsConfig{}, logger)
//	defer events.Close()
//
//	events.PublishPollingState(channels.PollingStateEvent{TargetID: "web-1", Enabled: true})
//
// Consumers range over the channels they care about:
//
//	for event := range events.CredentialInvalidated {
//	    // ask the user for a new secret
//	}
//
// # Graceful Shutdown
//
// Close closes every channel, so range loops end. Publishing after Close is a
// silent no-op.
//
//	select {
//	case <-events.Done():
//	    // shutdown initiated
//	}
package channels
