package templates

import "github.com/nimasrn/outreach-engine/internal/model"

// Default returns the registry with the built-in drip copy.
func Default() *Registry {
	optional := []string{"name"}
	return NewRegistry(
		Template{ID: "welcome_sms", Channel: model.ChannelSMS, Optional: optional,
			Body: "Hi {name}, congratulations on registering {business_name}. Reply STOP to opt out."},
		Template{ID: "welcome_email", Channel: model.ChannelEmail, Optional: optional,
			Subject: "Welcome, {business_name}",
			Body:    "Hi {name},\n\nCongratulations on registering {business_name} in {state}. We help new businesses get set up in their first weeks.\n"},
		Template{ID: "day1_sms", Channel: model.ChannelSMS, Optional: optional,
			Body: "{business_name}: your first filing checklist is ready. Reply STOP to opt out."},
		Template{ID: "day1_email", Channel: model.ChannelEmail, Optional: optional,
			Subject: "Your first-week checklist for {business_name}",
			Body:    "Hi {name},\n\nHere is what most businesses in {state} take care of during their first week.\n"},
		Template{ID: "day3_sms", Channel: model.ChannelSMS, Optional: optional,
			Body: "Still setting up {business_name}? We can help. Reply STOP to opt out."},
		Template{ID: "day3_email", Channel: model.ChannelEmail, Optional: optional,
			Subject: "Still setting up {business_name}?",
			Body:    "Hi {name},\n\nA few days in, these are the questions we hear most from new {business_type} owners.\n"},
		Template{ID: "day7_email", Channel: model.ChannelEmail, Optional: optional,
			Subject: "One week in",
			Body:    "Hi {name},\n\n{business_name} is one week old. Here is a short list of what usually comes next.\n"},
	)
}
