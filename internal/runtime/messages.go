package runtime

// Texts holds the user-facing copy the engine sends on its own.
type Texts struct {
	Help          string
	Apology       string
	NotUnderstood string
	InviteTitle   string
	InviteBody    string
	Accept        string
	Decline       string
	Declined      string
	RatingMore    string
	RatingInvalid string
	Comment       string
	Thanks        string
	Finished      string
	Summary       string
	LookupMissing string
}

// DefaultTexts returns the built-in English copy.
func DefaultTexts() Texts {
	return Texts{
		Help:          "There is no open conversation for this number. We will reach out when there is something to answer.",
		Apology:       "Sorry, something went wrong on our side. Please try again in a moment.",
		NotUnderstood: "Sorry, I did not understand that.",
		InviteTitle:   "Quick survey",
		InviteBody:    "Would you answer a few short questions?",
		Accept:        "Yes",
		Decline:       "No, thanks",
		Declined:      "No problem. Have a good day!",
		RatingMore:    "Or pick:",
		RatingInvalid: "Please answer with a number from 1 to 5.",
		Comment:       "Anything else you would like to tell us? Reply with a short comment.",
		Thanks:        "Thank you for your answers!",
		Finished:      "This conversation has already finished. Thank you!",
		Summary:       "Thanks! Here is what we recorded:",
		LookupMissing: "We could not find that code. Please check it and send it again.",
	}
}
