package session

// View is everything the talk button renders.
type View struct {
	Status     State
	Message    string
	Speaking   bool
	Processing bool
	Error      string
}

// NewView returns the initial view.
func NewView() View {
	return View{Status: StateIdle}
}

// Apply folds one event into the view.
func (v View) Apply(ev Event) View {
	switch e := ev.(type) {
	case *StateChangedEvent:
		if e.From == StateActive && e.To != StateActive {
			v.Message = ""
			v.Speaking = false
			v.Processing = false
		}
		v.Status = e.To
	case *ProcessingEvent:
		v.Processing = e.Processing
	case *SpeechStartedEvent:
		v.Speaking = true
	case *SpeechEndedEvent:
		v.Speaking = false
	case *MessageEvent:
		if e.Text != "" {
			v.Message = e.Text
		}
		v.Processing = false
	case *ErrorEvent:
		v.Error = e.Message
	case *ErrorClearedEvent:
		v.Error = ""
	}
	return v
}

func (v View) ButtonLabel() string {
	switch v.Status {
	case StateConnecting:
		return "Connecting..."
	case StateActive:
		return "End Call"
	default:
		return "Talk with Assistant"
	}
}

func (v View) ButtonDisabled() bool {
	return v.Status == StateConnecting
}

// ShowMicIndicator reports whether the microphone indicator is shown.
func (v View) ShowMicIndicator() bool {
	return v.Status == StateActive
}
