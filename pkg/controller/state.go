package controller

// State is the behavior state.
type State int

const (
	Idle                  State = iota // Nothing scheduled, waiting for the operator
	Looking                            // Searching for a person
	LookingAt                          // Following a person with the eyes and neck
	Animating                          // Playing a scripted animation
	LookingAtAndAnimating              // Playing an animation while following a person
)

var stateNames = [...]string{
	Idle:                  "Idle",
	Looking:               "Looking",
	LookingAt:             "LookingAt",
	Animating:             "Animating",
	LookingAtAndAnimating: "LookingAtAndAnimating",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// watching reports whether the camera pipeline runs in s regardless of the
// vision stream.
func (s State) watching() bool {
	return s == Looking || s == LookingAt || s == LookingAtAndAnimating
}

// animating reports whether a rest period follows once the scheduler runs dry.
func (s State) animating() bool {
	return s == Animating || s == LookingAtAndAnimating
}
