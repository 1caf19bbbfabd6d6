package subscription

var transitions = map[Status][]Status{
	StatusIncomplete: {StatusActive, StatusTrialing, StatusIncompleteExpired, StatusCanceled},
	StatusTrialing:   {StatusActive, StatusPastDue, StatusCanceled, StatusUnpaid, StatusPaused},
	StatusActive:     {StatusPastDue, StatusCanceled, StatusUnpaid, StatusPaused, StatusTrialing},
	StatusPastDue:    {StatusActive, StatusCanceled, StatusUnpaid},
	StatusUnpaid:     {StatusActive, StatusPastDue, StatusCanceled},
	StatusPaused:     {StatusActive, StatusCanceled},
}

// CanTransition reports whether a subscription may move from one status to
// another. The empty status stands for "no record yet" and may go anywhere;
// a status may always be re-applied to itself.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == "" || from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
