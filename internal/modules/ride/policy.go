// README: Authorization policy binding each transition to the actors allowed to fire it.
package ride

// Authorize decides whether actor may attempt tr on r. It runs before the state
// machine so an unauthorized caller learns nothing about the ride's status.
// r is nil for TransitionRequest.
func Authorize(actor Actor, tr Transition, r *Ride) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return forbidden(actor, string(tr))
	}
	switch tr {
	case TransitionRequest:
		if actor.Role == RoleRider {
			return nil
		}
	case TransitionAccept:
		// Any driver may try; the conditional write picks the winner.
		if actor.Role == RoleDriver {
			return nil
		}
	case TransitionStart, TransitionComplete:
		if r != nil && actor.Role == RoleDriver && r.IsDriver(actor.ID) {
			return nil
		}
	case TransitionCancel:
		if r != nil && r.Involves(actor) {
			return nil
		}
	}
	return forbidden(actor, string(tr))
}

// CanView reports whether actor may read r. Any driver may see an open request.
func CanView(actor Actor, r *Ride) bool {
	if r.Involves(actor) {
		return true
	}
	return actor.Role == RoleDriver && actor.ID != "" && r.Status == StatusRequested
}
