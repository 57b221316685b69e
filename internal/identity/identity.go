// Package identity carries the acting participant's identity as issued
// by the hosted auth provider. The core never authenticates anyone
// itself; it only verifies that a presented token was signed by the
// provider and lifts the subject out of it.
package identity

// Actor is an authenticated participant. The zero value means "no
// identity" and is treated as an anonymous viewer everywhere.
type Actor struct {
	ID   string
	Name string
}

func (a Actor) IsZero() bool {
	return a.ID == ""
}
