package enums

// AuthorizationStatus tracks the local view of a provider charge authorization.
type AuthorizationStatus string

const (
	AuthorizationStatusActive    AuthorizationStatus = "active"
	AuthorizationStatusSucceeded AuthorizationStatus = "succeeded"
	AuthorizationStatusFailed    AuthorizationStatus = "failed"
)

// String implements fmt.Stringer.
func (s AuthorizationStatus) String() string {
	return string(s)
}
