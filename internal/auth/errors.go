package auth

// AuthenticationError is returned when consent or token acquisition fails,
// or when the held credential has expired. Payload is the provider's error
// as received. The user has to retry interactively; nothing retries on its own.
type AuthenticationError struct {
	Payload string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Payload
}

func (e *AuthenticationError) Unwrap() error { return e.Err }
