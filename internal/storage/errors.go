package storage

import "errors"

// Kind classifies a storage failure. The set is closed: callers match on
// kinds instead of comparing error strings.
type Kind int

const (
	// KindUpstream wraps any transport or provider failure with no more
	// specific classification (auth failure, network failure, malformed
	// response).
	KindUpstream Kind = iota

	// KindNotFound means the object does not exist.
	KindNotFound

	// KindPayloadTooLarge means an upload exceeded the size ceiling.
	KindPayloadTooLarge

	// KindTimeout means the operation timeout elapsed before the
	// provider answered.
	KindTimeout

	// KindConfig means the backend configuration is unusable. Raised at
	// construction: a misconfigured backend refuses to start instead of
	// failing on first use.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPayloadTooLarge:
		return "payload too large"
	case KindTimeout:
		return "timeout"
	case KindConfig:
		return "configuration error"
	default:
		return "upstream error"
	}
}

// Error is a classified storage failure.
type Error struct {
	Kind Kind
	Op   string // failing operation: "open", "put", "stat", ...
	Key  string // object key, when one applies

	// Status holds the upstream HTTP status when the provider returned
	// one (412, 416, ...). Zero otherwise.
	Status int

	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a storage error with KindNotFound.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// IsPayloadTooLarge reports whether err is a storage error with
// KindPayloadTooLarge.
func IsPayloadTooLarge(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindPayloadTooLarge
}

// IsTimeout reports whether err is a storage error with KindTimeout.
func IsTimeout(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTimeout
}
