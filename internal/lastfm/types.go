package lastfm

import "fmt"

// API error codes as documented by the scrobbling service.
const (
	CodeInvalidService    = 2
	CodeInvalidMethod     = 3
	CodeAuthFailed        = 4
	CodeInvalidFormat     = 5
	CodeInvalidParameters = 6
	CodeInvalidResource   = 7
	CodeOperationFailed   = 8
	CodeInvalidSessionKey = 9
	CodeInvalidAPIKey     = 10
	CodeServiceOffline    = 11
	CodeInvalidSignature  = 13
	CodeAPIKeySuspended   = 26
	CodeRateLimited       = 29
)

// APIError is an error response from the remote API, typed by its numeric
// code so callers can distinguish a revoked credential from a transient
// failure.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lastfm error %d: %s", e.Code, e.Message)
}

// SessionInvalid reports whether the error means the stored session key is no
// longer valid and the user must re-authenticate.
func (e *APIError) SessionInvalid() bool {
	return e.Code == CodeInvalidSessionKey
}

// Session is the long-lived credential returned by the auth token exchange.
type Session struct {
	Username   string
	Key        string
	Subscriber bool
}

// TrackInfo carries the track fields of a now-playing or scrobble request.
// Artist and Track are required; the zero value of every other field means
// "absent", and absent fields are omitted from the signed parameter set
// entirely rather than sent empty.
type TrackInfo struct {
	Artist      string
	Track       string
	Album       string
	AlbumArtist string
	TrackNumber int
	Duration    int // seconds
}

// ScrobbleResult is the outcome of an accepted scrobble submission. Ignored
// means the server accepted the request but chose not to record the play.
type ScrobbleResult struct {
	Ignored bool
}
