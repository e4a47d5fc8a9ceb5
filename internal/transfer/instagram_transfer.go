package transfer

// Wire types of the Instagram bridge. The bridge keeps the private-API client
// and exposes login and upload calls over HTTP.

type InstagramLoginRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	VerificationCode string `json:"verification_code,omitempty"`
}

type InstagramChallengeRequest struct {
	ChallengeToken   string `json:"challenge_token"`
	Method           string `json:"method"`
	VerificationCode string `json:"verification_code"`
}

type InstagramResumeRequest struct {
	Username string `json:"username"`
	Settings []byte `json:"settings"`
}

// InstagramSession is returned by login, challenge and resume. Settings is the
// opaque client state the bridge needs to act as this session again.
type InstagramSession struct {
	UserID   string `json:"user_id"`
	Settings []byte `json:"settings"`
}

type InstagramMediaResponse struct {
	MediaID string `json:"media_id"`
}

type InstagramErrorResponse struct {
	Error struct {
		Message          string   `json:"message"`
		Type             string   `json:"type"`
		Code             int      `json:"code"`
		IsTransient      bool     `json:"is_transient"`
		TwoFactorMethods []string `json:"two_factor_methods,omitempty"`
		ChallengeToken   string   `json:"challenge_token,omitempty"`
	} `json:"error"`
}

// Error types reported by the bridge.
const (
	InstagramErrBadPassword     = "bad_password"
	InstagramErrTwoFactor       = "two_factor_required"
	InstagramErrChallenge       = "challenge_rejected"
	InstagramErrTooManyAttempts = "please_wait"
	InstagramErrLoginRequired   = "login_required"
	InstagramErrRateLimited     = "rate_limited"
	InstagramErrMediaRejected   = "media_rejected"
)
