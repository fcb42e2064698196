package errors

import "net/http"

// ClassifyStatus maps a backend HTTP response status to the sync error
// taxonomy. 401/403 pause delivery, other 4xx rejects permanently, and
// everything transport-shaped stays retryable.
func ClassifyStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthExpired
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusRequestTimeout:
		return CodeTransient
	case status >= 400 && status < 500:
		return CodeUploadRejected
	case status >= 500:
		return CodeTransient
	default:
		return CodeInternal
	}
}
