// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by sync workers; the loyalty backend clients carry
// their own per-tier timeout.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
