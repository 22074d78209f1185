// Package validate enforces the per-batch and per-file upload constraints.
// Validation is pure: it never touches the rate limiter, the dispatcher, or
// any store, and re-running it over the same bytes yields the same result.
package validate

import (
	"fmt"
	"net/http"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
)

// sniffLen is how many leading bytes feed the content-type detector.
// http.DetectContentType never reads more than 512.
const sniffLen = 512

// Limits are the configured ceilings a batch is checked against.
type Limits struct {
	MaxFilesPerRequest int
	MaxBytesPerFile    int64
	AcceptedTypes      []string
}

// Violation describes one failed check, tagged with the offending filename.
// Batch-level violations carry an empty filename.
type Violation struct {
	Filename string `json:"filename,omitempty"`
	Reason   string `json:"reason"`
}

// CheckBatch validates a batch against the limits and returns nil when the
// batch is admissible, or every violation found.
//
// The honeypot check runs first and short-circuits: a populated honeypot
// invalidates the whole batch before any per-file inspection, so bot traffic
// is rejected without consuming quota downstream. The honeypot is a
// heuristic against naive automation, not a security boundary.
func CheckBatch(batch domain.UploadBatch, limits Limits) []Violation {
	if batch.Honeypot != "" {
		return []Violation{{Reason: domain.ErrHoneypot.Error()}}
	}

	var violations []Violation

	if len(batch.Files) == 0 {
		return []Violation{{Reason: "no images provided"}}
	}
	if len(batch.Files) > limits.MaxFilesPerRequest {
		// Batch-level rejection: no file of an oversized batch is admitted.
		return []Violation{{Reason: fmt.Sprintf("too many files in one request (max %d)", limits.MaxFilesPerRequest)}}
	}

	for _, f := range batch.Files {
		if int64(len(f.Data)) > limits.MaxBytesPerFile {
			violations = append(violations, Violation{
				Filename: f.Filename,
				Reason:   fmt.Sprintf("file too large (>%d bytes)", limits.MaxBytesPerFile),
			})
			continue
		}
		if mime := SniffType(f.Data); !accepted(mime, limits.AcceptedTypes) {
			violations = append(violations, Violation{
				Filename: f.Filename,
				Reason:   fmt.Sprintf("unsupported file type: %s", mime),
			})
		}
	}

	return violations
}

// SniffType detects the content type from the file's actual bytes. Declared
// headers and filename extensions are ignored; they are trivially spoofed.
func SniffType(data []byte) string {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return http.DetectContentType(data)
}

func accepted(mime string, acceptedTypes []string) bool {
	for _, t := range acceptedTypes {
		if mime == t {
			return true
		}
	}
	return false
}
