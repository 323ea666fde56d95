package fanout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	descriptionPrefix = "Computation task "
	runMarker         = "for run "
)

// SubJob is one bounded partition of a run's feature set.
type SubJob struct {
	RunID string

	// Index is the 1-based ordinal; Total the number of sub-jobs.
	Index int
	Total int

	// Single marks the one-task form used when a run is not partitioned.
	Single bool

	FeatureIDs []string
}

// AssetName returns the export asset name of the sub-job.
func (s SubJob) AssetName() string {
	if s.Single {
		return s.RunID
	}
	return fmt.Sprintf("%s_%d", s.RunID, s.Index)
}

// NewRunToken returns a fresh run token: 32 lowercase hex characters.
func NewRunToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Description returns the task description of sub, which embeds the run
// token exactly once:
//
//	Computation task 3-12 for run 5f0c...
//	Computation task for run 5f0c...        (single-task runs)
func Description(sub SubJob) string {
	if sub.Single {
		return descriptionPrefix + runMarker + sub.RunID
	}
	return fmt.Sprintf("%s%d-%d %s%s", descriptionPrefix, sub.Index, sub.Total, runMarker, sub.RunID)
}

// ParseDescription recovers the run token and ordinal from a description
// produced by Description. FeatureIDs is left empty.
func ParseDescription(desc string) (SubJob, error) {
	rest, ok := strings.CutPrefix(desc, descriptionPrefix)
	if !ok {
		return SubJob{}, fmt.Errorf("%w: %q", ErrInvalidDescription, desc)
	}

	if token, ok := strings.CutPrefix(rest, runMarker); ok {
		if !validToken(token) {
			return SubJob{}, fmt.Errorf("%w: %q", ErrInvalidDescription, desc)
		}
		return SubJob{RunID: token, Index: 1, Total: 1, Single: true}, nil
	}

	ordinal, token, ok := strings.Cut(rest, " "+runMarker)
	if !ok || !validToken(token) {
		return SubJob{}, fmt.Errorf("%w: %q", ErrInvalidDescription, desc)
	}
	is, ts, ok := strings.Cut(ordinal, "-")
	if !ok {
		return SubJob{}, fmt.Errorf("%w: %q", ErrInvalidDescription, desc)
	}
	index, err1 := strconv.Atoi(is)
	total, err2 := strconv.Atoi(ts)
	if err1 != nil || err2 != nil || index < 1 || total < index {
		return SubJob{}, fmt.Errorf("%w: %q", ErrInvalidDescription, desc)
	}
	return SubJob{RunID: token, Index: index, Total: total}, nil
}

// MatchesRun reports whether desc carries token as its run tag. The token
// must appear right after "run " and must not be followed by another hex
// character, so one token never matches a longer one it prefixes.
func MatchesRun(desc, token string) bool {
	if token == "" {
		return false
	}
	needle := "run " + token
	for offset := 0; ; {
		i := strings.Index(desc[offset:], needle)
		if i < 0 {
			return false
		}
		end := offset + i + len(needle)
		if end == len(desc) || !isHex(desc[end]) {
			return true
		}
		offset += i + 1
	}
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) && s[i] != '-' {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
