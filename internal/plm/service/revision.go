package service

import (
	"fmt"

	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
)

// revisionRanges are the alphabets a revision label's last character may step through.
var revisionRanges = [][2]byte{
	{'A', 'Z'},
	{'a', 'z'},
	{'0', '9'},
}

// NextRevision advances the final character of label by one within its range:
// "A" -> "B", "A9" -> overflow, "" -> "B". A final "Z", "z" or "9" has no
// successor and yields ErrRevisionOverflow.
func NextRevision(label string) (string, error) {
	if label == "" {
		return "B", nil
	}
	last := label[len(label)-1]
	for _, r := range revisionRanges {
		if last < r[0] || last > r[1] {
			continue
		}
		if last == r[1] {
			return "", fmt.Errorf("%w: %q has no successor", plmerr.ErrRevisionOverflow, label)
		}
		return label[:len(label)-1] + string(last+1), nil
	}
	return "", plmerr.Validation("revision label %q must end in a letter or digit", label)
}
