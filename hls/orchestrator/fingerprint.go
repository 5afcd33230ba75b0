package orchestrator

import (
	"sort"
	"strings"

	"github.com/imtaco/video-rtc-exp/rooms"
)

// computeFingerprint encodes the full audio+video producer set canonically:
// one "audioId:videoId" token per candidate, sorted, joined with ";". Equal
// fingerprints mean the published set is unchanged and no rebuild is needed.
func computeFingerprint(candidates []rooms.Candidate) string {
	tokens := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tokens = append(tokens, c.AudioProducerID+":"+c.VideoProducerID)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, ";")
}
