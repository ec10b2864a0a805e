// Package similarity scores generated narrations against the reference voice
// and buckets the score into user-facing quality tiers.
//
// Scores are informational. A low tier changes the guidance shown next to the
// narration; it never withholds the audio.
package similarity

// Tier boundaries. A score below RejectBelow is "reject", below LowBelow is
// "low", below ModerateBelow is "moderate", everything else "accept".
const (
	RejectBelow   = 0.60
	LowBelow      = 0.75
	ModerateBelow = 0.85

	// OKThreshold is sent to the embedding worker as its pass/fail threshold.
	OKThreshold = 0.82
)

// Tier is a quality bucket.
type Tier string

const (
	TierReject   Tier = "reject"
	TierLow      Tier = "low"
	TierModerate Tier = "moderate"
	TierAccept   Tier = "accept"
)

var guidance = map[Tier]string{
	TierReject:   "The generated voice clearly differs from your samples. Re-record 2–3 clean samples of 30–50 seconds in a quiet room and create a new profile.",
	TierLow:      "The voice is close but not convincing. Adding longer or cleaner reference recordings usually helps.",
	TierModerate: "The voice is recognisable but timbre or accent may differ noticeably.",
	TierAccept:   "The generated voice closely matches your samples.",
}

// Classify buckets score into a [Tier].
func Classify(score float64) Tier {
	switch {
	case score < RejectBelow:
		return TierReject
	case score < LowBelow:
		return TierLow
	case score < ModerateBelow:
		return TierModerate
	default:
		return TierAccept
	}
}

// Guidance returns the user-facing advice for t.
func (t Tier) Guidance() string {
	return guidance[t]
}
