// Package classifier maps raw per-student perception features to a short
// attentiveness label with a confidence score. It is pure: no state, no
// clock, no I/O.
package classifier

import (
	"fmt"

	"lookout/pkg/types"
)

// Labels produced by Classify or carried in client-derived event lists.
const (
	LabelNotVisible         = "not-visible"
	LabelEyesClosed         = "eyes-closed"
	LabelLookingAway        = "looking-away"
	LabelSpeakingOrLaughing = "speaking-or-laughing"
	LabelLookingStraight    = "looking-straight"
	LabelAttentive          = "attentive"
	LabelDrowsy             = "drowsy"
)

// Fixed thresholds and score deltas. These are not configurable per call;
// they were tuned against the face tracker the clients ship with.
const (
	baselineScore      = 0.6
	eyesClosedPenalty  = 0.5
	oneEyePenalty      = 0.25
	lookingAwayPenalty = 0.35
	speakingBonus      = 0.15
	straightBonus      = 0.3
	eyeDistThreshold   = 0.004
	lipDistThreshold   = 0.05
)

// Result is the classified outcome for one feature snapshot.
type Result struct {
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Classify maps a feature snapshot to exactly one label. The decision order
// is fixed: first match wins, and the running score carries the one-eye
// penalty into later branches. Scores are clamped to [0, 1].
func Classify(f types.Features) Result {
	if !f.FaceDetected {
		return Result{Label: LabelNotVisible, Score: 0.0, Reason: "face not detected"}
	}

	score := baselineScore

	if !f.LeftEyeOpen && !f.RightEyeOpen {
		return Result{
			Label:  LabelEyesClosed,
			Score:  clamp(score - eyesClosedPenalty),
			Reason: "both eyes closed",
		}
	}

	if !f.LeftEyeOpen || !f.RightEyeOpen {
		score -= oneEyePenalty
	}

	if f.Raw.LeftEyeDist < eyeDistThreshold && f.Raw.RightEyeDist < eyeDistThreshold {
		return Result{
			Label:  LabelLookingAway,
			Score:  clamp(score - lookingAwayPenalty),
			Reason: "eye landmarks smaller than expected (possible looking away)",
		}
	}

	if f.Raw.LipDist > lipDistThreshold {
		return Result{
			Label:  LabelSpeakingOrLaughing,
			Score:  clamp(score + speakingBonus),
			Reason: "mouth open (speaking or laughing)",
		}
	}

	if f.LeftEyeOpen && f.RightEyeOpen {
		return Result{
			Label:  LabelLookingStraight,
			Score:  clamp(score + straightBonus),
			Reason: "eyes open and landmarks within expected range",
		}
	}

	return Result{Label: LabelAttentive, Score: clamp(score), Reason: "partial attention detected"}
}

// IsAlertLabel reports whether a label warrants a standing alert entry for
// the student. Only these two labels ever appear in the alert table.
func IsAlertLabel(label string) bool {
	return label == LabelDrowsy || label == LabelLookingAway
}

// FromEvents picks the effective label from a client-derived event list.
// Priority mirrors the client tracker: drowsiness beats distraction beats
// recovery signals; an unrecognized list falls back to its first entry.
func FromEvents(events []string) (string, bool) {
	if len(events) == 0 {
		return "", false
	}
	for _, want := range []string{LabelDrowsy, LabelLookingAway, LabelLookingStraight, LabelNotVisible} {
		for _, ev := range events {
			if ev == want {
				return want, true
			}
		}
	}
	return events[0], true
}

// Sentence builds the human-readable message for a classified label.
// Purely cosmetic; the label itself is the contract.
func Sentence(studentID, label string) string {
	switch label {
	case LabelNotVisible:
		return fmt.Sprintf("%s is not visible (face not detected).", studentID)
	case LabelEyesClosed:
		return fmt.Sprintf("%s seems to have eyes closed, possibly drowsy or looking down.", studentID)
	case LabelLookingAway:
		return fmt.Sprintf("%s appears distracted / looking away.", studentID)
	case LabelSpeakingOrLaughing:
		return fmt.Sprintf("%s may be speaking or laughing.", studentID)
	case LabelLookingStraight:
		return fmt.Sprintf("%s appears to be looking at the screen.", studentID)
	case LabelDrowsy:
		return fmt.Sprintf("%s seems drowsy.", studentID)
	default:
		return fmt.Sprintf("%s status: %s.", studentID, label)
	}
}

// eventPhrases maps client-derived event names to display fragments.
var eventPhrases = map[string]string{
	"no-face":               "is not visible",
	LabelEyesClosed:         "has eyes closed",
	"one-eye-closed":        "has one eye closed",
	"mouth-open":            "has mouth open",
	LabelLookingAway:        "appears distracted / looking away",
	LabelSpeakingOrLaughing: "may be speaking or laughing",
	LabelDrowsy:             "seems drowsy",
}

// EventSentence builds the message for the first derived event, falling
// back to the raw event name when no phrase is known.
func EventSentence(studentID, event string) string {
	if phrase, ok := eventPhrases[event]; ok {
		return fmt.Sprintf("%s %s.", studentID, phrase)
	}
	return fmt.Sprintf("%s %s.", studentID, event)
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
