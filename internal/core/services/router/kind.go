package router

import (
	"strings"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// Class of Device audio/video minor classes.
const (
	codMajorMask   = 0x1f00
	codMajorAudio  = 0x0400
	minorHeadset   = 0x01
	minorHandsFree = 0x02
	minorSpeaker   = 0x05
	minorHeadphone = 0x06
	minorPortable  = 0x07
	minorCarAudio  = 0x08
	minorHiFi      = 0x0a
)

var (
	overEarHints = []string{"airpods max", "headphone", "wh-", "qc35", "qc45", "quietcomfort", "studio", "over-ear"}
	earbudHints  = []string{"buds", "pods", "earbud", "earphone", "in-ear", "wf-"}
	headsetHints = []string{"headset", "hands-free", "handsfree"}
	speakerHints = []string{"speaker", "boom", "soundlink", "flip", "charge", "soundbar", "homepod"}
)

// InferKind guesses the accessory kind from its name, then from its class bits.
func InferKind(name string, classBits uint32) domain.AccessoryKind {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, overEarHints):
		return domain.KindOverEarHeadphones
	case containsAny(n, earbudHints):
		return domain.KindEarbuds
	case containsAny(n, headsetHints):
		return domain.KindHeadset
	case containsAny(n, speakerHints):
		return domain.KindSpeaker
	}

	if classBits&codMajorMask != codMajorAudio {
		return domain.KindGeneric
	}
	switch (classBits >> 2) & 0x3f {
	case minorHeadset, minorHandsFree:
		return domain.KindHeadset
	case minorHeadphone:
		return domain.KindOverEarHeadphones
	case minorSpeaker, minorPortable, minorCarAudio, minorHiFi:
		return domain.KindSpeaker
	default:
		return domain.KindGeneric
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
