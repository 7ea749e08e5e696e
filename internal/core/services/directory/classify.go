package directory

import (
	"strings"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// Bluetooth base UUID suffix; 16-bit service ids expand to 0000XXXX + suffix.
const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// Class of Device fields.
const (
	codMajorMask     = 0x1f00
	codMajorAudio    = 0x0400
	codServiceAudio  = 0x200000
	codServiceRender = 0x040000
)

// audioServices lists 16-bit service ids that imply audio.
var audioServices = map[string]string{
	"1108": "Headset",
	"1112": "Headset AG",
	"110a": "Audio Source",
	"110b": "Audio Sink",
	"110c": "A/V Remote Control Target",
	"110d": "Advanced Audio Distribution",
	"110e": "A/V Remote Control",
	"111e": "Handsfree",
	"111f": "Handsfree AG",
	"1131": "Headset HS",
	"1844": "Volume Control",
	"184e": "Audio Stream Control",
	"184f": "Broadcast Audio Scan",
	"1850": "Published Audio Capabilities",
	"1853": "Common Audio",
}

// IsAudioCapable reports whether the service UUIDs or class bits describe an
// audio device.
func IsAudioCapable(d domain.PairedDevice) bool {
	for _, u := range d.UUIDs {
		if _, ok := audioServices[shortUUID(u)]; ok {
			return true
		}
	}
	if d.ClassBits&codMajorMask == codMajorAudio {
		return true
	}
	return d.ClassBits&codServiceAudio != 0 && d.ClassBits&codServiceRender != 0
}

// shortUUID reduces a base-UUID service id to its 16-bit hex form.
func shortUUID(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 36 && strings.HasSuffix(u, baseUUIDSuffix) && strings.HasPrefix(u, "0000") {
		return u[4:8]
	}
	return u
}
