package antidetect

import (
	"fmt"
	"math/rand"
)

// Fingerprint is the stable device identity a campaign advertises to the
// chat gateway. Issued once per campaign and held until rotated.
type Fingerprint struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	OSVersion    string `json:"os_version"`
	AppVersion   string `json:"app_version"`
	UserAgent    string `json:"user_agent"`
	DeviceID     string `json:"device_id"`
	Generation   int    `json:"generation"`
}

// deviceDescriptor is one entry of the fixed device pool.
type deviceDescriptor struct {
	manufacturer string
	model        string
	osVersion    string
}

// devicePool holds common mid-market handsets. Picking from a fixed pool of
// real devices avoids the impossible manufacturer/OS combinations that a
// fully random fingerprint would produce.
var devicePool = []deviceDescriptor{
	{"Samsung", "SM-G991B", "Android 13"},
	{"Samsung", "SM-A525F", "Android 12"},
	{"Samsung", "SM-S918B", "Android 14"},
	{"Xiaomi", "Redmi Note 12", "Android 13"},
	{"Xiaomi", "M2101K6G", "Android 12"},
	{"Motorola", "moto g(60)", "Android 12"},
	{"Motorola", "moto g84 5G", "Android 14"},
	{"Google", "Pixel 7", "Android 14"},
	{"Google", "Pixel 6a", "Android 13"},
	{"OnePlus", "CPH2409", "Android 13"},
	{"OPPO", "CPH2219", "Android 12"},
	{"realme", "RMX3630", "Android 13"},
}

var appVersions = []string{
	"2.24.18.79",
	"2.24.20.81",
	"2.24.21.78",
	"2.25.1.75",
	"2.25.2.72",
}

const deviceIDAlphabet = "abcdef0123456789"

func newFingerprint(rng *rand.Rand, generation int) *Fingerprint {
	dev := devicePool[rng.Intn(len(devicePool))]
	app := appVersions[rng.Intn(len(appVersions))]

	id := make([]byte, 16)
	for i := range id {
		id[i] = deviceIDAlphabet[rng.Intn(len(deviceIDAlphabet))]
	}

	return &Fingerprint{
		Manufacturer: dev.manufacturer,
		Model:        dev.model,
		OSVersion:    dev.osVersion,
		AppVersion:   app,
		UserAgent: fmt.Sprintf("Chat/%s %s/%s Device/%s",
			app, dev.osVersion, dev.manufacturer, dev.model),
		DeviceID:   string(id),
		Generation: generation,
	}
}
