package codec

import (
	pionopus "github.com/pion/opus"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"
)

// BandwidthForSampleRate returns the widest Opus bandwidth a device running
// at sampleRate can reproduce.
func BandwidthForSampleRate(sampleRate int) pionopus.Bandwidth {
	var bandwidth pionopus.Bandwidth
	switch {
	case sampleRate <= 0:
		bandwidth = pionopus.BandwidthFullband
	case sampleRate < 12000:
		bandwidth = pionopus.BandwidthNarrowband
	case sampleRate < 16000:
		bandwidth = pionopus.BandwidthMediumband
	case sampleRate < 24000:
		bandwidth = pionopus.BandwidthWideband
	case sampleRate < 40000:
		bandwidth = pionopus.BandwidthSuperwideband
	default:
		bandwidth = pionopus.BandwidthFullband
	}

	logrus.WithFields(logrus.Fields{
		"function":    "BandwidthForSampleRate",
		"sample_rate": sampleRate,
		"bandwidth":   bandwidth.String(),
	}).Debug("Sample rate mapped to Opus bandwidth")

	return bandwidth
}

// hrabanBandwidth converts to the binding's bandwidth constants.
func hrabanBandwidth(b pionopus.Bandwidth) opus.Bandwidth {
	switch b {
	case pionopus.BandwidthNarrowband:
		return opus.Narrowband
	case pionopus.BandwidthMediumband:
		return opus.Mediumband
	case pionopus.BandwidthWideband:
		return opus.Wideband
	case pionopus.BandwidthSuperwideband:
		return opus.SuperWideband
	default:
		return opus.Fullband
	}
}
