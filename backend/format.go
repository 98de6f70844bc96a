package backend

import (
	"fmt"
	"strconv"
	"time"
)

func formatSampleRate(sampleRateStr string) string {
	if sampleRateStr == "" {
		return ""
	}

	sampleRate, err := strconv.ParseFloat(sampleRateStr, 64)
	if err != nil {
		return sampleRateStr
	}

	if sampleRate >= 1000 {
		return fmt.Sprintf("%.1f kHz", sampleRate/1000)
	}
	return fmt.Sprintf("%.0f Hz", sampleRate)
}

func formatChannels(channelsStr string) string {
	if channelsStr == "" {
		return ""
	}

	channels, err := strconv.Atoi(channelsStr)
	if err != nil {
		return channelsStr
	}

	switch channels {
	case 1:
		return "1 channel (mono)"
	case 2:
		return "2 channels (stereo)"
	case 6:
		return "6 channels (5.1)"
	case 8:
		return "8 channels (7.1)"
	default:
		return fmt.Sprintf("%d channels", channels)
	}
}

func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func FormatBitRate(bitRateStr string) string {
	if bitRateStr == "" {
		return ""
	}

	bitRate, err := strconv.ParseFloat(bitRateStr, 64)
	if err != nil {
		return bitRateStr
	}

	kbps := bitRate / 1000
	if kbps >= 1000 {
		return fmt.Sprintf("%.1f Mbps", kbps/1000)
	}
	return fmt.Sprintf("%.0f kbps", kbps)
}

func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
