package backend

import (
	"fmt"
	"strconv"
	"time"
)

// applyMediaInfo fills a movie's metadata fields and template params from a
// probe result.
func applyMediaInfo(movie *Movie, mediaInfo *MediaInfo) {
	if movie.Params == nil {
		movie.Params = make(map[string]string)
	}

	if duration, ok := mediaInfo.General["duration"]; ok {
		if dur, err := strconv.ParseFloat(duration, 64); err == nil {
			movie.DurationFormatted = FormatDuration(time.Duration(dur * float64(time.Second)))
			movie.Duration = dur
		}
	}

	if width, ok := mediaInfo.Video["width"]; ok {
		movie.Width = width
	}
	if height, ok := mediaInfo.Video["height"]; ok {
		movie.Height = height
	}

	// Stream bitrates are often missing; estimate from the overall rate.
	if bitRate, ok := mediaInfo.Video["bit_rate"]; ok && bitRate != "" {
		movie.VideoBitRate = FormatBitRate(bitRate)
	} else if overallBitRateStr, ok := mediaInfo.General["bit_rate"]; ok && overallBitRateStr != "" {
		if overall, err := strconv.ParseFloat(overallBitRateStr, 64); err == nil {
			estimatedVideoBitRate := overall * 0.8
			movie.VideoBitRate = FormatBitRate(fmt.Sprintf("%.0f", estimatedVideoBitRate))
		}
	}

	if bitRate, ok := mediaInfo.Audio["bit_rate"]; ok && bitRate != "" {
		movie.AudioBitRate = FormatBitRate(bitRate)
	} else if overallBitRateStr, ok := mediaInfo.General["bit_rate"]; ok && overallBitRateStr != "" {
		if overall, err := strconv.ParseFloat(overallBitRateStr, 64); err == nil {
			estimatedAudioBitRate := overall * 0.1
			movie.AudioBitRate = FormatBitRate(fmt.Sprintf("%.0f", estimatedAudioBitRate))
		}
	}

	if codec, ok := mediaInfo.Video["codec_name"]; ok {
		movie.VideoCodec = codec
	}
	if codec, ok := mediaInfo.Audio["codec_name"]; ok {
		movie.AudioCodec = codec
	}
	if overallBitRate, ok := mediaInfo.General["bit_rate"]; ok {
		movie.BitRate = FormatBitRate(overallBitRate)
	}

	if rFrameRate, ok := mediaInfo.Video["r_frame_rate"]; ok {
		movie.Params["%VIDEO_FPS_FRACTIONAL%"] = rFrameRate
	}
	if fpsDecimal, ok := mediaInfo.Video["fps_decimal"]; ok {
		movie.Params["%VIDEO_FPS%"] = fpsDecimal
	}

	if sampleRate, ok := mediaInfo.Audio["sample_rate"]; ok {
		movie.Params["%AUDIO_SAMPLE_RATE%"] = formatSampleRate(sampleRate)
	}
	if channels, ok := mediaInfo.Audio["channels"]; ok {
		movie.Params["%AUDIO_CHANNELS%"] = formatChannels(channels)
	}

	// Raw probed values stay addressable as %Section@key% tokens.
	for key, value := range mediaInfo.General {
		movie.Params[fmt.Sprintf("%%General@%s%%", key)] = value
	}
	for key, value := range mediaInfo.Video {
		movie.Params[fmt.Sprintf("%%Video@%s%%", key)] = value
	}
	for key, value := range mediaInfo.Audio {
		movie.Params[fmt.Sprintf("%%Audio@%s%%", key)] = value
	}
}
