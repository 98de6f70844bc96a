package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFProbe is the MediaProbe backed by the ffprobe executable.
type FFProbe struct{}

func NewFFProbe() *FFProbe {
	return &FFProbe{}
}

func (p *FFProbe) Analyze(ctx context.Context, filePath string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	hideWindow(cmd)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AnalysisError{Path: filePath, Err: ctx.Err()}
		}
		// ffprobe rejects anything it cannot demux
		return nil, &ValidationError{Path: filePath, Reason: "not a readable media file"}
	}

	var result struct {
		Format struct {
			Duration string            `json:"duration"`
			Size     string            `json:"size"`
			BitRate  string            `json:"bit_rate"`
			Tags     map[string]string `json:"tags"`
		} `json:"format"`
		Streams []struct {
			CodecType     string            `json:"codec_type"`
			CodecName     string            `json:"codec_name"`
			Width         int               `json:"width"`
			Height        int               `json:"height"`
			Duration      string            `json:"duration"`
			BitRate       string            `json:"bit_rate"`
			RFrameRate    string            `json:"r_frame_rate"`
			AvgFrameRate  string            `json:"avg_frame_rate"`
			SampleRate    string            `json:"sample_rate"`
			Channels      int               `json:"channels"`
			ChannelLayout string            `json:"channel_layout"`
			Tags          map[string]string `json:"tags"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(output, &result); err != nil {
		return nil, &AnalysisError{Path: filePath, Err: fmt.Errorf("failed to parse ffprobe output: %v", err)}
	}

	hasVideo := false
	for _, stream := range result.Streams {
		if stream.CodecType == "video" {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return nil, &ValidationError{Path: filePath, Reason: "no video stream"}
	}

	mediaInfo := &MediaInfo{
		General: make(map[string]string),
		Video:   make(map[string]string),
		Audio:   make(map[string]string),
	}

	mediaInfo.General["duration"] = result.Format.Duration
	mediaInfo.General["size"] = result.Format.Size
	mediaInfo.General["bit_rate"] = result.Format.BitRate

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			mediaInfo.Video["codec_name"] = stream.CodecName
			if stream.Width > 0 {
				mediaInfo.Video["width"] = strconv.Itoa(stream.Width)
			}
			if stream.Height > 0 {
				mediaInfo.Video["height"] = strconv.Itoa(stream.Height)
			}
			if stream.Duration != "" {
				mediaInfo.Video["duration"] = stream.Duration
			}
			if stream.BitRate != "" {
				mediaInfo.Video["bit_rate"] = stream.BitRate
			}
			if stream.BitRate == "" && stream.Tags != nil {
				if br, ok := stream.Tags["BPS"]; ok {
					mediaInfo.Video["bit_rate"] = br
				}
			}

			if stream.RFrameRate != "" {
				mediaInfo.Video["r_frame_rate"] = stream.RFrameRate
				if fps := parseFrameRate(stream.RFrameRate); fps > 0 {
					mediaInfo.Video["fps_decimal"] = fmt.Sprintf("%.3f", fps)
				}
			}
			if stream.AvgFrameRate != "" {
				mediaInfo.Video["avg_frame_rate"] = stream.AvgFrameRate
			}

		case "audio":
			mediaInfo.Audio["codec_name"] = stream.CodecName
			if stream.Duration != "" {
				mediaInfo.Audio["duration"] = stream.Duration
			}
			if stream.BitRate != "" {
				mediaInfo.Audio["bit_rate"] = stream.BitRate
			}
			if stream.BitRate == "" && stream.Tags != nil {
				if br, ok := stream.Tags["BPS"]; ok {
					mediaInfo.Audio["bit_rate"] = br
				}
			}

			if stream.SampleRate != "" {
				mediaInfo.Audio["sample_rate"] = stream.SampleRate
			}
			if stream.Channels > 0 {
				mediaInfo.Audio["channels"] = strconv.Itoa(stream.Channels)
			}
			if stream.ChannelLayout != "" {
				mediaInfo.Audio["channel_layout"] = stream.ChannelLayout
			}
		}
	}

	return mediaInfo, nil
}

func parseFrameRate(frameRate string) float64 {
	if frameRate == "" || frameRate == "0/0" {
		return 0
	}

	parts := strings.Split(frameRate, "/")
	if len(parts) != 2 {
		return 0
	}

	numerator, err1 := strconv.ParseFloat(parts[0], 64)
	denominator, err2 := strconv.ParseFloat(parts[1], 64)

	if err1 != nil || err2 != nil || denominator == 0 {
		return 0
	}

	return numerator / denominator
}
