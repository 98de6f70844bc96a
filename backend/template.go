package backend

import "strings"

// hostSuffixes maps each host to the token suffix its placeholders carry.
var hostSuffixes = map[Host]string{
	HostFastpic: "FP",
	HostImgbox:  "IB",
	HostHamster: "HAM",
}

// artifactToken binds one template token to a host/variant artifact and
// the separator used to join multi-image artifacts.
type artifactToken struct {
	token     string
	host      Host
	variant   string
	separator string
}

var artifactTokens = buildArtifactTokens()

func buildArtifactTokens() []artifactToken {
	var tokens []artifactToken
	for _, host := range AllHosts {
		suffix := hostSuffixes[host]
		tokens = append(tokens,
			artifactToken{"%CONTACT_SHEET_" + suffix + "%", host, VariantContactSheet, "\n"},
			artifactToken{"%CONTACT_SHEET_" + suffix + "_BIG%", host, VariantContactSheetBig, "\n"},
			artifactToken{"%SCREENSHOTS_" + suffix + "%", host, VariantScreens, "\n"},
			artifactToken{"%SCREENSHOTS_" + suffix + "_SPACED%", host, VariantScreens, " "},
			artifactToken{"%SCREENSHOTS_" + suffix + "_BIG%", host, VariantScreensBig, "\n"},
			artifactToken{"%SCREENSHOTS_" + suffix + "_BIG_SPACED%", host, VariantScreensBig, " "},
		)
	}
	return tokens
}

// RenderTemplate substitutes the closed token set with values from one
// movie. It is pure and never fails: tokens whose underlying value is
// absent render as the empty string, and unrecognized tokens pass through
// verbatim.
func RenderTemplate(movie Movie, template string) string {
	replacements := map[string]string{
		"%FILE_NAME%":      movie.FileName,
		"%FILE_SIZE%":      movie.FileSize,
		"%DURATION%":       movie.DurationFormatted,
		"%WIDTH%":          movie.Width,
		"%HEIGHT%":         movie.Height,
		"%BIT_RATE%":       movie.BitRate,
		"%VIDEO_BIT_RATE%": movie.VideoBitRate,
		"%AUDIO_BIT_RATE%": movie.AudioBitRate,
		"%VIDEO_CODEC%":    movie.VideoCodec,
		"%AUDIO_CODEC%":    movie.AudioCodec,
	}

	for token, value := range replacements {
		template = strings.ReplaceAll(template, token, value)
	}

	for _, at := range artifactTokens {
		values := movie.artifact(at.host, at.variant)
		template = strings.ReplaceAll(template, at.token, strings.Join(values, at.separator))
	}

	// Probed extras carry their own %...% keys.
	for token, value := range movie.Params {
		if value != "" {
			template = strings.ReplaceAll(template, token, value)
		}
	}

	return template
}

// hostPlan records which artifact kinds a batch needs for one host.
type hostPlan struct {
	ContactSheet bool
	Screenshots  bool
}

// uploadPlan is the set of enabled hosts for a batch, derived from the
// current template once at batch start.
type uploadPlan map[Host]hostPlan

func (p uploadPlan) needsContactSheet() bool {
	for _, hp := range p {
		if hp.ContactSheet {
			return true
		}
	}
	return false
}

func (p uploadPlan) needsScreenshots() bool {
	for _, hp := range p {
		if hp.Screenshots {
			return true
		}
	}
	return false
}

// planFromTemplate scans the template for host placeholder suffixes and
// derives which hosts and artifact kinds the batch must produce.
func planFromTemplate(template string) uploadPlan {
	plan := make(uploadPlan)

	needsContactSheet := strings.Contains(template, "CONTACT_SHEET")
	needsScreenshots := strings.Contains(template, "SCREENSHOTS")
	if !needsContactSheet && !needsScreenshots {
		return plan
	}

	for _, host := range AllHosts {
		suffix := hostSuffixes[host]
		if !strings.Contains(template, "_"+suffix+"_") && !strings.Contains(template, "_"+suffix+"%") {
			continue
		}
		plan[host] = hostPlan{
			ContactSheet: needsContactSheet,
			Screenshots:  needsScreenshots,
		}
	}

	return plan
}
