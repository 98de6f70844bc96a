package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplateBasicFields(t *testing.T) {
	movie := Movie{
		FileName: "clip.mp4",
		Width:    "1920",
		Height:   "1080",
	}

	result := RenderTemplate(movie, "%FILE_NAME% (%WIDTH%x%HEIGHT%)")
	assert.Equal(t, "clip.mp4 (1920x1080)", result)
}

func TestRenderTemplateUnknownTokensPassThrough(t *testing.T) {
	movie := Movie{FileName: "clip.mp4"}

	result := RenderTemplate(movie, "%FILE_NAME% %NOT_A_TOKEN% %ALSO_UNKNOWN%")
	assert.Equal(t, "clip.mp4 %NOT_A_TOKEN% %ALSO_UNKNOWN%", result)
}

func TestRenderTemplateAbsentArtifactsRenderEmpty(t *testing.T) {
	movie := Movie{FileName: "clip.mp4"}

	result := RenderTemplate(movie, "before %SCREENSHOTS_FP% after")
	assert.Equal(t, "before  after", result)
}

func TestRenderTemplateJoinsArtifacts(t *testing.T) {
	movie := Movie{}
	movie.addArtifact(HostFastpic, VariantScreens, "[A]")
	movie.addArtifact(HostFastpic, VariantScreens, "[B]")
	movie.addArtifact(HostFastpic, VariantScreens, "[C]")

	assert.Equal(t, "[A]\n[B]\n[C]", RenderTemplate(movie, "%SCREENSHOTS_FP%"))
	assert.Equal(t, "[A] [B] [C]", RenderTemplate(movie, "%SCREENSHOTS_FP_SPACED%"))
}

func TestRenderTemplateHostVariants(t *testing.T) {
	movie := Movie{}
	movie.addArtifact(HostImgbox, VariantContactSheet, "[sheet-thumb]")
	movie.addArtifact(HostImgbox, VariantContactSheetBig, "[sheet-big]")
	movie.addArtifact(HostHamster, VariantScreensBig, "[ham-big]")

	assert.Equal(t, "[sheet-thumb]", RenderTemplate(movie, "%CONTACT_SHEET_IB%"))
	assert.Equal(t, "[sheet-big]", RenderTemplate(movie, "%CONTACT_SHEET_IB_BIG%"))
	assert.Equal(t, "[ham-big]", RenderTemplate(movie, "%SCREENSHOTS_HAM_BIG%"))
	assert.Equal(t, "", RenderTemplate(movie, "%SCREENSHOTS_FP%"))
}

func TestRenderTemplateUsesProbedParams(t *testing.T) {
	movie := Movie{
		Params: map[string]string{
			"%VIDEO_FPS%":      "29.97",
			"%Audio@channels%": "2",
		},
	}

	result := RenderTemplate(movie, "%VIDEO_FPS% fps, %Audio@channels% ch")
	assert.Equal(t, "29.97 fps, 2 ch", result)
}

func TestRenderTemplateIsPure(t *testing.T) {
	movie := Movie{FileName: "clip.mp4"}
	movie.addArtifact(HostFastpic, VariantScreens, "[A]")

	template := "%FILE_NAME% %SCREENSHOTS_FP%"
	first := RenderTemplate(movie, template)
	second := RenderTemplate(movie, template)

	assert.Equal(t, first, second)
	assert.Equal(t, "%FILE_NAME% %SCREENSHOTS_FP%", template)
	assert.Equal(t, []string{"[A]"}, movie.artifact(HostFastpic, VariantScreens))
}

func TestPlanFromTemplateSingleHost(t *testing.T) {
	plan := planFromTemplate("%CONTACT_SHEET_FP%\n%SCREENSHOTS_FP%")

	require.Len(t, plan, 1)
	assert.Equal(t, hostPlan{ContactSheet: true, Screenshots: true}, plan[HostFastpic])
	assert.True(t, plan.needsContactSheet())
	assert.True(t, plan.needsScreenshots())
}

func TestPlanFromTemplateMultipleHosts(t *testing.T) {
	plan := planFromTemplate("%SCREENSHOTS_FP_SPACED% %SCREENSHOTS_HAM%")

	require.Len(t, plan, 2)
	assert.Contains(t, plan, HostFastpic)
	assert.Contains(t, plan, HostHamster)
	assert.NotContains(t, plan, HostImgbox)
	assert.False(t, plan.needsContactSheet())
}

func TestPlanFromTemplateNoHostTokens(t *testing.T) {
	plan := planFromTemplate("%FILE_NAME% %DURATION%")
	assert.Empty(t, plan)
}

func TestPlanFromTemplateContactSheetOnly(t *testing.T) {
	plan := planFromTemplate("%CONTACT_SHEET_IB_BIG%")

	require.Len(t, plan, 1)
	assert.True(t, plan[HostImgbox].ContactSheet)
	assert.True(t, plan.needsContactSheet())
	assert.False(t, plan.needsScreenshots())
}

func TestArtifactKey(t *testing.T) {
	assert.Equal(t, "fastpic-screens-big", ArtifactKey(HostFastpic, VariantScreensBig))
	assert.Equal(t, "hamster-album", ArtifactKey(HostHamster, VariantAlbum))
}
