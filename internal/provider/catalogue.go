package provider

import "slices"

// Neutral model ids offered to callers.
const (
	ModelTextFlash  = "google/gemini-2.5-flash"
	ModelTextPro    = "google/gemini-3-pro-preview"
	ModelImageFlash = "google/gemini-2.5-flash-image-preview"
	ModelImagePro   = "google/gemini-3-pro-image-preview"
)

var (
	AspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}
	OutputSizes  = []string{"1K", "2K", "4K"}
)

// ValidAspectRatio reports whether s is empty or a supported ratio.
func ValidAspectRatio(s string) bool {
	return s == "" || slices.Contains(AspectRatios, s)
}

func ValidOutputSize(s string) bool {
	return s == "" || slices.Contains(OutputSizes, s)
}
